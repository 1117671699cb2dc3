// Package pipeline is the request security pipeline: CSRF protection,
// session refresh, route classification and the two-factor gate, composed
// in a fixed order in front of the application. Every response leaving the
// pipeline carries the security header set and a per-request CSP nonce,
// rejections included.
package pipeline

import (
	"context"
	"net/http"

	"github.com/steepleworks/steeple/internal/web/domain"
	"github.com/steepleworks/steeple/pkg/cryptox"
	"github.com/steepleworks/steeple/pkg/httpx"
	"github.com/steepleworks/steeple/pkg/slogx"
)

type ctxKey int

const (
	ctxKeySession ctxKey = iota
	ctxKeyNonce
)

// SessionFromContext returns the admitted session, nil for anonymous
// requests.
func SessionFromContext(ctx context.Context) *domain.Session {
	s, _ := ctx.Value(ctxKeySession).(*domain.Session)
	return s
}

// NonceFromContext returns the per-request CSP nonce for inline scripts.
func NonceFromContext(ctx context.Context) string {
	n, _ := ctx.Value(ctxKeyNonce).(string)
	return n
}

// Pipeline runs each stage in order against an inbound request and either
// forwards it to Next or short-circuits with the stage's verdict. Stages are
// evaluated per request with no shared mutable state, so evaluations are
// independent across concurrent requests.
type Pipeline struct {
	Stages []Stage
	Next   http.Handler

	// HSTS adds Strict-Transport-Security when the deployment terminates
	// TLS in front of us.
	HSTS bool
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nonce, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		// No randomness, no request.
		p.setHeaders(w.Header(), "")
		slogx.FromContext(r.Context()).Error("failed to generate csp nonce", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "request could not be processed")
		return
	}

	// Headers go on before any stage runs so no verdict can skip them.
	p.setHeaders(w.Header(), nonce)

	pc := &Context{Request: r, Nonce: nonce}
	for _, stage := range p.Stages {
		outcome := stage.Evaluate(pc)
		switch outcome.Decision {
		case DecisionReject:
			p.applyCookies(w, pc)
			slogx.FromContext(r.Context()).Info("request rejected",
				"stage", stage.Name(), "status", outcome.Status, "reason", outcome.Code)
			httpx.WriteError(w, outcome.Status, outcome.Code, outcome.Description)
			return
		case DecisionRedirect:
			p.applyCookies(w, pc)
			http.Redirect(w, r, outcome.Location, outcome.Status)
			return
		}
	}

	p.applyCookies(w, pc)

	ctx := context.WithValue(r.Context(), ctxKeyNonce, nonce)
	if pc.Session != nil {
		ctx = context.WithValue(ctx, ctxKeySession, pc.Session)
		ctx = httpx.ContextWithSession(ctx, pc.Session.ID, pc.Session.UserID)
	}
	p.Next.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Pipeline) applyCookies(w http.ResponseWriter, pc *Context) {
	for _, ck := range pc.cookies {
		http.SetCookie(w, ck)
	}
}

func (p *Pipeline) setHeaders(h http.Header, nonce string) {
	csp := "default-src 'self'; object-src 'none'; base-uri 'self'; frame-ancestors 'none'"
	if nonce != "" {
		csp = "default-src 'self'; script-src 'self' 'nonce-" + nonce + "'; object-src 'none'; base-uri 'self'; frame-ancestors 'none'"
	}
	h.Set("Content-Security-Policy", csp)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	if p.HSTS {
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
	}
}
