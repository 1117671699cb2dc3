package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/steepleworks/steeple/internal/web/pipeline"
	"github.com/steepleworks/steeple/internal/web/service"
	"github.com/steepleworks/steeple/internal/web/store"
	"github.com/steepleworks/steeple/pkg/httpx"
	"github.com/steepleworks/steeple/pkg/slogx"
)

// CookieConfig is the session cookie contract shared by handlers that set
// or clear the credential.
type CookieConfig struct {
	SessionName string
	Secure      bool
	SessionTTL  time.Duration
}

// SessionCookie builds the session credential cookie.
func (c CookieConfig) SessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     c.SessionName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie builds an expired session cookie.
func (c CookieConfig) ClearSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.SessionName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Router holds shared dependencies for HTTP handlers and owns the route
// table. Requests enter through ServeHTTP, which runs the logging
// middleware and the security pipeline before the mux.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware
	handler     http.Handler

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store    store.Store
	Pipeline *pipeline.Pipeline
	Guard    *pipeline.CSRFGuard
	Marker   *pipeline.Marker
	Cookies  CookieConfig

	SessionService   *service.SessionService
	TwoFactorService *service.TwoFactorService
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerCSRF()
	r.registerSessions()
	r.registerTwoFactor()
	r.registerAuth()
	r.registerSystem()
	r.registerApp()

	// Composed once; ServeHTTP must not rebuild the chain per request.
	r.handler = httpx.Chain(r.Pipeline, r.middlewares...)
}

// ServeHTTP runs logging, then the security pipeline, then the mux. The
// pipeline's Next is the mux, so every route below is behind it.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) registerCSRF() {
	h := &CSRFHandler{Guard: r.Guard}

	// GET /csrf - public; browsers fetch a token before their first unsafe
	// request.
	r.Mux.Handle("GET /csrf",
		httpx.Chain(http.HandlerFunc(h.HandleIssue),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{Sessions: r.SessionService}

	// GET /v1/sessions - list the caller's active sessions
	r.Mux.Handle("GET /v1/sessions",
		httpx.Chain(http.HandlerFunc(h.HandleList),
			httpx.RateLimitBySession(httpx.LenientLimit),
		),
	)

	// POST /v1/sessions/revoke-others - keep this device, drop the rest
	r.Mux.Handle("POST /v1/sessions/revoke-others",
		httpx.Chain(http.HandlerFunc(h.HandleRevokeOthers),
			httpx.RateLimitBySession(httpx.ModerateLimit),
		),
	)

	// POST /v1/sessions/extend - the idle countdown's extend action
	r.Mux.Handle("POST /v1/sessions/extend",
		httpx.Chain(http.HandlerFunc(h.HandleExtend),
			httpx.RateLimitBySession(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerTwoFactor() {
	h := &TwoFactorHandler{
		TwoFactor: r.TwoFactorService,
		Sessions:  r.SessionService,
		Marker:    r.Marker,
		Cookies:   r.Cookies,
	}

	// POST /v1/2fa/enroll - start enrollment, returns secret + otpauth URL
	r.Mux.Handle("POST /v1/2fa/enroll",
		httpx.Chain(http.HandlerFunc(h.HandleEnroll),
			httpx.RateLimitBySession(httpx.ModerateLimit),
		),
	)

	// POST /v1/2fa/verify - strict: this is the code brute-force surface
	r.Mux.Handle("POST /v1/2fa/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.RateLimitBySession(httpx.StrictLimit),
		),
	)

	// POST /v1/2fa/backup-codes - regenerate, invalidating the old set
	r.Mux.Handle("POST /v1/2fa/backup-codes",
		httpx.Chain(http.HandlerFunc(h.HandleBackupCodes),
			httpx.RateLimitBySession(httpx.StrictLimit),
		),
	)

	// DELETE /v1/2fa - turn two-factor off
	r.Mux.Handle("DELETE /v1/2fa",
		httpx.Chain(http.HandlerFunc(h.HandleDisable),
			httpx.RateLimitBySession(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerAuth() {
	signout := &SignoutHandler{
		Sessions: r.SessionService,
		Marker:   r.Marker,
		Cookies:  r.Cookies,
	}

	// POST /auth/signout - revoke the current session, clear cookies
	r.Mux.Handle("POST /auth/signout",
		httpx.Chain(http.HandlerFunc(signout.HandleSignout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// GET /auth/2fa - the step-up challenge page
	r.Mux.Handle("GET /auth/2fa",
		httpx.Chain(ChallengePageHandler(),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerApp() {
	// Everything else is the application itself, which lives behind the
	// pipeline but outside this package's concern.
	r.Mux.Handle("/", AppHandler())
}
