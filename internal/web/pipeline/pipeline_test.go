package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/steepleworks/steeple/internal/web/domain"
	"github.com/steepleworks/steeple/internal/web/notify"
	"github.com/steepleworks/steeple/internal/web/service"
	"github.com/steepleworks/steeple/internal/web/store/drivers/sqlite"
	"github.com/steepleworks/steeple/pkg/idx"
	"github.com/stretchr/testify/require"
)

const (
	testSessionCookie = "session"
	testCSRFCookie    = "csrf"
)

type testEnv struct {
	pipeline *Pipeline
	store    *sqlite.Store
	sessions *service.SessionService
	guard    *CSRFGuard
	user     domain.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	user := domain.User{ID: idx.New().String(), Username: "alice", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.Users().CreateUser(context.Background(), user))

	classifier := NewClassifier()
	sessions := &service.SessionService{Store: st, TTL: time.Hour}
	guard := &CSRFGuard{
		Codec:      newTestGuard(t).Codec,
		Classifier: classifier,
		CookieName: testCSRFCookie,
	}
	marker := &Marker{Key: []byte("marker-signing-key-marker-signing"), CookieName: "2fa", TTL: time.Hour}

	p := &Pipeline{
		Stages: []Stage{
			guard,
			&SessionStage{Sessions: sessions, Sink: notify.NopSink{}, CookieName: testSessionCookie},
			&ClassifyStage{Classifier: classifier},
			&TwoFactorGate{Users: st.Users(), Marker: marker, Sink: notify.NopSink{}, ChallengePath: "/auth/2fa"},
		},
		Next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}),
	}

	return &testEnv{pipeline: p, store: st, sessions: sessions, guard: guard, user: user}
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.pipeline.ServeHTTP(w, r)
	return w
}

func requireSecurityHeaders(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()

	require.Contains(t, w.Header().Get("Content-Security-Policy"), "nonce-")
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	require.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func cookieNamed(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	for _, ck := range w.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	t.Fatalf("no cookie named %s in response", name)
	return nil
}

func TestPipelineCSRFFlow(t *testing.T) {
	env := newTestEnv(t)

	// GET without a cookie: passes, and a fresh cookie rides along.
	w := env.do(httptest.NewRequest(http.MethodGet, "/posts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	requireSecurityHeaders(t, w)
	csrf := cookieNamed(t, w, testCSRFCookie)
	require.True(t, env.guard.Codec.Verify(csrf.Value))

	// POST echoing the cookie token in the header: accepted.
	r := httptest.NewRequest(http.MethodPost, "/posts", nil)
	r.AddCookie(csrf)
	r.Header.Set(CSRFHeader, csrf.Value)
	w = env.do(r)
	require.Equal(t, http.StatusOK, w.Code)
	requireSecurityHeaders(t, w)

	// POST with a well shaped but unsigned header token: 403 invalid.
	r = httptest.NewRequest(http.MethodPost, "/posts", nil)
	r.AddCookie(csrf)
	r.Header.Set(CSRFHeader, "deadbeefdeadbeefdeadbeefdeadbeef.beefdeadbeefdead.deadbeefdeadbeefdeadbeefdeadbeef")
	w = env.do(r)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), `"invalid"`)
	requireSecurityHeaders(t, w) // rejections carry the header set too

	// POST with no tokens at all: 403 missing.
	w = env.do(httptest.NewRequest(http.MethodPost, "/posts", nil))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), `"missing"`)
}

func TestPipelineTwoFactorFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Unauthenticated request to a protected path.
	w := env.do(httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	requireSecurityHeaders(t, w)

	// Session for an account without two-factor: vacuously verified.
	session, token, err := env.sessions.Create(ctx, env.user.ID, "laptop")
	require.NoError(t, err)

	authedGet := func(path, token string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.AddCookie(&http.Cookie{Name: testSessionCookie, Value: token})
		return r
	}

	w = env.do(authedGet("/admin/users", token))
	require.Equal(t, http.StatusOK, w.Code)

	// Enable two-factor on the account: the session is now unverified and
	// protected paths bounce to the challenge with the destination kept.
	require.NoError(t, env.store.Users().EnableTwoFactor(ctx, env.user.ID, "JBSWY3DPEHPK3PXP"))

	w = env.do(authedGet("/admin/users?tab=active", token))
	require.Equal(t, http.StatusSeeOther, w.Code)
	requireSecurityHeaders(t, w)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/auth/2fa", loc.Path)
	require.Equal(t, "/admin/users?tab=active", loc.Query().Get("return_to"))

	// Standard paths stay reachable while unverified.
	w = env.do(authedGet("/posts", token))
	require.Equal(t, http.StatusOK, w.Code)

	// Step-up verification rotates the credential and opens the gate.
	newToken, err := env.sessions.MarkTwoFactorVerified(ctx, session.ID)
	require.NoError(t, err)

	w = env.do(authedGet("/admin/users", newToken))
	require.Equal(t, http.StatusOK, w.Code)

	// The pre-verification credential is dead.
	w = env.do(authedGet("/admin/users", token))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPipelineExemptPathsBypassChecks(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusOK, w.Code, "auth endpoints skip CSRF and the gate")
	requireSecurityHeaders(t, w)

	w = env.do(httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPipelineRefreshSlidesSessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, token, err := env.sessions.Create(ctx, env.user.ID, "laptop")
	require.NoError(t, err)
	created := session.ExpiresAt

	time.Sleep(10 * time.Millisecond)

	r := httptest.NewRequest(http.MethodGet, "/posts", nil)
	r.AddCookie(&http.Cookie{Name: testSessionCookie, Value: token})
	w := env.do(r)
	require.Equal(t, http.StatusOK, w.Code)

	refreshed, err := env.store.Sessions().GetSessionByID(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, refreshed.ExpiresAt.After(created), "passing through the pipeline slides expiry")
}

// failingUsers simulates an unreachable user store.
type failingUsers struct{}

func (failingUsers) GetUserByID(context.Context, string) (domain.User, error) {
	return domain.User{}, context.DeadlineExceeded
}
func (failingUsers) CreateUser(context.Context, domain.User) error         { return nil }
func (failingUsers) EnableTwoFactor(context.Context, string, string) error { return nil }
func (failingUsers) DisableTwoFactor(context.Context, string) error        { return nil }

func TestPipelineGateFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, token, err := env.sessions.Create(ctx, env.user.ID, "laptop")
	require.NoError(t, err)

	// Swap the gate's user store for one that always fails.
	for i, stage := range env.pipeline.Stages {
		if gate, ok := stage.(*TwoFactorGate); ok {
			env.pipeline.Stages[i] = &TwoFactorGate{
				Users:         failingUsers{},
				Marker:        gate.Marker,
				Sink:          notify.NopSink{},
				ChallengePath: gate.ChallengePath,
			}
		}
	}

	r := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	r.AddCookie(&http.Cookie{Name: testSessionCookie, Value: token})
	w := env.do(r)
	require.Equal(t, http.StatusUnauthorized, w.Code, "store failure must not admit the request")
	requireSecurityHeaders(t, w)
}

func TestPipelineNonceIsFreshPerRequest(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(httptest.NewRequest(http.MethodGet, "/posts", nil)).Header().Get("Content-Security-Policy")
	second := env.do(httptest.NewRequest(http.MethodGet, "/posts", nil)).Header().Get("Content-Security-Policy")
	require.NotEqual(t, first, second)
}
