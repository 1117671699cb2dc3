package pipeline

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/steepleworks/steeple/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) *CSRFGuard {
	t.Helper()

	return &CSRFGuard{
		Codec:      cryptox.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour),
		Classifier: NewClassifier(),
		CookieName: "csrf",
	}
}

func evalRequest(g *CSRFGuard, r *http.Request) (Outcome, *Context) {
	pc := &Context{Request: r}
	return g.Evaluate(pc), pc
}

func TestCSRFSafeMethodsNeverRejected(t *testing.T) {
	t.Parallel()

	g := newTestGuard(t)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace} {
		t.Run(method, func(t *testing.T) {
			t.Run("no cookie", func(t *testing.T) {
				out, pc := evalRequest(g, httptest.NewRequest(method, "/posts", nil))
				require.Equal(t, DecisionAllow, out.Decision)
				require.Len(t, pc.cookies, 1, "lazy issuance on missing cookie")
				require.True(t, g.Codec.Verify(pc.cookies[0].Value))
			})

			t.Run("garbage cookie", func(t *testing.T) {
				r := httptest.NewRequest(method, "/posts", nil)
				r.AddCookie(&http.Cookie{Name: "csrf", Value: "garbage"})
				out, pc := evalRequest(g, r)
				require.Equal(t, DecisionAllow, out.Decision)
				require.Len(t, pc.cookies, 1, "invalid cookie is replaced")
			})

			t.Run("valid cookie untouched", func(t *testing.T) {
				token, err := g.Codec.Issue()
				require.NoError(t, err)
				r := httptest.NewRequest(method, "/posts", nil)
				r.AddCookie(&http.Cookie{Name: "csrf", Value: token})
				out, pc := evalRequest(g, r)
				require.Equal(t, DecisionAllow, out.Decision)
				require.Empty(t, pc.cookies)
			})
		})
	}
}

func TestCSRFCookieLifetimeMatchesCodec(t *testing.T) {
	t.Parallel()

	g := newTestGuard(t)

	out, pc := evalRequest(g, httptest.NewRequest(http.MethodGet, "/posts", nil))
	require.Equal(t, DecisionAllow, out.Decision)
	require.Len(t, pc.cookies, 1)
	require.Equal(t, int(time.Hour/time.Second), pc.cookies[0].MaxAge,
		"cookie must carry a finite lifetime matching the token's max age")
}

func TestCSRFStateChangingRequests(t *testing.T) {
	t.Parallel()

	g := newTestGuard(t)

	validToken := func(t *testing.T) string {
		t.Helper()
		token, err := g.Codec.Issue()
		require.NoError(t, err)
		return token
	}

	post := func(cookie, header string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/posts", nil)
		if cookie != "" {
			r.AddCookie(&http.Cookie{Name: "csrf", Value: cookie})
		}
		if header != "" {
			r.Header.Set(CSRFHeader, header)
		}
		return r
	}

	t.Run("both tokens valid", func(t *testing.T) {
		out, _ := evalRequest(g, post(validToken(t), validToken(t)))
		require.Equal(t, DecisionAllow, out.Decision, "independently valid tokens need not be equal")
	})

	t.Run("missing cookie", func(t *testing.T) {
		out, _ := evalRequest(g, post("", validToken(t)))
		require.Equal(t, DecisionReject, out.Decision)
		require.Equal(t, http.StatusForbidden, out.Status)
		require.Equal(t, "missing", out.Code)
	})

	t.Run("missing header and form field", func(t *testing.T) {
		out, _ := evalRequest(g, post(validToken(t), ""))
		require.Equal(t, DecisionReject, out.Decision)
		require.Equal(t, "missing", out.Code)
	})

	t.Run("unsigned but well shaped token", func(t *testing.T) {
		forged := strings.Repeat("ab", 16) + "." + strings.Repeat("cd", 8) + "." + strings.Repeat("ef", 16)
		out, _ := evalRequest(g, post(validToken(t), forged))
		require.Equal(t, DecisionReject, out.Decision)
		require.Equal(t, "invalid", out.Code)
	})

	t.Run("invalid cookie", func(t *testing.T) {
		out, _ := evalRequest(g, post("garbage", validToken(t)))
		require.Equal(t, DecisionReject, out.Decision)
		require.Equal(t, "invalid", out.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		shortLived := &CSRFGuard{
			Codec:      cryptox.NewCodec([]byte("0123456789abcdef0123456789abcdef"), -time.Second),
			Classifier: NewClassifier(),
			CookieName: "csrf",
		}
		token, err := shortLived.Codec.Issue()
		require.NoError(t, err)
		out, _ := evalRequest(shortLived, post(token, token))
		require.Equal(t, DecisionReject, out.Decision)
		require.Equal(t, "invalid", out.Code)
	})

	t.Run("form field fallback", func(t *testing.T) {
		token := validToken(t)
		form := url.Values{CSRFFormField: {token}}
		r := httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.AddCookie(&http.Cookie{Name: "csrf", Value: validToken(t)})
		out, _ := evalRequest(g, r)
		require.Equal(t, DecisionAllow, out.Decision)
	})

	t.Run("exempt route passes without tokens", func(t *testing.T) {
		out, _ := evalRequest(g, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
		require.Equal(t, DecisionAllow, out.Decision)
	})
}

func TestMarker(t *testing.T) {
	t.Parallel()

	m := &Marker{
		Key:        []byte("marker-signing-key-marker-signing"),
		CookieName: "2fa",
		TTL:        time.Hour,
	}

	token, err := m.Issue("sess-1")
	require.NoError(t, err)

	require.True(t, m.Verify(token, "sess-1"))
	require.False(t, m.Verify(token, "sess-2"), "marker is bound to its session")
	require.False(t, m.Verify("not-a-jwt", "sess-1"))

	t.Run("wrong key rejected", func(t *testing.T) {
		other := &Marker{Key: []byte("a completely different signing k"), CookieName: "2fa", TTL: time.Hour}
		require.False(t, other.Verify(token, "sess-1"))
	})

	t.Run("expired marker rejected", func(t *testing.T) {
		stale := &Marker{Key: m.Key, CookieName: "2fa", TTL: -time.Minute}
		token, err := stale.Issue("sess-1")
		require.NoError(t, err)
		require.False(t, m.Verify(token, "sess-1"))
	})
}
