package pipeline

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Marker issues and checks the signed two-factor-verified cookie. The cookie
// is a convenience signal only: the session record's verified flag is the
// authoritative state, and the gate never admits a request on the marker
// alone.
type Marker struct {
	Key          []byte
	CookieName   string
	CookieSecure bool
	TTL          time.Duration
}

// Issue signs a marker for a session.
func (m *Marker) Issue(sessionID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(m.TTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Key)
	if err != nil {
		return "", fmt.Errorf("failed to sign marker: %w", err)
	}
	return signed, nil
}

// Verify reports whether the marker is a live signature for the session.
// Any parse or claim failure is simply false; a bad marker is expected
// input.
func (m *Marker) Verify(token, sessionID string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return m.Key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	sid, _ := claims["sid"].(string)
	return sid == sessionID
}

// Cookie builds the marker cookie.
func (m *Marker) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     m.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Clear builds an expired marker cookie.
func (m *Marker) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     m.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
