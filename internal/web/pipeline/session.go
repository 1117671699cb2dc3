package pipeline

import (
	"errors"

	"github.com/steepleworks/steeple/internal/web/notify"
	"github.com/steepleworks/steeple/internal/web/service"
	"github.com/steepleworks/steeple/pkg/slogx"
)

// SessionStage resolves the session cookie to an active session and slides
// its expiry window forward. Anonymous requests pass through with no
// session; later stages decide whether that is acceptable for the route.
//
// Store failures are fail-closed: the request proceeds as unauthenticated
// rather than trusting an unverifiable credential, and the failure is
// raised to the operational sink.
type SessionStage struct {
	Sessions   *service.SessionService
	Sink       notify.Sink
	CookieName string
}

func (s *SessionStage) Name() string { return "session" }

func (s *SessionStage) Evaluate(pc *Context) Outcome {
	r := pc.Request

	ck, err := r.Cookie(s.CookieName)
	if err != nil {
		return Allow()
	}

	session, err := s.Sessions.Authenticate(r.Context(), ck.Value)
	if errors.Is(err, service.ErrNoSession) {
		return Allow()
	}
	if err != nil {
		slogx.FromContext(r.Context()).Error("session lookup failed closed", "error", err)
		s.Sink.Alert(r.Context(), "session_store_unavailable", "error", err.Error())
		return Allow()
	}

	refreshed, err := s.Sessions.Refresh(r.Context(), session)
	if err != nil {
		slogx.FromContext(r.Context()).Error("session refresh failed closed", "error", err)
		s.Sink.Alert(r.Context(), "session_store_unavailable", "error", err.Error())
		return Allow()
	}

	pc.Session = &refreshed
	return Allow()
}
