package pipeline

import (
	"net/http"
	"net/url"

	"github.com/steepleworks/steeple/internal/web/notify"
	"github.com/steepleworks/steeple/internal/web/store"
	"github.com/steepleworks/steeple/pkg/slogx"
)

// ClassifyStage stamps the route class onto the request context for the
// stages behind it.
type ClassifyStage struct {
	Classifier *Classifier
}

func (s *ClassifyStage) Name() string { return "classify" }

func (s *ClassifyStage) Evaluate(pc *Context) Outcome {
	pc.Class = s.Classifier.Classify(pc.Request.URL.Path)
	return Allow()
}

// TwoFactorGate enforces step-up verification on protected routes.
//
// The decision ladder: exempt and standard routes always pass; protected
// routes need an authenticated session; accounts without two-factor
// enrollment are vacuously verified; enrolled accounts need the session's
// verified flag, which only a successful code check sets. The marker cookie
// is cross-checked for observability but can never stand in for the flag.
type TwoFactorGate struct {
	Users         store.Users
	Marker        *Marker
	Sink          notify.Sink
	ChallengePath string
}

func (g *TwoFactorGate) Name() string { return "twofactor" }

func (g *TwoFactorGate) Evaluate(pc *Context) Outcome {
	if pc.Class != ClassTwoFactor {
		return Allow()
	}

	r := pc.Request
	log := slogx.FromContext(r.Context())

	if pc.Session == nil {
		return Reject(http.StatusUnauthorized, "unauthenticated", "sign in required")
	}

	if pc.Session.TwoFactorVerified() {
		if ck, err := r.Cookie(g.Marker.CookieName); err != nil || !g.Marker.Verify(ck.Value, pc.Session.ID) {
			// Verified server-side but the marker is gone or stale. Not a
			// security problem, worth noticing in aggregate.
			log.Warn("verified session without valid marker", "session_id", pc.Session.ID)
		}
		return Allow()
	}

	user, err := g.Users.GetUserByID(r.Context(), pc.Session.UserID)
	if err != nil {
		// Fail closed: an unreachable user store must not wave a request
		// past the gate.
		log.Error("two-factor gate failed closed", "error", err)
		g.Sink.Alert(r.Context(), "user_store_unavailable", "error", err.Error())
		return Reject(http.StatusUnauthorized, "unauthenticated", "sign in required")
	}
	if !user.HasTwoFactor() {
		return Allow()
	}

	return Redirect(g.ChallengePath + "?return_to=" + url.QueryEscape(r.URL.RequestURI()))
}
