package http

import (
	"net/http"

	"github.com/steepleworks/steeple/internal/web/pipeline"
	"github.com/steepleworks/steeple/internal/web/service"
	"github.com/steepleworks/steeple/pkg/httpx"
	"github.com/steepleworks/steeple/pkg/slogx"
)

// SignoutHandler ends the current session.
type SignoutHandler struct {
	Sessions *service.SessionService
	Marker   *pipeline.Marker
	Cookies  CookieConfig
}

// HandleSignout handles POST /auth/signout. Idempotent: signing out without
// a live session still clears cookies and reports success, because the
// caller's intent is already satisfied.
func (h *SignoutHandler) HandleSignout(w http.ResponseWriter, r *http.Request) {
	if sess := pipeline.SessionFromContext(r.Context()); sess != nil {
		if err := h.Sessions.Revoke(r.Context(), sess.ID); err != nil {
			slogx.FromContext(r.Context()).Error("failed to revoke session", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to sign out")
			return
		}
		slogx.FromContext(r.Context()).Info("session signed out", "session_id", sess.ID)
	}

	http.SetCookie(w, h.Cookies.ClearSessionCookie())
	http.SetCookie(w, h.Marker.Clear())
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}
