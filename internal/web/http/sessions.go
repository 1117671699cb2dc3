package http

import (
	"net/http"
	"time"

	"github.com/steepleworks/steeple/internal/web/pipeline"
	"github.com/steepleworks/steeple/internal/web/service"
	"github.com/steepleworks/steeple/pkg/httpx"
	"github.com/steepleworks/steeple/pkg/slogx"
)

// SessionsHandler serves the caller's session management endpoints.
type SessionsHandler struct {
	Sessions *service.SessionService
}

// HandleList handles GET /v1/sessions.
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sess := pipeline.SessionFromContext(r.Context())
	if sess == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	infos, err := h.Sessions.List(r.Context(), sess.UserID, sess.ID)
	if err != nil {
		slogx.FromContext(r.Context()).Error("failed to list sessions", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to list sessions")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

// HandleRevokeOthers handles POST /v1/sessions/revoke-others. The calling
// session always survives; revoking twice revokes zero more.
func (h *SessionsHandler) HandleRevokeOthers(w http.ResponseWriter, r *http.Request) {
	sess := pipeline.SessionFromContext(r.Context())
	if sess == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	count, err := h.Sessions.RevokeOthers(r.Context(), sess.UserID, sess.ID)
	if err != nil {
		slogx.FromContext(r.Context()).Error("failed to revoke sessions", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to revoke sessions")
		return
	}

	slogx.FromContext(r.Context()).Info("revoked other sessions",
		"user_id", sess.UserID, "count", count)
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"revoked": count})
}

// HandleExtend handles POST /v1/sessions/extend, the idle countdown's
// extend action. The pipeline already refreshed the session on the way in,
// so this just reports the new horizon.
func (h *SessionsHandler) HandleExtend(w http.ResponseWriter, r *http.Request) {
	sess := pipeline.SessionFromContext(r.Context())
	if sess == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"expires_at": sess.ExpiresAt,
		"remaining":  int64(time.Until(sess.ExpiresAt) / time.Second),
	})
}
