package http

import (
	"net/http"

	"github.com/steepleworks/steeple/internal/web/pipeline"
	"github.com/steepleworks/steeple/pkg/httpx"
	"github.com/steepleworks/steeple/pkg/slogx"
)

// CSRFHandler hands out signed CSRF tokens.
type CSRFHandler struct {
	Guard *pipeline.CSRFGuard
}

// HandleIssue handles GET /csrf. The token rides in both the response body
// and a cookie; API clients echo the body token in the X-CSRF-Token header,
// form posts can use the hidden field instead.
func (h *CSRFHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	token, err := h.Guard.Codec.Issue()
	if err != nil {
		slogx.FromContext(r.Context()).Error("failed to issue csrf token", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to issue token")
		return
	}

	http.SetCookie(w, h.Guard.Cookie(token))
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"csrf_token": token,
		"header":     pipeline.CSRFHeader,
	})
}
