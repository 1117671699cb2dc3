package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/steepleworks/steeple/internal/web/pipeline"
	"github.com/steepleworks/steeple/internal/web/service"
	"github.com/steepleworks/steeple/pkg/httpx"
	"github.com/steepleworks/steeple/pkg/slogx"
)

// TwoFactorHandler serves enrollment, step-up verification, backup code
// regeneration and disabling.
type TwoFactorHandler struct {
	TwoFactor *service.TwoFactorService
	Sessions  *service.SessionService
	Marker    *pipeline.Marker
	Cookies   CookieConfig
}

type codeRequest struct {
	Code string `json:"code"`
}

func decodeCode(r *http.Request) (string, bool) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		return "", false
	}
	return req.Code, true
}

// HandleEnroll handles POST /v1/2fa/enroll.
func (h *TwoFactorHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	sess := pipeline.SessionFromContext(r.Context())
	if sess == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	resp, err := h.TwoFactor.BeginEnrollment(r.Context(), *sess)
	if errors.Is(err, service.ErrAlreadyEnabled) {
		httpx.WriteError(w, http.StatusBadRequest, "already_enabled", "two-factor is already enabled")
		return
	}
	if err != nil {
		slogx.FromContext(r.Context()).Error("failed to begin enrollment", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to begin enrollment")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleVerify handles POST /v1/2fa/verify: both enrollment completion and
// step-up verification. On success the session is marked verified, its
// credential rotates, and the marker cookie is set.
func (h *TwoFactorHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	sess := pipeline.SessionFromContext(ctx)
	if sess == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	code, ok := decodeCode(r)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	result, err := h.TwoFactor.VerifyCode(ctx, *sess, code)
	switch {
	case errors.Is(err, service.ErrInvalidCode):
		log.Warn("two-factor code rejected", "session_id", sess.ID)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_code", "the code was not accepted")
		return
	case errors.Is(err, service.ErrChallengeNotFound):
		httpx.WriteError(w, http.StatusBadRequest, "no_pending_enrollment", "start enrollment first")
		return
	case err != nil:
		log.Error("two-factor verification failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "verification failed")
		return
	}

	// Step-up succeeded: flip the session flag and rotate the credential so
	// nothing minted before the privilege change stays valid.
	newToken, err := h.Sessions.MarkTwoFactorVerified(ctx, sess.ID)
	if err != nil {
		log.Error("failed to mark session verified", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "verification failed")
		return
	}

	marker, err := h.Marker.Issue(sess.ID)
	if err != nil {
		log.Error("failed to issue marker", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "verification failed")
		return
	}

	http.SetCookie(w, h.Cookies.SessionCookie(newToken))
	http.SetCookie(w, h.Marker.Cookie(marker))

	body := map[string]any{"verified": true}
	if result.Enrolled {
		body["enrolled"] = true
		body["backup_codes"] = result.BackupCodes // shown exactly once
	}
	if result.UsedBackupCode {
		body["used_backup_code"] = true
	}
	httpx.WriteJSON(w, http.StatusOK, body)
}

// HandleBackupCodes handles POST /v1/2fa/backup-codes. Requires a fresh
// TOTP code; the previous set stops working immediately.
func (h *TwoFactorHandler) HandleBackupCodes(w http.ResponseWriter, r *http.Request) {
	sess := pipeline.SessionFromContext(r.Context())
	if sess == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	code, ok := decodeCode(r)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	codes, err := h.TwoFactor.RegenerateBackupCodes(r.Context(), sess.UserID, code)
	switch {
	case errors.Is(err, service.ErrInvalidCode):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_code", "the code was not accepted")
		return
	case errors.Is(err, service.ErrTwoFactorOff):
		httpx.WriteError(w, http.StatusBadRequest, "not_enabled", "two-factor is not enabled")
		return
	case err != nil:
		slogx.FromContext(r.Context()).Error("failed to regenerate backup codes", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to regenerate codes")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

// HandleDisable handles DELETE /v1/2fa.
func (h *TwoFactorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	sess := pipeline.SessionFromContext(r.Context())
	if sess == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	code, ok := decodeCode(r)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	err := h.TwoFactor.Disable(r.Context(), sess.UserID, code)
	switch {
	case errors.Is(err, service.ErrInvalidCode):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_code", "the code was not accepted")
		return
	case errors.Is(err, service.ErrTwoFactorOff):
		httpx.WriteError(w, http.StatusBadRequest, "not_enabled", "two-factor is not enabled")
		return
	case err != nil:
		slogx.FromContext(r.Context()).Error("failed to disable two-factor", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to disable two-factor")
		return
	}

	http.SetCookie(w, h.Marker.Clear())
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"disabled": true})
}
