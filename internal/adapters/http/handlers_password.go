package http

import (
	"net/http"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/application"
)

func (h *Handler) passwordSignUp(w http.ResponseWriter, r *http.Request) {
	var req application.PasswordSignUpRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_sign_up", err)
		return
	}
	res, err := h.service.SignUpWithPassword(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "password_sign_up", err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

func (h *Handler) passwordSignIn(w http.ResponseWriter, r *http.Request) {
	var req application.PasswordSignInRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_sign_in", err)
		return
	}
	res, err := h.service.SignInWithPassword(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "password_sign_in", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) passwordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_reset_request", err)
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeMappedError(r.Context(), w, "password_reset_request", err)
		return
	}
	writeMessage(w, http.StatusOK, "If the email exists, a password reset link has been sent")
}

func (h *Handler) passwordReset(w http.ResponseWriter, r *http.Request) {
	var req application.PasswordResetRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_reset", err)
		return
	}
	if err := h.service.ResetPassword(r.Context(), req); err != nil {
		writeMappedError(r.Context(), w, "password_reset", err)
		return
	}
	writeMessage(w, http.StatusOK, "Password reset successful. Existing sessions must sign in again.")
}

func (h *Handler) passwordLink(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "password_link")
		return
	}
	var req application.LinkPasswordRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_link", err)
		return
	}
	if err := h.service.LinkPassword(r.Context(), session.Claims, req); err != nil {
		writeMappedError(r.Context(), w, "password_link", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"linked": true})
}

func (h *Handler) passwordUnlink(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "password_unlink")
		return
	}
	res, err := h.service.UnlinkPassword(r.Context(), session.Claims)
	if err != nil {
		writeMappedError(r.Context(), w, "password_unlink", err)
		return
	}
	w.Header().Set(headerSessionToken, res.Token)
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) passwordChange(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "password_change")
		return
	}
	var req application.ChangePasswordRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_change", err)
		return
	}
	res, err := h.service.ChangePassword(r.Context(), session.Claims, req)
	if err != nil {
		writeMappedError(r.Context(), w, "password_change", err)
		return
	}
	w.Header().Set(headerSessionToken, res.Token)
	writeSuccess(w, http.StatusOK, res)
}
