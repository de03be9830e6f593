package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handler) oauthProviders(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"providers": h.service.OAuthProviders()})
}

// oauthAuthorize starts a sign-in flow, or a link flow when the request
// carries a valid session.
func (h *Handler) oauthAuthorize(w http.ResponseWriter, r *http.Request) {
	var linkAccountID *uuid.UUID
	if header := r.Header.Get("Authorization"); header != "" {
		raw, err := bearerTokenFromHeader(header)
		if err != nil {
			writeMissingBearerError(r.Context(), w, "oauth_authorize")
			return
		}
		session, err := h.service.Authorize(r.Context(), raw, false)
		if err != nil {
			writeMappedError(r.Context(), w, "oauth_authorize", err)
			return
		}
		writeSessionHeaders(w, session)
		id := session.Claims.AccountID
		linkAccountID = &id
	}

	res, err := h.service.OAuthAuthorizeURL(r.Context(), chi.URLParam(r, "provider"), r.URL.Query().Get("redirect_uri"), linkAccountID)
	if err != nil {
		writeMappedError(r.Context(), w, "oauth_authorize", err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("response_mode"), "json") {
		writeSuccess(w, http.StatusOK, res)
		return
	}
	http.Redirect(w, r, res.AuthorizationURL, http.StatusFound)
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		writeError(w, http.StatusUnauthorized, "OAUTH_DENIED", providerErr)
		return
	}
	res, err := h.service.CompleteOAuth(r.Context(), chi.URLParam(r, "provider"), q.Get("code"), q.Get("state"))
	if err != nil {
		writeMappedError(r.Context(), w, "oauth_callback", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) oauthUnlink(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "oauth_unlink")
		return
	}
	var req struct {
		Provider string `json:"provider"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "oauth_unlink", err)
		return
	}
	if err := h.service.UnlinkOAuth(r.Context(), session.Claims, req.Provider); err != nil {
		writeMappedError(r.Context(), w, "oauth_unlink", err)
		return
	}
	writeMessage(w, http.StatusOK, "OAuth connection removed")
}
