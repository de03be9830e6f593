package http

import (
	"net/http"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "session")
		return
	}
	state := domain.SessionAuthenticated
	if session.Degraded {
		state = domain.SessionStale
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"state":     state,
		"claims":    session.Claims,
		"refreshed": session.Refreshed,
		"degraded":  session.Degraded,
	})
}

// sessionRefresh is the explicit update: it always re-reads the account,
// regardless of the refresh interval.
func (h *Handler) sessionRefresh(w http.ResponseWriter, r *http.Request) {
	raw, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeMissingBearerError(r.Context(), w, "session_refresh")
		return
	}
	session, err := h.service.Authorize(r.Context(), raw, true)
	if err != nil {
		writeMappedError(r.Context(), w, "session_refresh", err)
		return
	}
	writeSessionHeaders(w, session)
	writeSuccess(w, http.StatusOK, map[string]any{
		"token":     session.Token,
		"claims":    session.Claims,
		"refreshed": session.Refreshed,
		"degraded":  session.Degraded,
	})
}

func (h *Handler) identities(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "list_identities")
		return
	}
	items, err := h.service.ListIdentities(r.Context(), session.Claims)
	if err != nil {
		writeMappedError(r.Context(), w, "list_identities", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"identities": items})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "get_profile")
		return
	}
	profile, err := h.service.GetProfile(r.Context(), session.Claims.AccountID)
	if err != nil {
		writeMappedError(r.Context(), w, "get_profile", err)
		return
	}
	writeSuccess(w, http.StatusOK, profile)
}
