package http

import (
	"net/http"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/application"
)

func (h *Handler) issueNonce(w http.ResponseWriter, r *http.Request) {
	var req application.IssueNonceRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "issue_nonce", err)
		return
	}
	res, err := h.service.IssueNonce(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "issue_nonce", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

// prepareChallenge accepts query parameters on GET and a JSON body on POST.
func (h *Handler) prepareChallenge(w http.ResponseWriter, r *http.Request) {
	var req application.PrepareChallengeRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req = application.PrepareChallengeRequest{
			Address: q.Get("address"),
			ChainID: q.Get("chain_id"),
			Nonce:   q.Get("nonce"),
		}
	} else if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "prepare_challenge", err)
		return
	}
	res, err := h.service.PrepareChallenge(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "prepare_challenge", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) walletVerify(w http.ResponseWriter, r *http.Request) {
	var req application.WalletProof
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "wallet_verify", err)
		return
	}
	res, err := h.service.VerifyAndLogin(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "wallet_verify", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) walletLink(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "wallet_link")
		return
	}
	var req application.WalletProof
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "wallet_link", err)
		return
	}
	if err := h.service.LinkWallet(r.Context(), session.Claims, req); err != nil {
		writeMappedError(r.Context(), w, "wallet_link", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"address": req.Address,
		"linked":  true,
	})
}

func (h *Handler) walletUnlink(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "wallet_unlink")
		return
	}
	var req application.UnlinkWalletRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "wallet_unlink", err)
		return
	}
	if err := h.service.UnlinkWallet(r.Context(), session.Claims, req); err != nil {
		writeMappedError(r.Context(), w, "wallet_unlink", err)
		return
	}
	writeMessage(w, http.StatusOK, "Wallet unlinked")
}
