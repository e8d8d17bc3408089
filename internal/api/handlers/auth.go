package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	domainaudit "github.com/kenjoel/asura-ai/internal/domain/audit"
	pkgauth "github.com/kenjoel/asura-ai/pkg/auth"
)

// TokenHandler exchanges a pre-shared API key for a short-lived JWT.
// The API key is verified against a bcrypt hash from config, never a
// plaintext comparison.
type TokenHandler struct {
	apiKeyHash string
	tokenTTL   time.Duration
	audit      domainaudit.Recorder
}

func NewTokenHandler(apiKeyHash string, tokenTTL time.Duration, audit domainaudit.Recorder) *TokenHandler {
	return &TokenHandler{apiKeyHash: apiKeyHash, tokenTTL: tokenTTL, audit: audit}
}

type tokenRequest struct {
	APIKey   string `json:"api_key"`
	ClientID string `json:"client_id"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Token handles POST /auth/token.
func (h *TokenHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" || req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "api_key and client_id are required")
		return
	}

	if h.apiKeyHash == "" {
		writeError(w, http.StatusServiceUnavailable, "token endpoint not configured")
		return
	}

	if !pkgauth.VerifyAPIKey(h.apiKeyHash, req.APIKey) {
		h.record(r.Context(), req.ClientID, domainaudit.ActionTokenRejected, false)
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	token, err := pkgauth.GenerateJWT(req.ClientID, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	h.record(r.Context(), req.ClientID, domainaudit.ActionTokenIssued, true)

	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(http.StatusOK)
	writeJSONOr500(w, tokenResponse{
		Token:     token,
		ExpiresIn: int(h.tokenTTL.Seconds()),
	})
}

func (h *TokenHandler) record(ctx context.Context, clientID, action string, success bool) {
	if h.audit == nil {
		return
	}
	_ = h.audit.Record(ctx, domainaudit.Entry{
		ClientID: clientID,
		Action:   action,
		Success:  success,
	})
}
