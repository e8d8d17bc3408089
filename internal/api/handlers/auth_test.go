package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	domainaudit "github.com/kenjoel/asura-ai/internal/domain/audit"
	pkgauth "github.com/kenjoel/asura-ai/pkg/auth"
)

func TestMain(m *testing.M) {
	os.Setenv("ASURA_JWT_SECRET", "handlers-test-secret")
	os.Exit(m.Run())
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []domainaudit.Entry
}

func (r *recordingAudit) Record(_ context.Context, entry domainaudit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func newTokenHandler(t *testing.T, apiKey string, audit domainaudit.Recorder) *TokenHandler {
	t.Helper()
	hash, err := pkgauth.HashAPIKey(apiKey)
	if err != nil {
		t.Fatalf("HashAPIKey failed: %v", err)
	}
	return NewTokenHandler(hash, time.Hour, audit)
}

func postToken(handler *TokenHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Token(rec, req)
	return rec
}

func TestToken_IssuesJWT(t *testing.T) {
	audit := &recordingAudit{}
	handler := newTokenHandler(t, "secret-key", audit)

	rec := postToken(handler, `{"api_key":"secret-key","client_id":"cli-1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expected expires_in 3600, got %d", resp.ExpiresIn)
	}

	claims, err := pkgauth.ParseJWT(resp.Token)
	if err != nil {
		t.Fatalf("issued token failed to parse: %v", err)
	}
	if claims.ClientID != "cli-1" {
		t.Errorf("expected client cli-1 in claims, got %q", claims.ClientID)
	}

	actions := audit.actions()
	if len(actions) != 1 || actions[0] != domainaudit.ActionTokenIssued {
		t.Errorf("expected token_issued audit entry, got %v", actions)
	}
}

func TestToken_RejectsWrongKey(t *testing.T) {
	audit := &recordingAudit{}
	handler := newTokenHandler(t, "secret-key", audit)

	rec := postToken(handler, `{"api_key":"wrong-key","client_id":"cli-1"}`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	actions := audit.actions()
	if len(actions) != 1 || actions[0] != domainaudit.ActionTokenRejected {
		t.Errorf("expected token_rejected audit entry, got %v", actions)
	}
}

func TestToken_MissingFields(t *testing.T) {
	handler := newTokenHandler(t, "secret-key", nil)

	tests := []struct {
		name string
		body string
	}{
		{"no api_key", `{"client_id":"cli-1"}`},
		{"no client_id", `{"api_key":"secret-key"}`},
		{"empty body", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postToken(handler, tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestToken_InvalidBody(t *testing.T) {
	handler := newTokenHandler(t, "secret-key", nil)

	if rec := postToken(handler, `{broken`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestToken_NotConfigured(t *testing.T) {
	handler := NewTokenHandler("", time.Hour, nil)

	rec := postToken(handler, `{"api_key":"k","client_id":"c"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when no api key hash is configured, got %d", rec.Code)
	}
}
