package handlers

import (
	"net/http"

	"github.com/kenjoel/asura-ai/internal/version"
)

// Health handles GET /health. Unauthenticated liveness probe.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(http.StatusOK)
	writeJSONOr500(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}
