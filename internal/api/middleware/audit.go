// HTTP audit middleware for protected routes.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/kenjoel/asura-ai/internal/api/ctxkeys"
	domainaudit "github.com/kenjoel/asura-ai/internal/domain/audit"
)

// AuditMiddleware records protected HTTP requests as audit events.
// Expected order in router: AuthMiddleware -> AuditMiddleware -> handlers.
// Task execution outcomes are recorded separately via the event bus; this
// middleware only covers the request surface (who called what, and how it
// ended).
func AuditMiddleware(rec domainaudit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rec == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientID, ok := ctxkeys.ClientIDFrom(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(recorder, r)

			_ = rec.Record(r.Context(), domainaudit.Entry{
				ClientID: clientID,
				Action:   actionFromRequest(r.Method, r.URL.Path),
				Success:  recorder.statusCode < 400,
				Details: map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status_code": recorder.statusCode,
					"duration_ms": time.Since(start).Milliseconds(),
				},
			})
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Flush keeps SSE streaming working through the recorder wrapper.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// actionFromRequest derives an audit action name from the route, e.g.
// "POST /api/v1/tasks" -> "execute_task" and
// "POST /api/v1/tasks/{id}/cancel" -> "cancel_task".
func actionFromRequest(method, path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 3 || segments[0] != "api" || segments[1] != "v1" {
		return strings.ToLower(method) + "_request"
	}

	switch segments[2] {
	case "tasks":
		if len(segments) > 3 && segments[len(segments)-1] == "cancel" {
			return "cancel_task"
		}
		return "execute_task"
	case "models":
		return "list_models"
	case "audit":
		return "list_audit"
	default:
		return strings.ToLower(method) + "_" + segments[2]
	}
}
