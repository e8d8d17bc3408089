// Package api wires HTTP routes to handlers.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kenjoel/asura-ai/internal/api/handlers"
	"github.com/kenjoel/asura-ai/internal/api/middleware"
	"github.com/kenjoel/asura-ai/internal/domain/assist"
	domainaudit "github.com/kenjoel/asura-ai/internal/domain/audit"
	"github.com/kenjoel/asura-ai/internal/infra/llm"
)

// Deps collects the collaborators the router hands to handlers.
type Deps struct {
	Dispatcher handlers.TaskDispatcher
	Registry   *llm.Registry
	Audit      *domainaudit.Service
	Retriever  assist.Retriever
	APIKeyHash string
	TokenTTL   time.Duration
}

// retrieverCacheSize bounds the memoized context lookups.
const retrieverCacheSize = 256

// NewRouter creates the router with all routes and middleware configured.
// /health and /auth/token are public; everything under /api/v1 requires a
// Bearer JWT and is audited. An injected retriever is wrapped in the
// memoizing cache so repeated queries skip the index.
func NewRouter(deps Deps) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)

	retriever := deps.Retriever
	if retriever != nil {
		if cached, err := assist.NewCachedRetriever(retriever, retrieverCacheSize); err == nil {
			retriever = cached
		}
	}

	taskHandler := handlers.NewTaskHandler(deps.Dispatcher, retriever)
	modelsHandler := handlers.NewModelsHandler(deps.Registry)
	tokenHandler := handlers.NewTokenHandler(deps.APIKeyHash, deps.TokenTTL, auditRecorder(deps.Audit))
	auditHandler := handlers.NewAuditHandler(deps.Audit)

	router.Get("/health", handlers.Health)
	router.Post("/auth/token", tokenHandler.Token)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuditMiddleware(auditRecorder(deps.Audit)))

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.Execute)
			r.Post("/cancel", taskHandler.CancelAll)
			r.Post("/{id}/cancel", taskHandler.Cancel)
		})

		r.Get("/models", modelsHandler.List)

		if deps.Audit != nil {
			r.Get("/audit", auditHandler.List)
		}
	})

	return router
}

// auditRecorder narrows *Service to the Recorder interface without
// smuggling a typed nil into interface comparisons.
func auditRecorder(s *domainaudit.Service) domainaudit.Recorder {
	if s == nil {
		return nil
	}
	return s
}
