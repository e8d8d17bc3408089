package handlers

import (
	"net/http"

	"github.com/kenjoel/asura-ai/internal/infra/llm"
)

// ModelsHandler exposes the model catalog.
type ModelsHandler struct {
	registry *llm.Registry
}

func NewModelsHandler(registry *llm.Registry) *ModelsHandler {
	return &ModelsHandler{registry: registry}
}

type modelResponse struct {
	Name          string   `json:"name"`
	Connector     string   `json:"connector"`
	Priority      int      `json:"priority"`
	ContextWindow int      `json:"context_window"`
	Capabilities  []string `json:"capabilities"`
}

type modelsResponse struct {
	Models []modelResponse `json:"models"`
}

// List handles GET /api/v1/models. An optional ?capability= filter keeps
// only models carrying that capability on a configured connector.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	var descriptors []llm.ModelDescriptor
	if cap := r.URL.Query().Get("capability"); cap != "" {
		descriptors = h.registry.ModelsByCapability(llm.Capability(cap))
	} else {
		descriptors = h.registry.Models()
	}

	resp := modelsResponse{Models: make([]modelResponse, 0, len(descriptors))}
	for _, m := range descriptors {
		caps := make([]string, 0, len(m.Capabilities))
		for _, c := range m.Capabilities {
			caps = append(caps, string(c))
		}
		resp.Models = append(resp.Models, modelResponse{
			Name:          m.Name,
			Connector:     m.Connector,
			Priority:      m.Priority,
			ContextWindow: m.ContextWindow,
			Capabilities:  caps,
		})
	}

	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(http.StatusOK)
	writeJSONOr500(w, resp)
}
