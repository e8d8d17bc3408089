// Package app turns static configuration into live collaborators. Shared
// by the HTTP and MCP binaries so both wire connectors identically.
package app

import (
	"fmt"
	"log"
	"time"

	"github.com/kenjoel/asura-ai/internal/domain/dispatch"
	"github.com/kenjoel/asura-ai/internal/infra/config"
	"github.com/kenjoel/asura-ai/internal/infra/credentials"
	"github.com/kenjoel/asura-ai/internal/infra/eventbus"
	"github.com/kenjoel/asura-ai/internal/infra/llm"
)

// BuildRegistry constructs one connector per enabled config entry and
// registers its models; disabled connectors never register, so their
// models do not resolve. Connectors with unresolved credentials still
// register; they report unconfigured and the dispatcher skips their
// models.
func BuildRegistry(cfg config.Config, resolver credentials.Resolver) (*llm.Registry, error) {
	modelsByConnector := make(map[string][]llm.ModelDescriptor)
	for _, m := range cfg.Models {
		modelsByConnector[m.Connector] = append(modelsByConnector[m.Connector], descriptorFromConfig(m))
	}

	registry := llm.NewRegistry()
	for _, conn := range cfg.Connectors {
		if !conn.Enabled {
			log.Printf("connector %s disabled; its models will not serve traffic", conn.ID)
			continue
		}
		connectorCfg := llm.ConnectorConfig{
			ID:            conn.ID,
			Enabled:       conn.Enabled,
			Priority:      conn.Priority,
			Endpoint:      conn.Endpoint,
			APIVersion:    conn.APIVersion,
			Timeout:       time.Duration(conn.TimeoutMS) * time.Millisecond,
			RPMLimit:      conn.RPMLimit,
			TPMLimit:      conn.TPMLimit,
			CredentialKey: conn.Credential,
		}

		apiKey := ""
		if conn.Credential != "" {
			if v, ok := resolver.Get(conn.Credential); ok {
				apiKey = v
			} else {
				log.Printf("credential %s not resolved; connector %s starts unconfigured", conn.Credential, conn.ID)
			}
		}

		models := modelsByConnector[conn.ID]
		switch conn.Kind {
		case "openai":
			registry.Register(llm.NewOpenAIConnector(connectorCfg, apiKey, models))
		case "anthropic":
			registry.Register(llm.NewAnthropicConnector(connectorCfg, apiKey, models))
		case "ollama":
			registry.Register(llm.NewOllamaConnector(connectorCfg, models))
		default:
			return nil, fmt.Errorf("connector %q has unknown kind %q", conn.ID, conn.Kind)
		}
	}

	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

func descriptorFromConfig(m config.Model) llm.ModelDescriptor {
	caps := make([]llm.Capability, 0, len(m.Capabilities))
	for _, c := range m.Capabilities {
		caps = append(caps, llm.Capability(c))
	}
	return llm.ModelDescriptor{
		Name:          m.Name,
		Connector:     m.Connector,
		BackendID:     m.BackendID,
		Enabled:       m.Enabled,
		Priority:      m.Priority,
		ContextWindow: m.ContextWindow,
		Capabilities:  caps,
	}
}

// BuildSelectors converts configured selectors into router selectors,
// preserving declaration order.
func BuildSelectors(selectors []config.Selector) []dispatch.Selector {
	out := make([]dispatch.Selector, 0, len(selectors))
	for _, s := range selectors {
		types := make([]dispatch.TaskType, 0, len(s.TaskTypes))
		for _, tt := range s.TaskTypes {
			types = append(types, dispatch.TaskType(tt))
		}
		out = append(out, dispatch.TypeSelector(s.Name, types, s.Models))
	}
	return out
}

// BuildDispatcher assembles the router and dispatcher from config.
func BuildDispatcher(cfg config.Config, registry *llm.Registry, bus eventbus.EventBus) *dispatch.Dispatcher {
	router := dispatch.NewTaskRouter(BuildSelectors(cfg.Selectors), cfg.DefaultModels)
	return dispatch.NewDispatcher(router, registry, dispatch.Config{
		Timeout:  time.Duration(cfg.Dispatcher.TimeoutMS) * time.Millisecond,
		Fallback: dispatch.FallbackBehavior(cfg.Dispatcher.Fallback),
	}, bus)
}
