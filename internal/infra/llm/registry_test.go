// Unit tests for the connector registry.
package llm

import "testing"

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewOpenAIConnector(ConnectorConfig{ID: "openai", Endpoint: "http://openai"}, "sk-test", openaiTestModels()))
	r.Register(NewAnthropicConnector(ConnectorConfig{ID: "anthropic", Endpoint: "http://anthropic"}, "", anthropicTestModels())) // no credential
	r.Register(NewOllamaConnector(ConnectorConfig{ID: "ollama", Endpoint: "http://ollama"}, ollamaTestModels()))
	return r
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	m, c, ok := r.Resolve("qwen-coder")
	if !ok {
		t.Fatal("expected qwen-coder to resolve")
	}
	if c.ID() != "ollama" || m.BackendID != "qwen2.5-coder:7b" {
		t.Errorf("resolved to wrong connector/model: %s / %s", c.ID(), m.BackendID)
	}

	if _, _, ok := r.Resolve("gpt-4o-mini"); ok {
		t.Error("disabled models must not resolve")
	}
	if _, _, ok := r.Resolve("missing"); ok {
		t.Error("unknown models must not resolve")
	}
}

func TestRegistry_ModelsByCapability_FiltersAndSorts(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	models := r.ModelsByCapability(CapChat)

	// claude-sonnet carries chat but its connector has no credential, so it
	// is excluded; gpt-4o (prio 100) outranks qwen-coder (prio 20).
	if len(models) != 2 {
		t.Fatalf("expected 2 chat models from configured connectors, got %d", len(models))
	}
	if models[0].Name != "gpt-4o" || models[1].Name != "qwen-coder" {
		t.Errorf("expected [gpt-4o qwen-coder] by priority, got [%s %s]", models[0].Name, models[1].Name)
	}

	for _, m := range r.ModelsByCapability(CapEmbedding) {
		if !m.HasCapability(CapEmbedding) {
			t.Errorf("model %s lacks the requested capability", m.Name)
		}
	}
}

func TestRegistry_Models_ListsAllEnabled(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	models := r.Models()

	// 2 enabled openai + 1 anthropic + 1 ollama; the disabled gpt-4o-mini
	// is excluded.
	if len(models) != 4 {
		t.Fatalf("expected 4 enabled models, got %d", len(models))
	}
	for i := 1; i < len(models); i++ {
		if models[i-1].Priority < models[i].Priority {
			t.Errorf("models not sorted by descending priority at index %d", i)
		}
	}
}

func TestRegistry_Validate(t *testing.T) {
	t.Parallel()

	if err := newTestRegistry().Validate(); err != nil {
		t.Errorf("valid registry failed validation: %v", err)
	}
}
