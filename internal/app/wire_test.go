package app

import (
	"testing"

	"github.com/kenjoel/asura-ai/internal/domain/dispatch"
	"github.com/kenjoel/asura-ai/internal/infra/config"
	"github.com/kenjoel/asura-ai/internal/infra/credentials"
	"github.com/kenjoel/asura-ai/internal/infra/eventbus"
)

func testConfig() config.Config {
	return config.Config{
		Connectors: []config.Connector{
			{ID: "ollama", Kind: "ollama", Enabled: true, Endpoint: "http://localhost:11434"},
			{ID: "openai", Kind: "openai", Enabled: true, Credential: "asura/openai/api_key"},
		},
		Models: []config.Model{
			{Name: "qwen-coder", Connector: "ollama", BackendID: "qwen2.5-coder", Enabled: true,
				Priority: 10, Capabilities: []string{"chat", "completion"}},
			{Name: "gpt-4o", Connector: "openai", BackendID: "gpt-4o", Enabled: true,
				Priority: 20, Capabilities: []string{"chat"}},
		},
		DefaultModels: []string{"qwen-coder"},
	}
}

func TestBuildRegistry(t *testing.T) {
	t.Parallel()

	registry, err := BuildRegistry(testConfig(), credentials.StaticResolver{
		"asura/openai/api_key": "sk-test",
	})
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	models := registry.Models()
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Name != "gpt-4o" {
		t.Errorf("expected gpt-4o first by priority, got %q", models[0].Name)
	}

	if _, _, ok := registry.Resolve("qwen-coder"); !ok {
		t.Error("qwen-coder must resolve")
	}
}

func TestBuildRegistry_UnresolvedCredentialStillRegisters(t *testing.T) {
	t.Parallel()

	registry, err := BuildRegistry(testConfig(), credentials.StaticResolver{})
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	_, conn, ok := registry.Resolve("gpt-4o")
	if !ok {
		t.Fatal("gpt-4o must still resolve")
	}
	if conn.IsConfigured() {
		t.Error("connector without a credential must report unconfigured")
	}
}

func TestBuildRegistry_DisabledConnectorDoesNotRegister(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	for i := range cfg.Connectors {
		if cfg.Connectors[i].ID == "openai" {
			cfg.Connectors[i].Enabled = false
		}
	}

	registry, err := BuildRegistry(cfg, credentials.StaticResolver{
		"asura/openai/api_key": "sk-test",
	})
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	if _, _, ok := registry.Resolve("gpt-4o"); ok {
		t.Error("a disabled connector's models must not resolve")
	}
	if _, _, ok := registry.Resolve("qwen-coder"); !ok {
		t.Error("enabled connectors must be unaffected")
	}
	if models := registry.Models(); len(models) != 1 {
		t.Errorf("expected only the enabled connector's model, got %d", len(models))
	}
}

func TestBuildRegistry_UnknownKind(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Connectors: []config.Connector{{ID: "x", Kind: "mystery", Enabled: true}}}
	if _, err := BuildRegistry(cfg, credentials.StaticResolver{}); err == nil {
		t.Fatal("expected an error for an unknown connector kind")
	}
}

func TestBuildSelectors(t *testing.T) {
	t.Parallel()

	selectors := BuildSelectors([]config.Selector{
		{Name: "code", TaskTypes: []string{"generate", "refactor"}, Models: []string{"m1"}},
	})
	if len(selectors) != 1 {
		t.Fatalf("expected 1 selector, got %d", len(selectors))
	}
	s := selectors[0]
	if s.Name != "code" {
		t.Errorf("expected name code, got %q", s.Name)
	}
	if !s.Matches(dispatch.TaskGenerate) || s.Matches(dispatch.TaskExplain) {
		t.Error("selector must match only its declared task types")
	}
}

func TestBuildDispatcher(t *testing.T) {
	t.Parallel()

	registry, err := BuildRegistry(testConfig(), credentials.StaticResolver{})
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	d := BuildDispatcher(config.Config{
		Dispatcher:    config.Dispatcher{TimeoutMS: 5000, Fallback: "error"},
		DefaultModels: []string{"qwen-coder"},
	}, registry, eventbus.New())
	if d == nil {
		t.Fatal("BuildDispatcher returned nil")
	}
}
