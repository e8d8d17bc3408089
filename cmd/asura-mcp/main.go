// MCP stdio server exposing task dispatch to editor integrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kenjoel/asura-ai/internal/app"
	"github.com/kenjoel/asura-ai/internal/domain/dispatch"
	"github.com/kenjoel/asura-ai/internal/infra/config"
	"github.com/kenjoel/asura-ai/internal/infra/credentials"
	"github.com/kenjoel/asura-ai/internal/infra/eventbus"
	"github.com/kenjoel/asura-ai/internal/infra/llm"
	"github.com/kenjoel/asura-ai/internal/version"
)

type executeTaskInput struct {
	Type        string  `json:"type,omitempty" jsonschema:"task type: generate, explain, refactor, test, complete, document or general"`
	Query       string  `json:"query" jsonschema:"the request to run against a model"`
	Temperature float32 `json:"temperature,omitempty" jsonschema:"sampling temperature override"`
	MaxTokens   int     `json:"max_tokens,omitempty" jsonschema:"completion token limit override"`
}

type executeTaskOutput struct {
	TaskID       string `json:"task_id"`
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
	TotalTokens  int    `json:"total_tokens"`
}

type listModelsInput struct {
	Capability string `json:"capability,omitempty" jsonschema:"keep only models with this capability"`
}

type listModelsOutput struct {
	Models []modelInfo `json:"models"`
}

type modelInfo struct {
	Name          string   `json:"name"`
	Connector     string   `json:"connector"`
	Priority      int      `json:"priority"`
	ContextWindow int      `json:"context_window"`
	Capabilities  []string `json:"capabilities"`
}

func main() {
	configPath := flag.String("config", "asura.yaml", "path to the YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry, err := app.BuildRegistry(cfg, credentials.EnvResolver{})
	if err != nil {
		return err
	}
	dispatcher := app.BuildDispatcher(cfg, registry, eventbus.New())

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "asura",
		Version: version.Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_task",
		Description: "Run a coding-assistant task against the configured models",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input executeTaskInput) (*mcp.CallToolResult, executeTaskOutput, error) {
		return executeTask(ctx, dispatcher, input)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_models",
		Description: "List routable models, optionally filtered by capability",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input listModelsInput) (*mcp.CallToolResult, listModelsOutput, error) {
		return nil, listModels(registry, input), nil
	})

	return server.Run(context.Background(), &mcp.StdioTransport{})
}

func executeTask(ctx context.Context, dispatcher *dispatch.Dispatcher, input executeTaskInput) (*mcp.CallToolResult, executeTaskOutput, error) {
	if input.Query == "" {
		return nil, executeTaskOutput{}, fmt.Errorf("query is required")
	}

	taskType := dispatch.TaskType(input.Type)
	if input.Type == "" {
		taskType = dispatch.TaskGeneral
	}

	task := dispatch.Task{ID: uuid.NewString(), Type: taskType, Query: input.Query}
	if input.Temperature != 0 || input.MaxTokens != 0 {
		overrides := &dispatch.Overrides{}
		if input.Temperature != 0 {
			t := input.Temperature
			overrides.Temperature = &t
		}
		if input.MaxTokens != 0 {
			m := input.MaxTokens
			overrides.MaxTokens = &m
		}
		task.Overrides = overrides
	}

	resp, err := dispatcher.ExecuteTask(ctx, task, nil)
	if err != nil {
		return nil, executeTaskOutput{}, err
	}

	return nil, executeTaskOutput{
		TaskID:       task.ID,
		Content:      resp.Content,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

func listModels(registry *llm.Registry, input listModelsInput) listModelsOutput {
	var descriptors []llm.ModelDescriptor
	if input.Capability != "" {
		descriptors = registry.ModelsByCapability(llm.Capability(input.Capability))
	} else {
		descriptors = registry.Models()
	}

	out := listModelsOutput{Models: make([]modelInfo, 0, len(descriptors))}
	for _, m := range descriptors {
		caps := make([]string, 0, len(m.Capabilities))
		for _, c := range m.Capabilities {
			caps = append(caps, string(c))
		}
		out.Models = append(out.Models, modelInfo{
			Name:          m.Name,
			Connector:     m.Connector,
			Priority:      m.Priority,
			ContextWindow: m.ContextWindow,
			Capabilities:  caps,
		})
	}
	return out
}
