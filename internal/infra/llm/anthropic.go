// Anthropic Messages API adapter. The wire contract differs from the
// OpenAI-style one in ways that must match exactly:
//   - auth is an "x-api-key" header, not a bearer token
//   - every request carries an "anthropic-version" header
//   - system prompts are a top-level field, not a message role
//   - streaming uses phased events (message_start / content_block_delta /
//     message_stop) with usage totals attached to the closing phases
//   - there is no embeddings endpoint
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicMessagesPath     = "/v1/messages"
	anthropicDefaultVersion   = "2023-06-01"
	anthropicDefaultMaxTokens = 1024 // max_tokens is mandatory on this API
)

// AnthropicConnector implements Connector against the Anthropic Messages API.
type AnthropicConnector struct {
	connectorBase
}

func NewAnthropicConnector(cfg ConnectorConfig, apiKey string, models []ModelDescriptor) *AnthropicConnector {
	if cfg.APIVersion == "" {
		cfg.APIVersion = anthropicDefaultVersion
	}
	return &AnthropicConnector{connectorBase: newConnectorBase(cfg, apiKey, models)}
}

// ─── wire types ─────────────────────────────────────────────────────────────

type anthropicMessage struct {
	Role    string `json:"role"` // "user" | "assistant"; never "system"
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float32            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ─── Connector implementation ───────────────────────────────────────────────

// Chat performs a non-streaming completion via POST /v1/messages.
func (c *AnthropicConnector) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	m, err := c.resolveModel(model, CapChat)
	if err != nil {
		return nil, err
	}
	if err := c.checkRate(estimateTokens(messages)); err != nil {
		return nil, err
	}

	callCtx, done := c.beginCall(ctx)
	defer done()

	body, err := c.doPost(callCtx, buildAnthropicRequest(m.BackendID, messages, opts, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp anthropicResponse
	if decodeErr := json.NewDecoder(body).Decode(&resp); decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrServerError, decodeErr)
	}

	content := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	usage := c.settleUsage(&Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, messages, content)

	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      content,
		Usage:        usage,
		FinishReason: normalizeStopReason(resp.StopReason),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// StreamingChat opens the phased event stream and forwards text deltas.
func (c *AnthropicConnector) StreamingChat(ctx context.Context, model string, messages []Message, opts ChatOptions, onChunk ChunkFunc) (*ChatResponse, error) {
	m, err := c.resolveModel(model, CapChat)
	if err != nil {
		return nil, err
	}
	if err := c.checkRate(estimateTokens(messages)); err != nil {
		return nil, err
	}

	callCtx, done := c.beginCall(ctx)
	defer done()

	body, err := c.doPost(callCtx, buildAnthropicRequest(m.BackendID, messages, opts, true))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	content, usage, err := c.runStream(callCtx, body, &phasedDecoder{}, onChunk)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		Model:        m.BackendID,
		Content:      content,
		Usage:        c.settleUsage(usage, messages, content),
		FinishReason: "stop",
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Embeddings always fails: this backend has no embedding endpoint.
func (c *AnthropicConnector) Embeddings(_ context.Context, _, _ string) ([]float32, error) {
	return nil, ErrUnsupportedCapability
}

func (c *AnthropicConnector) doPost(ctx context.Context, payload anthropicRequest) (io.ReadCloser, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+anthropicMessagesPath, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInvalidRequest, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.cfg.APIVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, normalizeTransport(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close() //nolint:errcheck
		return nil, normalizeStatus(resp.StatusCode, string(excerpt))
	}
	return resp.Body, nil
}

// buildAnthropicRequest hoists system turns into the top-level system field
// and defaults max_tokens, which this API requires.
func buildAnthropicRequest(backendID string, messages []Message, opts ChatOptions, stream bool) anthropicRequest {
	var system string
	var turns []anthropicMessage
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	return anthropicRequest{
		Model:       backendID,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    turns,
		Temperature: opts.Temperature,
		Stream:      stream,
	}
}

// normalizeStopReason maps Anthropic stop reasons onto the shared values.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
