// Ollama HTTP adapter for locally hosted models. No credential is needed:
// the connector counts as configured when an endpoint is set. Streaming is
// newline-delimited JSON where each frame carries the next content
// fragment and the final frame is marked done (a flat-delta framing, like
// the OpenAI wire, just without the SSE envelope).
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
	ollamaChatPath  = "/api/chat"
	ollamaEmbedPath = "/api/embeddings"
)

// OllamaConnector implements Connector against a running Ollama instance.
type OllamaConnector struct {
	connectorBase
}

func NewOllamaConnector(cfg ConnectorConfig, models []ModelDescriptor) *OllamaConnector {
	return &OllamaConnector{connectorBase: newConnectorBase(cfg, "", models)}
}

// IsConfigured is endpoint-based: a local backend has no credential.
func (c *OllamaConnector) IsConfigured() bool { return c.cfg.Endpoint != "" }

// ─── wire types ─────────────────────────────────────────────────────────────

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	DoneReason      string            `json:"done_reason"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// ndjsonDecoder decodes Ollama's streamed chat frames. Each line is a
// complete JSON object; the done frame doubles as the sentinel and carries
// eval counts.
type ndjsonDecoder struct{}

func (ndjsonDecoder) Decode(frame string) (string, bool, *Usage) {
	var f ollamaChatResponse
	if err := json.Unmarshal([]byte(frame), &f); err != nil {
		return "", false, nil // malformed frame: skip
	}
	if f.Done {
		return "", true, &Usage{
			PromptTokens:     f.PromptEvalCount,
			CompletionTokens: f.EvalCount,
			TotalTokens:      f.PromptEvalCount + f.EvalCount,
		}
	}
	return f.Message.Content, false, nil
}

// ─── Connector implementation ───────────────────────────────────────────────

// Chat performs a non-streaming completion via POST /api/chat.
func (c *OllamaConnector) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	m, err := c.resolveModel(model, CapChat)
	if err != nil {
		return nil, err
	}
	if err := c.checkRate(estimateTokens(messages)); err != nil {
		return nil, err
	}

	callCtx, done := c.beginCall(ctx)
	defer done()

	body, err := c.doPost(callCtx, ollamaChatPath, ollamaChatRequest{
		Model:    m.BackendID,
		Messages: toOllamaMessages(messages),
		Stream:   false,
		Options:  buildOllamaOptions(opts),
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp ollamaChatResponse
	if decodeErr := json.NewDecoder(body).Decode(&resp); decodeErr != nil {
		return nil, fmt.Errorf("%w: decode chat response: %v", ErrServerError, decodeErr)
	}

	usage := c.settleUsage(&Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, messages, resp.Message.Content)

	return &ChatResponse{
		Model:        m.BackendID,
		Content:      resp.Message.Content,
		Usage:        usage,
		FinishReason: resp.DoneReason,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// StreamingChat reads the NDJSON stream, forwarding fragments as they land.
func (c *OllamaConnector) StreamingChat(ctx context.Context, model string, messages []Message, opts ChatOptions, onChunk ChunkFunc) (*ChatResponse, error) {
	m, err := c.resolveModel(model, CapChat)
	if err != nil {
		return nil, err
	}
	if err := c.checkRate(estimateTokens(messages)); err != nil {
		return nil, err
	}

	callCtx, done := c.beginCall(ctx)
	defer done()

	body, err := c.doPost(callCtx, ollamaChatPath, ollamaChatRequest{
		Model:    m.BackendID,
		Messages: toOllamaMessages(messages),
		Stream:   true,
		Options:  buildOllamaOptions(opts),
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	content, usage, err := c.runStream(callCtx, body, ndjsonDecoder{}, onChunk)
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

// Embeddings computes a vector via POST /api/embeddings.
func (c *OllamaConnector) Embeddings(ctx context.Context, model, text string) ([]float32, error) {
	m, err := c.resolveModel(model, CapEmbedding)
	if err != nil {
		return nil, err
	}
	if err := c.checkRate(estimateTextTokens(text)); err != nil {
		return nil, err
	}

	callCtx, done := c.beginCall(ctx)
	defer done()

	body, err := c.doPost(callCtx, ollamaEmbedPath, ollamaEmbedRequest{Model: m.BackendID, Prompt: text})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp ollamaEmbedResponse
	if decodeErr := json.NewDecoder(body).Decode(&resp); decodeErr != nil {
		return nil, fmt.Errorf("%w: decode embed response: %v", ErrServerError, decodeErr)
	}

	c.window.Update(estimateTextTokens(text))
	return resp.Embedding, nil
}

func (c *OllamaConnector) doPost(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInvalidRequest, err)
	}
	req.Header.Set(headerContentType, mimeJSON)

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

func buildOllamaOptions(opts ChatOptions) map[string]any {
	out := map[string]any{}
	if opts.Temperature != 0 {
		out["temperature"] = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		out["num_predict"] = opts.MaxTokens
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	out := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		out[i] = ollamaChatMessage(m)
	}
	return out
}
