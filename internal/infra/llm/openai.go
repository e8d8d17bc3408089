// OpenAI-compatible HTTP adapter. Speaks the chat-completions contract:
// bearer-token auth, flat SSE delta frames terminated by a "[DONE]"
// sentinel, and a dedicated /v1/embeddings endpoint.
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
	openaiChatPath  = "/v1/chat/completions"
	openaiEmbedPath = "/v1/embeddings"

	mimeJSON          = "application/json"
	headerContentType = "Content-Type"
)

// OpenAIConnector implements Connector against an OpenAI-compatible API.
type OpenAIConnector struct {
	connectorBase
}

// NewOpenAIConnector builds the adapter. apiKey may be empty, in which
// case the connector reports !IsConfigured and the dispatcher skips it.
func NewOpenAIConnector(cfg ConnectorConfig, apiKey string, models []ModelDescriptor) *OpenAIConnector {
	return &OpenAIConnector{connectorBase: newConnectorBase(cfg, apiKey, models)}
}

// ─── wire types ─────────────────────────────────────────────────────────────

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model         string              `json:"model"`
	Messages      []openaiChatMessage `json:"messages"`
	Temperature   float32             `json:"temperature,omitempty"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Stream        bool                `json:"stream,omitempty"`
	StreamOptions *openaiStreamOpts   `json:"stream_options,omitempty"`
}

type openaiStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      openaiChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

type openaiEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// ─── Connector implementation ───────────────────────────────────────────────

// Chat performs a non-streaming completion via POST /v1/chat/completions.
func (c *OpenAIConnector) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	m, err := c.resolveModel(model, CapChat)
	if err != nil {
		return nil, err
	}
	if err := c.checkRate(estimateTokens(messages)); err != nil {
		return nil, err
	}

	callCtx, done := c.beginCall(ctx)
	defer done()

	body, err := c.doPost(callCtx, openaiChatPath, openaiChatRequest{
		Model:       m.BackendID,
		Messages:    toOpenAIMessages(messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp openaiChatResponse
	if decodeErr := json.NewDecoder(body).Decode(&resp); decodeErr != nil {
		return nil, fmt.Errorf("%w: decode chat response: %v", ErrServerError, decodeErr)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrServerError)
	}

	usage := c.settleUsage(&Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, messages, resp.Choices[0].Message.Content)

	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      resp.Choices[0].Message.Content,
		Usage:        usage,
		FinishReason: resp.Choices[0].FinishReason,
		CreatedAt:    time.Unix(resp.Created, 0),
	}, nil
}

// StreamingChat opens the SSE channel and forwards deltas as they arrive.
func (c *OpenAIConnector) StreamingChat(ctx context.Context, model string, messages []Message, opts ChatOptions, onChunk ChunkFunc) (*ChatResponse, error) {
	m, err := c.resolveModel(model, CapChat)
	if err != nil {
		return nil, err
	}
	if err := c.checkRate(estimateTokens(messages)); err != nil {
		return nil, err
	}

	callCtx, done := c.beginCall(ctx)
	defer done()

	body, err := c.doPost(callCtx, openaiChatPath, openaiChatRequest{
		Model:         m.BackendID,
		Messages:      toOpenAIMessages(messages),
		Temperature:   opts.Temperature,
		MaxTokens:     opts.MaxTokens,
		Stream:        true,
		StreamOptions: &openaiStreamOpts{IncludeUsage: true},
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	content, usage, err := c.runStream(callCtx, body, deltaDecoder{}, onChunk)
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

// Embeddings computes a vector via POST /v1/embeddings.
func (c *OpenAIConnector) Embeddings(ctx context.Context, model, text string) ([]float32, error) {
	m, err := c.resolveModel(model, CapEmbedding)
	if err != nil {
		return nil, err
	}
	if err := c.checkRate(estimateTextTokens(text)); err != nil {
		return nil, err
	}

	callCtx, done := c.beginCall(ctx)
	defer done()

	body, err := c.doPost(callCtx, openaiEmbedPath, openaiEmbedRequest{Model: m.BackendID, Input: text})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp openaiEmbedResponse
	if decodeErr := json.NewDecoder(body).Decode(&resp); decodeErr != nil {
		return nil, fmt.Errorf("%w: decode embed response: %v", ErrServerError, decodeErr)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding data", ErrServerError)
	}

	c.window.Update(estimateTextTokens(text))
	return resp.Data[0].Embedding, nil
}

// doPost sends an authenticated POST and returns the response body, with
// non-2xx statuses normalized into the shared taxonomy. Caller closes the
// returned ReadCloser.
func (c *OpenAIConnector) doPost(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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

func toOpenAIMessages(messages []Message) []openaiChatMessage {
	out := make([]openaiChatMessage, len(messages))
	for i, m := range messages {
		out[i] = openaiChatMessage(m)
	}
	return out
}
