// Connector contract and the shared plumbing every backend adapter embeds.
// Adapters (OpenAI, Anthropic, Ollama) implement Connector so the dispatch
// layer is never coupled to a specific vendor; adding a backend never
// touches the dispatcher.
package llm

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Connector is the capability contract each backend adapter satisfies.
type Connector interface {
	// ID returns the connector identifier, e.g. "openai".
	ID() string

	// IsConfigured reports whether a credential was resolved at
	// construction (or the backend needs none and is reachable by config).
	IsConfigured() bool

	// Model returns the descriptor for name if it is enabled on this
	// connector.
	Model(name string) (ModelDescriptor, bool)

	// Chat performs a non-streaming chat completion.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (*ChatResponse, error)

	// StreamingChat performs a streaming chat completion, forwarding each
	// text delta via onChunk and returning the consolidated response.
	StreamingChat(ctx context.Context, model string, messages []Message, opts ChatOptions, onChunk ChunkFunc) (*ChatResponse, error)

	// Embeddings computes a vector for text. Backends without an
	// embedding endpoint fail immediately with ErrUnsupportedCapability.
	Embeddings(ctx context.Context, model, text string) ([]float32, error)

	// CancelRequest cooperatively aborts this connector's most recent
	// in-flight call. No-op if none is outstanding.
	CancelRequest()
}

// ConnectorConfig is the static per-backend configuration. Read-only after
// construction; the live RateWindow is the only mutable companion state.
type ConnectorConfig struct {
	ID         string
	Enabled    bool
	Priority   int
	Endpoint   string
	APIVersion string
	Timeout    time.Duration
	RPMLimit   int
	TPMLimit   int
	// CredentialKey is the namespaced credential-resolver key, e.g.
	// "asura/openai/api_key". Kept for logging; never the secret itself.
	CredentialKey string
}

const defaultConnectorTimeout = 30 * time.Second

// connectorBase holds the state and behavior shared by all adapters:
// model lookup, rate limiting, timeout derivation and cancellation
// bookkeeping. Wire-level request/response code stays in the adapters.
type connectorBase struct {
	cfg    ConnectorConfig
	apiKey string
	models map[string]ModelDescriptor
	window *RateWindow
	client *http.Client

	mu         sync.Mutex
	cancelLast context.CancelFunc
}

func newConnectorBase(cfg ConnectorConfig, apiKey string, models []ModelDescriptor) connectorBase {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultConnectorTimeout
	}
	byName := make(map[string]ModelDescriptor, len(models))
	for _, m := range models {
		if m.Connector == cfg.ID {
			byName[m.Name] = m
		}
	}
	return connectorBase{
		cfg:    cfg,
		apiKey: apiKey,
		models: byName,
		window: NewRateWindow(cfg.RPMLimit, cfg.TPMLimit),
		client: &http.Client{}, // per-call deadline comes from beginCall
	}
}

func (b *connectorBase) ID() string { return b.cfg.ID }

func (b *connectorBase) IsConfigured() bool { return b.apiKey != "" }

func (b *connectorBase) Model(name string) (ModelDescriptor, bool) {
	m, ok := b.models[name]
	if !ok || !m.Enabled {
		return ModelDescriptor{}, false
	}
	return m, true
}

// ListModels returns every enabled model on this connector.
func (b *connectorBase) ListModels() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(b.models))
	for _, m := range b.models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// Window exposes the live rate window for introspection and tests.
func (b *connectorBase) Window() *RateWindow { return b.window }

// resolveModel validates that name maps to an enabled model carrying the
// required capability.
func (b *connectorBase) resolveModel(name string, cap Capability) (ModelDescriptor, error) {
	m, ok := b.Model(name)
	if !ok {
		return ModelDescriptor{}, ErrModelNotFound
	}
	if !m.HasCapability(cap) {
		return ModelDescriptor{}, ErrUnsupportedCapability
	}
	return m, nil
}

// checkRate applies the pre-flight rate limit for an estimated token cost.
func (b *connectorBase) checkRate(estimatedTokens int) error {
	return b.window.Check(estimatedTokens)
}

// beginCall derives the per-call context bounded by the connector timeout
// and records its cancel func so CancelRequest can abort the transport.
func (b *connectorBase) beginCall(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	b.mu.Lock()
	b.cancelLast = cancel
	b.mu.Unlock()

	done := func() {
		b.mu.Lock()
		if b.cancelLast != nil {
			// Compare nothing: the most recent call owns the slot; a
			// newer call has already overwritten it by the time an old
			// one finishes, and cancelling a finished context is a no-op.
			b.cancelLast = nil
		}
		b.mu.Unlock()
		cancel()
	}
	return callCtx, done
}

func (b *connectorBase) CancelRequest() {
	b.mu.Lock()
	cancel := b.cancelLast
	b.cancelLast = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runStream drives a streaming response body through dec, forwarding text
// deltas to onChunk. Returns the accumulated content and backend-reported
// usage (nil if the backend sent none). After a failure no further
// callbacks occur; on success the terminal onChunk("", true) has fired.
func (b *connectorBase) runStream(ctx context.Context, body io.Reader, dec streamDecoder, onChunk ChunkFunc) (string, *Usage, error) {
	var (
		fb      frameBuffer
		content strings.Builder
		usage   *Usage
		buf     = make([]byte, 4096)
	)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range fb.Feed(buf[:n]) {
				text, done, u := dec.Decode(frame)
				if u != nil {
					usage = u
				}
				if text != "" {
					content.WriteString(text)
					onChunk(text, false)
				}
				if done {
					onChunk("", true)
					return content.String(), usage, nil
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				// Body ended without the terminal frame.
				return "", nil, ErrStream
			}
			if ctx.Err() != nil {
				return "", nil, normalizeTransport(ctx, readErr)
			}
			return "", nil, ErrStream
		}
	}
}

// settleUsage records actual usage in the rate window and fills in an
// estimate when the backend reported none.
func (b *connectorBase) settleUsage(reported *Usage, messages []Message, output string) Usage {
	var u Usage
	if reported != nil {
		u = *reported
	} else {
		u.PromptTokens = estimateTokens(messages)
		u.CompletionTokens = estimateTextTokens(output)
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	b.window.Update(u.TotalTokens)
	return u
}
