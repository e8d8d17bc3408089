// Package llm defines the backend-agnostic LLM connector abstraction.
// All types here are shared between the connector contract, the adapters
// (OpenAI, Anthropic, Ollama) and the dispatch layer.
package llm

import "time"

// Message represents a single turn in a conversation (role + content).
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatOptions carries per-call generation parameters.
type ChatOptions struct {
	Temperature float32
	MaxTokens   int
}

// Usage reports token consumption for a completed call.
// When a backend does not report usage (common on streamed responses),
// the connector estimates it from accumulated text length.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the consolidated output of a chat call, streaming or not.
type ChatResponse struct {
	ID           string
	Model        string // resolved backend model id, e.g. "gpt-4o-2024-08-06"
	Content      string
	Usage        Usage
	FinishReason string // "stop" | "length" | "cancelled" | backend-specific
	CreatedAt    time.Time
}

// ChunkFunc receives streamed text deltas in transport order.
// Contract: zero or more calls with (text, false), then exactly one
// ("", true) after the backend signals completion. No calls occur after
// the terminal one, nor after a mid-stream failure.
type ChunkFunc func(text string, done bool)

// Capability identifies an operation a model supports.
type Capability string

const (
	CapCompletion      Capability = "completion"
	CapChat            Capability = "chat"
	CapEmbedding       Capability = "embedding"
	CapFunctionCalling Capability = "function-calling"
	CapImage           Capability = "image"
)

// ModelDescriptor describes a routable model. Built from static
// configuration at startup; read-only afterwards.
type ModelDescriptor struct {
	Name          string // routing name, e.g. "gpt-4o"
	Connector     string // owning connector id, e.g. "openai"
	BackendID     string // backend model id sent on the wire
	Enabled       bool
	Priority      int // higher preferred
	Capabilities  []Capability
	ContextWindow int
}

// HasCapability reports whether the descriptor lists cap.
func (m ModelDescriptor) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// estimateTokens approximates the token cost of a message sequence.
// The heuristic is ~1 token per 4 characters of concatenated content;
// backends refine actual usage after the call completes.
func estimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return chars / 4
}

// estimateTextTokens is the single-string variant used for streamed
// output when the backend reports no usage.
func estimateTextTokens(text string) int {
	return len(text) / 4
}
