// Package dispatch routes coding-assistant tasks to backend models:
// selector-based candidate choice, timeout racing, fallback across
// candidates, and cooperative cancellation of in-flight requests.
package dispatch

import (
	"github.com/kenjoel/asura-ai/internal/infra/llm"
)

// TaskType classifies a coding-assistant request.
type TaskType string

const (
	TaskGenerate TaskType = "generate"
	TaskExplain  TaskType = "explain"
	TaskRefactor TaskType = "refactor"
	TaskTest     TaskType = "test"
	TaskComplete TaskType = "complete"
	TaskDocument TaskType = "document"
	TaskGeneral  TaskType = "general"
)

// ContextChunk is one bounded text snippet supplied by the
// context-retrieval collaborator.
type ContextChunk struct {
	Source string // e.g. a file path or symbol name
	Text   string
}

// TaskContext carries retrieved snippets and the token budget they must
// fit inside when assembled into the request.
type TaskContext struct {
	Chunks      []ContextChunk
	TokenBudget int
}

// Location optionally anchors the task to a file region.
type Location struct {
	File      string
	StartLine int
	EndLine   int
}

// Overrides are explicit per-call generation parameters. Nil fields fall
// back to the task-type defaults.
type Overrides struct {
	Temperature *float32
	MaxTokens   *int
}

// Task is a single dispatch request. Immutable once submitted.
type Task struct {
	// ID is the logical task id used to correlate cancellation. The
	// dispatcher assigns one when empty.
	ID        string
	Type      TaskType
	Query     string
	Context   *TaskContext
	Location  *Location
	Overrides *Overrides
}

// typeDefaults returns the generation parameters used when the caller
// supplies no override.
func typeDefaults(t TaskType) (temperature float32, maxTokens int) {
	switch t {
	case TaskGenerate:
		return 0.7, 1500
	case TaskComplete:
		return 0.7, 1000
	case TaskExplain, TaskDocument:
		return 0.3, 2000
	case TaskRefactor, TaskTest:
		return 0.2, 1000
	default:
		return 0.5, 1000
	}
}

// options resolves effective generation parameters: explicit overrides
// win, everything else comes from the task-type defaults.
func (t Task) options() llm.ChatOptions {
	temperature, maxTokens := typeDefaults(t.Type)
	if t.Overrides != nil {
		if t.Overrides.Temperature != nil {
			temperature = *t.Overrides.Temperature
		}
		if t.Overrides.MaxTokens != nil {
			maxTokens = *t.Overrides.MaxTokens
		}
	}
	return llm.ChatOptions{Temperature: temperature, MaxTokens: maxTokens}
}
