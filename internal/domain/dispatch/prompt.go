package dispatch

import (
	"fmt"
	"strings"

	"github.com/kenjoel/asura-ai/internal/infra/llm"
)

// systemPrompt returns the instruction turn for a task type.
func systemPrompt(t TaskType) string {
	switch t {
	case TaskGenerate:
		return "You are a coding assistant. Generate code that satisfies the request. Reply with code first, then a brief explanation if needed."
	case TaskComplete:
		return "You are a code completion engine. Continue the given code naturally. Reply with the completion only, no commentary."
	case TaskExplain:
		return "You are a coding assistant. Explain the given code clearly and accurately for a developer reading it for the first time."
	case TaskDocument:
		return "You are a coding assistant. Write documentation for the given code: purpose, parameters, return values and caveats."
	case TaskRefactor:
		return "You are a coding assistant. Refactor the given code preserving its behavior. Reply with the refactored code and note every behavioral assumption."
	case TaskTest:
		return "You are a coding assistant. Write tests for the given code covering the main paths and the edge cases."
	default:
		return "You are a coding assistant. Answer the developer's request accurately and concisely."
	}
}

// BuildMessages assembles the chat turns for a task: one system turn for
// the task type, retrieved context trimmed to its token budget, and the
// user query with an optional file-location anchor.
func BuildMessages(task Task) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: systemPrompt(task.Type)}}

	if block := contextBlock(task.Context); block != "" {
		messages = append(messages, llm.Message{Role: "user", Content: block})
	}

	query := task.Query
	if task.Location != nil && task.Location.File != "" {
		query = fmt.Sprintf("%s\n\n(refers to %s lines %d-%d)",
			query, task.Location.File, task.Location.StartLine, task.Location.EndLine)
	}
	messages = append(messages, llm.Message{Role: "user", Content: query})
	return messages
}

// contextBlock renders retrieved chunks in order, stopping before the
// chunk that would push the estimated token count past the budget. A zero
// budget means unbounded.
func contextBlock(tc *TaskContext) string {
	if tc == nil || len(tc.Chunks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant context:\n")
	used := 0
	wrote := false
	for _, chunk := range tc.Chunks {
		entry := fmt.Sprintf("--- %s ---\n%s\n", chunk.Source, chunk.Text)
		cost := len(entry) / 4
		if tc.TokenBudget > 0 && used+cost > tc.TokenBudget {
			break
		}
		b.WriteString(entry)
		used += cost
		wrote = true
	}
	if !wrote {
		return ""
	}
	return b.String()
}
