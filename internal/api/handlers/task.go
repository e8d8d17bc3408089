package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kenjoel/asura-ai/internal/domain/assist"
	"github.com/kenjoel/asura-ai/internal/domain/dispatch"
	"github.com/kenjoel/asura-ai/internal/infra/llm"
)

// statusClientClosedRequest mirrors nginx's convention for requests the
// client abandoned before a response was produced.
const statusClientClosedRequest = 499

// defaultContextBudget caps auto-retrieved context when the caller did
// not set a budget.
const defaultContextBudget = 2000

// TaskDispatcher is the dispatcher surface the handler needs.
type TaskDispatcher interface {
	ExecuteTask(ctx context.Context, task dispatch.Task, onChunk llm.ChunkFunc) (*llm.ChatResponse, error)
	CancelRequest(taskID string)
	CancelAllRequests()
}

// TaskHandler executes and cancels coding-assistant tasks over HTTP.
// When a request carries no context of its own and a retriever is
// configured, the handler fills the context before dispatch.
type TaskHandler struct {
	dispatcher TaskDispatcher
	retriever  assist.Retriever
}

func NewTaskHandler(dispatcher TaskDispatcher, retriever assist.Retriever) *TaskHandler {
	return &TaskHandler{dispatcher: dispatcher, retriever: retriever}
}

type chunkRequest struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

type taskContextRequest struct {
	Chunks      []chunkRequest `json:"chunks"`
	TokenBudget int            `json:"token_budget"`
}

type locationRequest struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

type taskOptionsRequest struct {
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type taskRequest struct {
	ID       string              `json:"id,omitempty"`
	Type     string              `json:"type"`
	Query    string              `json:"query"`
	Context  *taskContextRequest `json:"context,omitempty"`
	Location *locationRequest    `json:"location,omitempty"`
	Options  *taskOptionsRequest `json:"options,omitempty"`
}

type usageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type taskResponse struct {
	TaskID       string        `json:"task_id"`
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason"`
	Usage        usageResponse `json:"usage"`
}

// streamFrame is one SSE data payload. Text frames carry Text, the
// terminal frame carries Done plus the usage summary, error frames
// carry Error.
type streamFrame struct {
	Text  string         `json:"text,omitempty"`
	Done  bool           `json:"done,omitempty"`
	Error string         `json:"error,omitempty"`
	Model string         `json:"model,omitempty"`
	Usage *usageResponse `json:"usage,omitempty"`
}

// Execute handles POST /api/v1/tasks.
func (h *TaskHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	task := h.buildTask(r.Context(), req)

	if req.Options != nil && req.Options.Stream {
		h.executeStream(w, r, task)
		return
	}

	resp, err := h.dispatcher.ExecuteTask(r.Context(), task, nil)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(http.StatusOK)
	writeJSONOr500(w, taskResponse{
		TaskID:       task.ID,
		Content:      resp.Content,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
		Usage: usageResponse{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	})
}

// buildTask converts the wire request into a dispatch.Task, assigning
// the task id up front so it can be reported before execution begins.
func (h *TaskHandler) buildTask(ctx context.Context, req taskRequest) dispatch.Task {
	task := dispatch.Task{
		ID:    req.ID,
		Type:  taskType(req.Type),
		Query: req.Query,
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	if req.Context != nil {
		tc := &dispatch.TaskContext{TokenBudget: req.Context.TokenBudget}
		for _, c := range req.Context.Chunks {
			tc.Chunks = append(tc.Chunks, dispatch.ContextChunk{Source: c.Source, Text: c.Text})
		}
		task.Context = tc
	} else if h.retriever != nil {
		chunks, err := h.retriever.GetContext(ctx, req.Query, defaultContextBudget)
		if err != nil {
			// Retrieval is best-effort; the task still runs without context.
			log.Printf("context retrieval failed for task %s: %v", task.ID, err)
		} else if len(chunks) > 0 {
			task.Context = &dispatch.TaskContext{Chunks: chunks, TokenBudget: defaultContextBudget}
		}
	}

	if req.Location != nil {
		task.Location = &dispatch.Location{
			File:      req.Location.File,
			StartLine: req.Location.StartLine,
			EndLine:   req.Location.EndLine,
		}
	}
	if req.Options != nil && (req.Options.Temperature != nil || req.Options.MaxTokens != nil) {
		task.Overrides = &dispatch.Overrides{
			Temperature: req.Options.Temperature,
			MaxTokens:   req.Options.MaxTokens,
		}
	}
	return task
}

func taskType(s string) dispatch.TaskType {
	if s == "" {
		return dispatch.TaskGeneral
	}
	return dispatch.TaskType(s)
}

// executeStream runs the task with chunk forwarding over SSE. The task
// id goes out in the X-Task-ID header so the client can cancel mid-stream.
func (h *TaskHandler) executeStream(w http.ResponseWriter, r *http.Request, task dispatch.Task) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set(headerContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Task-ID", task.ID)
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	writeFrame := func(frame streamFrame) {
		data, err := json.Marshal(frame)
		if err != nil {
			return
		}
		fmt.Fprintf(bw, "data: %s\n\n", data)
		bw.Flush()
		flusher.Flush()
	}

	onChunk := func(text string, done bool) {
		if done {
			// Terminal bookkeeping is emitted after ExecuteTask returns,
			// with model and usage attached.
			return
		}
		writeFrame(streamFrame{Text: text})
	}

	resp, err := h.dispatcher.ExecuteTask(r.Context(), task, onChunk)
	if err != nil {
		writeFrame(streamFrame{Error: err.Error(), Done: true})
		return
	}

	writeFrame(streamFrame{
		Done:  true,
		Model: resp.Model,
		Usage: &usageResponse{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	})
}

// Cancel handles POST /api/v1/tasks/{id}/cancel. Cancelling an unknown
// or already-finished task is a no-op.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	h.dispatcher.CancelRequest(taskID)

	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(http.StatusAccepted)
	writeJSONOr500(w, map[string]string{"status": "cancellation requested", "task_id": taskID})
}

// CancelAll handles POST /api/v1/tasks/cancel.
func (h *TaskHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.CancelAllRequests()

	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(http.StatusAccepted)
	writeJSONOr500(w, map[string]string{"status": "cancellation requested"})
}

// writeDispatchError maps dispatch and connector failures onto HTTP
// status codes.
func writeDispatchError(w http.ResponseWriter, err error) {
	var rateLimitErr *llm.RateLimitError
	var allFailed *dispatch.AllModelsFailedError

	switch {
	case errors.As(err, &rateLimitErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimitErr.RetryAfter))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, llm.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, llm.ErrInvalidRequest), errors.Is(err, llm.ErrUnsupportedCapability):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, llm.ErrModelNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, llm.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, llm.ErrCancelled):
		writeError(w, statusClientClosedRequest, err.Error())
	case errors.Is(err, dispatch.ErrNoSelectorAvailable):
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.As(err, &allFailed),
		errors.Is(err, llm.ErrServerError),
		errors.Is(err, llm.ErrAuthenticationFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
