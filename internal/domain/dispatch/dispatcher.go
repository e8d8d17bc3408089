package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kenjoel/asura-ai/internal/infra/eventbus"
	"github.com/kenjoel/asura-ai/internal/infra/llm"
)

// FallbackBehavior controls what happens after a candidate model fails.
type FallbackBehavior string

const (
	// FallbackError surfaces the first failure to the caller.
	FallbackError FallbackBehavior = "error"
	// FallbackAlternative advances to the next candidate model.
	FallbackAlternative FallbackBehavior = "alternative"
	// FallbackRetry also advances to the next candidate; a same-model
	// retry would hit the same failure inside one rate window.
	FallbackRetry FallbackBehavior = "retry"
)

// TopicTaskEvents is the bus topic task lifecycle events are published on.
const TopicTaskEvents = "dispatch.tasks"

// Task event kinds.
const (
	EventCompleted     = "completed"
	EventAttemptFailed = "attempt_failed"
	EventExhausted     = "exhausted"
)

// TaskEvent is published on the bus for each dispatch outcome. Consumed by
// the audit recorder off the request path.
type TaskEvent struct {
	TaskID    string
	TaskType  TaskType
	Kind      string
	Model     string
	Connector string
	Error     string
	Duration  time.Duration
	Tokens    int
}

// AllModelsFailedError is the terminal failure after every candidate was
// tried without success.
type AllModelsFailedError struct {
	TaskType TaskType
	Attempts int
}

func (e *AllModelsFailedError) Error() string {
	return fmt.Sprintf("all models failed for task type %q after %d attempts", e.TaskType, e.Attempts)
}

// Config carries the dispatcher's runtime knobs.
type Config struct {
	// Timeout bounds each candidate attempt. Defaults to 30s.
	Timeout  time.Duration
	Fallback FallbackBehavior
}

const defaultAttemptTimeout = 30 * time.Second

// Dispatcher executes tasks against the candidate models chosen by the
// router, falling back across candidates on failure and tracking in-flight
// work for cooperative cancellation.
type Dispatcher struct {
	router   *TaskRouter
	registry *llm.Registry
	cfg      Config
	bus      eventbus.EventBus

	mu       sync.Mutex
	inflight map[string]llm.Connector // task id -> connector serving it
}

func NewDispatcher(router *TaskRouter, registry *llm.Registry, cfg Config, bus eventbus.EventBus) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAttemptTimeout
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackAlternative
	}
	return &Dispatcher{
		router:   router,
		registry: registry,
		cfg:      cfg,
		bus:      bus,
		inflight: make(map[string]llm.Connector),
	}
}

// ExecuteTask runs the task against the router's candidates in order. A
// non-nil onChunk selects streaming delivery; its terminal call fires only
// for the attempt that succeeds. Candidates that are unknown, disabled or
// unconfigured are skipped without counting as attempts.
func (d *Dispatcher) ExecuteTask(ctx context.Context, task Task, onChunk llm.ChunkFunc) (*llm.ChatResponse, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	candidates, err := d.router.Select(task)
	if err != nil {
		return nil, err
	}

	messages := BuildMessages(task)
	opts := task.options()

	attempts := 0
	for _, name := range candidates {
		m, conn, ok := d.registry.Resolve(name)
		if !ok || !conn.IsConfigured() {
			continue
		}
		attempts++

		d.track(task.ID, conn)
		start := time.Now()
		resp, err := d.attempt(ctx, conn, m, messages, opts, onChunk)
		d.untrack(task.ID)

		if err == nil {
			d.publish(TaskEvent{
				TaskID: task.ID, TaskType: task.Type, Kind: EventCompleted,
				Model: m.Name, Connector: conn.ID(),
				Duration: time.Since(start), Tokens: resp.Usage.TotalTokens,
			})
			return resp, nil
		}

		d.publish(TaskEvent{
			TaskID: task.ID, TaskType: task.Type, Kind: EventAttemptFailed,
			Model: m.Name, Connector: conn.ID(),
			Error: err.Error(), Duration: time.Since(start),
		})

		// Cancellation is final: the caller asked for the task to stop,
		// so no further candidate may run.
		if errors.Is(err, llm.ErrCancelled) || d.cfg.Fallback == FallbackError {
			return nil, err
		}
	}

	d.publish(TaskEvent{TaskID: task.ID, TaskType: task.Type, Kind: EventExhausted})
	return nil, &AllModelsFailedError{TaskType: task.Type, Attempts: attempts}
}

// attempt races one candidate call against the per-attempt timeout and the
// caller's context. On timeout the transport is aborted and any late
// chunks are suppressed; the straggler goroutine settles into the
// buffered channel.
func (d *Dispatcher) attempt(ctx context.Context, conn llm.Connector, m llm.ModelDescriptor, messages []llm.Message, opts llm.ChatOptions, onChunk llm.ChunkFunc) (*llm.ChatResponse, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var guard *chunkGuard
	if onChunk != nil {
		guard = &chunkGuard{fn: onChunk}
	}

	type outcome struct {
		resp *llm.ChatResponse
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		var resp *llm.ChatResponse
		var err error
		if guard != nil {
			resp, err = conn.StreamingChat(attemptCtx, m.Name, messages, opts, guard.forward)
		} else {
			resp, err = conn.Chat(attemptCtx, m.Name, messages, opts)
		}
		ch <- outcome{resp, err}
	}()

	timer := time.NewTimer(d.cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.resp, out.err
	case <-timer.C:
		guard.stop()
		cancel()
		return nil, llm.ErrTimeout
	case <-ctx.Done():
		guard.stop()
		cancel()
		return nil, llm.ErrCancelled
	}
}

// AddTaskSelector registers a selector consulted before all existing
// ones for subsequent tasks.
func (d *Dispatcher) AddTaskSelector(s Selector) {
	d.router.AddSelector(s)
}

// CancelRequest aborts the connector call serving taskID. Unknown or
// already-settled ids are a no-op.
func (d *Dispatcher) CancelRequest(taskID string) {
	d.mu.Lock()
	conn := d.inflight[taskID]
	d.mu.Unlock()
	if conn != nil {
		conn.CancelRequest()
	}
}

// CancelAllRequests aborts every in-flight task.
func (d *Dispatcher) CancelAllRequests() {
	d.mu.Lock()
	conns := make([]llm.Connector, 0, len(d.inflight))
	for _, c := range d.inflight {
		conns = append(conns, c)
	}
	d.mu.Unlock()
	for _, c := range conns {
		c.CancelRequest()
	}
}

// InFlight reports the number of tasks currently executing.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

func (d *Dispatcher) track(taskID string, conn llm.Connector) {
	d.mu.Lock()
	d.inflight[taskID] = conn
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(taskID string) {
	d.mu.Lock()
	delete(d.inflight, taskID)
	d.mu.Unlock()
}

func (d *Dispatcher) publish(evt TaskEvent) {
	if d.bus != nil {
		d.bus.Publish(TopicTaskEvents, evt)
	}
}

// chunkGuard suppresses chunk callbacks once an attempt has been abandoned
// so a straggler stream cannot write after the dispatcher moved on.
type chunkGuard struct {
	mu      sync.Mutex
	stopped bool
	fn      llm.ChunkFunc
}

func (g *chunkGuard) forward(text string, done bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.fn(text, done)
}

func (g *chunkGuard) stop() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
}
