// Unit tests for the dispatcher: candidate iteration, fallback, timeout
// racing and cooperative cancellation. A fake connector stands in for the
// backend adapters.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kenjoel/asura-ai/internal/infra/eventbus"
	"github.com/kenjoel/asura-ai/internal/infra/llm"
)

type respondFunc func(ctx context.Context, model string, onChunk llm.ChunkFunc) (*llm.ChatResponse, error)

// fakeConnector implements llm.Connector with scripted responses and the
// same cancel bookkeeping as the real adapters.
type fakeConnector struct {
	id         string
	configured bool
	models     map[string]llm.ModelDescriptor
	respond    respondFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	calls  []string
}

func newFakeConnector(id string, configured bool, models []llm.ModelDescriptor, respond respondFunc) *fakeConnector {
	byName := make(map[string]llm.ModelDescriptor, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	return &fakeConnector{id: id, configured: configured, models: byName, respond: respond}
}

func (f *fakeConnector) ID() string         { return f.id }
func (f *fakeConnector) IsConfigured() bool { return f.configured }

func (f *fakeConnector) Model(name string) (llm.ModelDescriptor, bool) {
	m, ok := f.models[name]
	if !ok || !m.Enabled {
		return llm.ModelDescriptor{}, false
	}
	return m, true
}

func (f *fakeConnector) Chat(ctx context.Context, model string, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResponse, error) {
	return f.run(ctx, model, nil)
}

func (f *fakeConnector) StreamingChat(ctx context.Context, model string, _ []llm.Message, _ llm.ChatOptions, onChunk llm.ChunkFunc) (*llm.ChatResponse, error) {
	return f.run(ctx, model, onChunk)
}

func (f *fakeConnector) Embeddings(context.Context, string, string) ([]float32, error) {
	return nil, llm.ErrUnsupportedCapability
}

func (f *fakeConnector) CancelRequest() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (f *fakeConnector) run(ctx context.Context, model string, onChunk llm.ChunkFunc) (*llm.ChatResponse, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.mu.Lock()
	f.cancel = cancel
	f.calls = append(f.calls, model)
	f.mu.Unlock()
	return f.respond(callCtx, model, onChunk)
}

func (f *fakeConnector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fakeModels(connector string, names ...string) []llm.ModelDescriptor {
	out := make([]llm.ModelDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, llm.ModelDescriptor{
			Name: n, Connector: connector, BackendID: n, Enabled: true,
			Capabilities: []llm.Capability{llm.CapChat},
		})
	}
	return out
}

func respondWith(content string, tokens int) respondFunc {
	return func(context.Context, string, llm.ChunkFunc) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: content, Usage: llm.Usage{TotalTokens: tokens}, FinishReason: "stop"}, nil
	}
}

func respondErr(err error) respondFunc {
	return func(context.Context, string, llm.ChunkFunc) (*llm.ChatResponse, error) {
		return nil, err
	}
}

// blockUntilCancelled signals started once, then holds until the call
// context is torn down.
func blockUntilCancelled(started chan<- struct{}) respondFunc {
	var once sync.Once
	return func(ctx context.Context, _ string, _ llm.ChunkFunc) (*llm.ChatResponse, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, llm.ErrTimeout
		}
		return nil, llm.ErrCancelled
	}
}

func newTestDispatcher(cfg Config, bus eventbus.EventBus, defaults []string, conns ...llm.Connector) *Dispatcher {
	reg := llm.NewRegistry()
	for _, c := range conns {
		reg.Register(c)
	}
	return NewDispatcher(NewTaskRouter(nil, defaults), reg, cfg, bus)
}

func TestDispatcher_ExecuteTask_Success_PublishesCompletion(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sub := bus.Subscribe(TopicTaskEvents)

	conn := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o"), respondWith("package main", 9))
	d := newTestDispatcher(Config{Timeout: time.Second}, bus, []string{"gpt-4o"}, conn)

	resp, err := d.ExecuteTask(context.Background(), Task{Type: TaskGenerate, Query: "write main"}, nil)
	if err != nil {
		t.Fatalf("ExecuteTask failed: %v", err)
	}
	if resp.Content != "package main" {
		t.Errorf("unexpected content %q", resp.Content)
	}

	select {
	case evt := <-sub:
		te := evt.Payload.(TaskEvent)
		if te.Kind != EventCompleted || te.Model != "gpt-4o" || te.Tokens != 9 {
			t.Errorf("unexpected completion event %+v", te)
		}
		if te.TaskID == "" {
			t.Error("a task id must be assigned when the caller supplies none")
		}
	case <-time.After(time.Second):
		t.Fatal("no completion event published")
	}
}

func TestDispatcher_Fallback_Alternative_AdvancesToNextCandidate(t *testing.T) {
	t.Parallel()

	bad := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o"), respondErr(llm.ErrServerError))
	good := newFakeConnector("ollama", true, fakeModels("ollama", "qwen-coder"), respondWith("ok", 3))

	d := newTestDispatcher(Config{Timeout: time.Second, Fallback: FallbackAlternative}, nil,
		[]string{"gpt-4o", "qwen-coder"}, bad, good)

	resp, err := d.ExecuteTask(context.Background(), Task{Type: TaskGenerate, Query: "x"}, nil)
	if err != nil {
		t.Fatalf("fallback should recover: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected the second candidate's response, got %q", resp.Content)
	}
	if bad.callCount() != 1 || good.callCount() != 1 {
		t.Errorf("expected one call each, got %d/%d", bad.callCount(), good.callCount())
	}
}

func TestDispatcher_Fallback_Error_SurfacesFirstFailure(t *testing.T) {
	t.Parallel()

	bad := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o"), respondErr(llm.ErrServerError))
	good := newFakeConnector("ollama", true, fakeModels("ollama", "qwen-coder"), respondWith("ok", 3))

	d := newTestDispatcher(Config{Timeout: time.Second, Fallback: FallbackError}, nil,
		[]string{"gpt-4o", "qwen-coder"}, bad, good)

	_, err := d.ExecuteTask(context.Background(), Task{Type: TaskGenerate, Query: "x"}, nil)
	if !errors.Is(err, llm.ErrServerError) {
		t.Fatalf("expected the first failure, got %v", err)
	}
	if good.callCount() != 0 {
		t.Error("no further candidate may run under fallback=error")
	}
}

func TestDispatcher_Fallback_Retry_AdvancesLikeAlternative(t *testing.T) {
	t.Parallel()

	bad := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o"), respondErr(llm.ErrServerError))
	good := newFakeConnector("ollama", true, fakeModels("ollama", "qwen-coder"), respondWith("ok", 3))

	d := newTestDispatcher(Config{Timeout: time.Second, Fallback: FallbackRetry}, nil,
		[]string{"gpt-4o", "qwen-coder"}, bad, good)

	resp, err := d.ExecuteTask(context.Background(), Task{Type: TaskGenerate, Query: "x"}, nil)
	if err != nil {
		t.Fatalf("retry should advance to the next candidate: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected the second candidate's response, got %q", resp.Content)
	}
}

func TestDispatcher_SkipsUnknownDisabledAndUnconfigured(t *testing.T) {
	t.Parallel()

	disabled := llm.ModelDescriptor{Name: "off-model", Connector: "openai", Enabled: false}
	reachable := newFakeConnector("openai", true,
		append(fakeModels("openai", "gpt-4o"), disabled), respondWith("ok", 1))
	unconfigured := newFakeConnector("anthropic", false, fakeModels("anthropic", "claude-sonnet"), respondWith("never", 1))

	d := newTestDispatcher(Config{Timeout: time.Second}, nil,
		[]string{"missing", "off-model", "claude-sonnet", "gpt-4o"}, reachable, unconfigured)

	resp, err := d.ExecuteTask(context.Background(), Task{Type: TaskGeneral, Query: "x"}, nil)
	if err != nil {
		t.Fatalf("ExecuteTask failed: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected the reachable candidate, got %q", resp.Content)
	}
	if unconfigured.callCount() != 0 {
		t.Error("unconfigured connectors must never be called")
	}
}

func TestDispatcher_AllModelsFailed(t *testing.T) {
	t.Parallel()

	bad := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o", "gpt-4o-mini"), respondErr(llm.ErrServerError))
	d := newTestDispatcher(Config{Timeout: time.Second}, nil, []string{"gpt-4o", "gpt-4o-mini"}, bad)

	_, err := d.ExecuteTask(context.Background(), Task{Type: TaskTest, Query: "x"}, nil)
	var terminal *AllModelsFailedError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected AllModelsFailedError, got %v", err)
	}
	if terminal.TaskType != TaskTest || terminal.Attempts != 2 {
		t.Errorf("unexpected terminal error %+v", terminal)
	}
}

func TestDispatcher_AllCandidatesSkipped_ZeroAttempts(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{Timeout: time.Second}, nil, []string{"missing-a", "missing-b"})

	_, err := d.ExecuteTask(context.Background(), Task{Type: TaskGeneral, Query: "x"}, nil)
	var terminal *AllModelsFailedError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected AllModelsFailedError, got %v", err)
	}
	if terminal.Attempts != 0 {
		t.Errorf("skipped candidates must not count as attempts, got %d", terminal.Attempts)
	}
}

func TestDispatcher_Timeout_SurfacedUnderFallbackError(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	slow := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o"), blockUntilCancelled(started))

	timeout := 50 * time.Millisecond
	d := newTestDispatcher(Config{Timeout: timeout, Fallback: FallbackError}, nil, []string{"gpt-4o"}, slow)

	start := time.Now()
	_, err := d.ExecuteTask(context.Background(), Task{Type: TaskGenerate, Query: "x"}, nil)
	if !errors.Is(err, llm.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Errorf("timeout fired early after %v", elapsed)
	}
}

func TestDispatcher_Timeout_FallsThroughToNextCandidate(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	slow := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o"), blockUntilCancelled(started))
	fast := newFakeConnector("ollama", true, fakeModels("ollama", "qwen-coder"), respondWith("ok", 2))

	d := newTestDispatcher(Config{Timeout: 50 * time.Millisecond, Fallback: FallbackAlternative}, nil,
		[]string{"gpt-4o", "qwen-coder"}, slow, fast)

	resp, err := d.ExecuteTask(context.Background(), Task{Type: TaskGenerate, Query: "x"}, nil)
	if err != nil {
		t.Fatalf("expected recovery on the fast candidate: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("unexpected content %q", resp.Content)
	}
}

func TestDispatcher_CancelRequest_AbortsTaskWithoutFallback(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	blocked := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o"), blockUntilCancelled(started))
	next := newFakeConnector("ollama", true, fakeModels("ollama", "qwen-coder"), respondWith("never", 1))

	d := newTestDispatcher(Config{Timeout: time.Minute, Fallback: FallbackAlternative}, nil,
		[]string{"gpt-4o", "qwen-coder"}, blocked, next)

	errc := make(chan error, 1)
	go func() {
		_, err := d.ExecuteTask(context.Background(), Task{ID: "task-1", Type: TaskGenerate, Query: "x"}, nil)
		errc <- err
	}()

	<-started
	d.CancelRequest("task-1")

	select {
	case err := <-errc:
		if !errors.Is(err, llm.ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled task did not settle")
	}
	if next.callCount() != 0 {
		t.Error("a cancelled task must not fall back to another candidate")
	}
}

func TestDispatcher_CancelRequest_UnknownID_IsNoop(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{Timeout: time.Second}, nil, []string{"gpt-4o"})
	d.CancelRequest("never-submitted") // must not panic
}

func TestDispatcher_CancelAllRequests(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	blocked := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o"), blockUntilCancelled(started))

	d := newTestDispatcher(Config{Timeout: time.Minute, Fallback: FallbackError}, nil, []string{"gpt-4o"}, blocked)

	errc := make(chan error, 1)
	go func() {
		_, err := d.ExecuteTask(context.Background(), Task{Type: TaskComplete, Query: "x"}, nil)
		errc <- err
	}()

	<-started
	if d.InFlight() != 1 {
		t.Errorf("expected 1 in-flight task, got %d", d.InFlight())
	}
	d.CancelAllRequests()

	select {
	case err := <-errc:
		if !errors.Is(err, llm.ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled task did not settle")
	}
	if d.InFlight() != 0 {
		t.Errorf("expected no in-flight tasks after settling, got %d", d.InFlight())
	}
}

func TestDispatcher_Streaming_ForwardsChunksInOrder(t *testing.T) {
	t.Parallel()

	conn := newFakeConnector("openai", true, fakeModels("openai", "gpt-4o"),
		func(_ context.Context, _ string, onChunk llm.ChunkFunc) (*llm.ChatResponse, error) {
			onChunk("He", false)
			onChunk("llo", false)
			onChunk("", true)
			return &llm.ChatResponse{Content: "Hello", Usage: llm.Usage{TotalTokens: 2}}, nil
		})
	d := newTestDispatcher(Config{Timeout: time.Second}, nil, []string{"gpt-4o"}, conn)

	type chunk struct {
		text string
		done bool
	}
	var chunks []chunk
	resp, err := d.ExecuteTask(context.Background(), Task{Type: TaskComplete, Query: "hi"}, func(text string, done bool) {
		chunks = append(chunks, chunk{text, done})
	})
	if err != nil {
		t.Fatalf("ExecuteTask failed: %v", err)
	}
	want := []chunk{{"He", false}, {"llo", false}, {"", true}}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %v", len(want), len(chunks), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d: expected %+v, got %+v", i, want[i], chunks[i])
		}
	}
	if resp.Content != "Hello" {
		t.Errorf("unexpected consolidated content %q", resp.Content)
	}
}

func TestDispatcher_AddTaskSelector_TakesPrecedence(t *testing.T) {
	t.Parallel()

	conn := newFakeConnector("c1", true, fakeModels("c1", "m-default", "m-special"), respondWith("ok", 1))
	d := newTestDispatcher(Config{Timeout: time.Second}, nil, []string{"m-default"}, conn)

	d.AddTaskSelector(TypeSelector("special", []TaskType{TaskRefactor}, []string{"m-special"}))

	if _, err := d.ExecuteTask(context.Background(), Task{Type: TaskRefactor, Query: "q"}, nil); err != nil {
		t.Fatalf("ExecuteTask failed: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.calls) != 1 || conn.calls[0] != "m-special" {
		t.Errorf("expected the added selector's model to serve the task, got %v", conn.calls)
	}
}
