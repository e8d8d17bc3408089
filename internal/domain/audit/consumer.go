package audit

import (
	"context"
	"log"

	"github.com/kenjoel/asura-ai/internal/domain/dispatch"
	"github.com/kenjoel/asura-ai/internal/infra/eventbus"
)

// ConsumeTaskEvents drains dispatch lifecycle events from the bus into the
// recorder until ctx is cancelled. Run it in its own goroutine; a failed
// insert is logged and skipped, never retried.
func ConsumeTaskEvents(ctx context.Context, bus eventbus.EventBus, rec Recorder) {
	events := bus.Subscribe(dispatch.TopicTaskEvents)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			te, ok := evt.Payload.(dispatch.TaskEvent)
			if !ok {
				continue
			}
			entry := entryFromTaskEvent(te)
			if err := rec.Record(ctx, entry); err != nil {
				log.Printf("audit: record %s: %v", entry.Action, err)
			}
		}
	}
}

func entryFromTaskEvent(te dispatch.TaskEvent) Entry {
	details := map[string]any{
		"task_id":   te.TaskID,
		"task_type": string(te.TaskType),
	}
	if te.Model != "" {
		details["model"] = te.Model
	}
	if te.Connector != "" {
		details["connector"] = te.Connector
	}
	if te.Error != "" {
		details["error"] = te.Error
	}
	if te.Duration > 0 {
		details["duration_ms"] = te.Duration.Milliseconds()
	}
	if te.Tokens > 0 {
		details["tokens"] = te.Tokens
	}

	switch te.Kind {
	case dispatch.EventCompleted:
		return Entry{Action: ActionTaskCompleted, Success: true, Details: details}
	case dispatch.EventExhausted:
		return Entry{Action: ActionTaskExhausted, Success: false, Details: details}
	default:
		return Entry{Action: ActionTaskFailed, Success: false, Details: details}
	}
}
