package audit

import (
	"encoding/json"
	"time"
)

// Event is a single audit log entry.
// Append-only: once created it is never modified.
type Event struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"client_id,omitempty"`
	Action    string          `json:"action"`
	Success   bool            `json:"success"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Entry is the write-side shape; the service assigns id and timestamp.
type Entry struct {
	ClientID string
	Action   string
	Success  bool
	Details  map[string]any
}

// Actions recorded by the service.
const (
	ActionTaskCompleted  = "task.completed"
	ActionTaskFailed     = "task.failed"
	ActionTaskExhausted  = "task.exhausted"
	ActionTokenIssued    = "auth.token_issued"
	ActionTokenRejected  = "auth.token_rejected"
	ActionTasksCancelled = "task.cancelled"
)
