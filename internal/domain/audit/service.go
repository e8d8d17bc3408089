// Package audit records dispatch outcomes in an append-only store.
// The dispatcher never calls it directly: events arrive over the bus so
// recording cannot block the request path.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recorder is the collaborator contract the rest of the service depends
// on. All operations are append-only; no updates or deletes exist.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Service is the sqlite-backed Recorder.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record appends one audit event. The id is a UUIDv7 so events sort by
// creation time.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	details := []byte("{}")
	if len(entry.Details) > 0 {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit: event id: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, client_id, action, success, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), entry.ClientID, entry.Action, boolToInt(entry.Success),
		string(details), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// List returns events newest-first with the total count for pagination.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Event, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, action, success, details, created_at
		FROM audit_events
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			evt       Event
			success   int
			details   string
			createdAt string
		)
		if err := rows.Scan(&evt.ID, &evt.ClientID, &evt.Action, &success, &details, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("audit: scan: %w", err)
		}
		evt.Success = success != 0
		evt.Details = json.RawMessage(details)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			evt.CreatedAt = ts
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("audit: rows: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count: %w", err)
	}
	return events, total, nil
}

// ListByAction returns events for one action, newest-first.
func (s *Service) ListByAction(ctx context.Context, action string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, action, success, details, created_at
		FROM audit_events
		WHERE action = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, action, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list by action: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			evt       Event
			success   int
			details   string
			createdAt string
		)
		if err := rows.Scan(&evt.ID, &evt.ClientID, &evt.Action, &success, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		evt.Success = success != 0
		evt.Details = json.RawMessage(details)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			evt.CreatedAt = ts
		}
		events = append(events, &evt)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
