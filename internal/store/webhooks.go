package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrWebhookNotFound is returned when no webhook is configured for a module.
var ErrWebhookNotFound = errors.New("webhook not found")

// UpsertWebhook creates or replaces the webhook configuration for a module.
// One webhook per module, created at onboarding.
func (s *Store) UpsertWebhook(ctx context.Context, w *Webhook) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	events, err := encodeStrings(w.Events)
	if err != nil {
		return fmt.Errorf("store: encode webhook events: %w", err)
	}
	const q = `
		INSERT INTO webhooks (id, module_id, url, secret, events, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(module_id) DO UPDATE SET
			url    = excluded.url,
			secret = excluded.secret,
			events = excluded.events,
			active = excluded.active`
	if _, err := s.db.ExecContext(ctx, q,
		w.ID, w.ModuleID, w.URL, w.Secret, events, w.Active, formatTime(time.Now())); err != nil {
		return fmt.Errorf("store: upsert webhook for %q: %w", w.ModuleID, err)
	}

	var id string
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM webhooks WHERE module_id = ?", w.ModuleID).Scan(&id); err != nil {
		return fmt.Errorf("store: read back webhook for %q: %w", w.ModuleID, err)
	}
	w.ID = id
	return nil
}

// WebhookForModule returns the webhook configured for a module, or
// ErrWebhookNotFound.
func (s *Store) WebhookForModule(ctx context.Context, moduleID string) (*Webhook, error) {
	const q = `SELECT id, module_id, url, secret, events, active, created_at FROM webhooks WHERE module_id = ?`
	return s.scanWebhookRow(s.db.QueryRowContext(ctx, q, moduleID), moduleID)
}

func (s *Store) scanWebhookRow(row *sql.Row, key string) (*Webhook, error) {
	var (
		w         Webhook
		events    string
		active    int
		createdAt string
	)
	err := row.Scan(&w.ID, &w.ModuleID, &w.URL, &w.Secret, &events, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrWebhookNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan webhook %q: %w", key, err)
	}
	w.Active = active != 0
	if w.Events, err = decodeStrings(events); err != nil {
		return nil, fmt.Errorf("store: decode webhook events: %w", err)
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse webhook timestamp: %w", err)
	}
	return &w, nil
}

// RecordWebhookEvent appends one inbound delivery and returns its row ID.
// Events are recorded before processing so delivery is durable regardless of
// downstream outcomes.
func (s *Store) RecordWebhookEvent(ctx context.Context, webhookID, eventType string, payload []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO webhook_events (webhook_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)",
		webhookID, eventType, payload, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("store: record webhook event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: webhook event id: %w", err)
	}
	return id, nil
}

// MarkEventProcessed stamps an event's processing outcome. An empty errMsg
// means the event was handled cleanly.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE webhook_events SET processed = 1, processed_at = ?, error = ? WHERE id = ?",
		formatTime(time.Now()), errMsg, eventID)
	if err != nil {
		return fmt.Errorf("store: mark event %d processed: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark event rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: webhook event %d not found", eventID)
	}
	return nil
}

// EventsForWebhook returns a webhook's deliveries, newest first.
func (s *Store) EventsForWebhook(ctx context.Context, webhookID string, limit int) ([]WebhookEvent, error) {
	query := `SELECT id, webhook_id, event_type, payload, processed, processed_at, error, created_at
		FROM webhook_events WHERE webhook_id = ? ORDER BY id DESC`
	args := []any{webhookID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: events for webhook %q: %w", webhookID, err)
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		var (
			e           WebhookEvent
			processed   int
			processedAt sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.WebhookID, &e.EventType, &e.Payload, &processed, &processedAt, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan webhook event: %w", err)
		}
		e.Processed = processed != 0
		if e.ProcessedAt, err = parseNullTime(processedAt); err != nil {
			return nil, fmt.Errorf("store: parse event processed_at: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: parse event timestamp: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
