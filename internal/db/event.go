package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/cswenor/conductor/internal/errors"
	"github.com/cswenor/conductor/internal/event"
)

// Event is one row in the append-only event log. Fact events record what
// happened; decision events record what the orchestrator decided. Run-scoped
// events carry a per-run sequence number that totally orders them.
type Event struct {
	EventID        string
	RunID          string
	Type           event.Type
	Class          event.Class
	Source         event.Source
	Payload        string
	Sequence       int64
	IdempotencyKey string
	CausationID    string
	CorrelationID  string
	CreatedAt      time.Time
	ProcessedAt    time.Time
}

// AppendEvent appends an event in its own transaction. Duplicate idempotency
// keys are silently dropped (at-least-once delivery upstream means redelivery
// is normal, not an error).
func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	return s.RunInTx(ctx, func(tx *TxOps) error {
		_, err := AppendEventTx(tx, e)
		return err
	})
}

// AppendEventTx appends an event within a transaction. It validates class and
// source, enforces source authority, assigns a sequence number to run-scoped
// events, and dedups on idempotency key. Returns false (with nil error) when
// the key was already present and nothing was inserted.
//
// Events with no sequence auto-allocate one past the highest in the log;
// they never advance the run's next_sequence reservation. The orchestrator
// passes an explicit sequence computed as max(reservation, 1 + log max), so
// worker facts interleave with decisions without either blocking the other.
func AppendEventTx(tx *TxOps, e *Event) (bool, error) {
	if !event.ValidClass(e.Class) {
		return false, cerrors.ErrValidation(fmt.Sprintf("unknown event class %q", e.Class))
	}
	if !event.ValidSource(e.Source) {
		return false, cerrors.ErrValidation(fmt.Sprintf("unknown event source %q", e.Source))
	}
	if e.IdempotencyKey == "" {
		return false, cerrors.ErrValidation("idempotency key is required")
	}
	if event.OrchestratorOnly(e.Type) && e.Source != event.SourceOrchestrator {
		return false, cerrors.ErrForbiddenSource(string(e.Type), string(e.Source))
	}
	if e.Class == event.ClassDecision && e.Source != event.SourceOrchestrator {
		return false, cerrors.ErrForbiddenSource(string(e.Type), string(e.Source))
	}

	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	if e.RunID != "" && e.Sequence == 0 {
		maxSeq, err := MaxSequenceTx(tx, e.RunID)
		if err != nil {
			return false, err
		}
		e.Sequence = maxSeq + 1
	}

	res, err := tx.Exec(`
		INSERT INTO events (event_id, run_id, type, class, source, payload,
			sequence, idempotency_key, causation_id, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		e.EventID, nullString(e.RunID), string(e.Type), string(e.Class),
		string(e.Source), nullString(e.Payload), nullInt64(e.Sequence),
		e.IdempotencyKey, nullString(e.CausationID), nullString(e.CorrelationID),
		formatTime(e.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MaxSequenceTx returns the highest sequence number in the log for a run,
// or 0 when the run has no sequenced events yet.
func MaxSequenceTx(tx *TxOps, runID string) (int64, error) {
	var maxSeq sql.NullInt64
	row := tx.QueryRow(`
		SELECT MAX(sequence) FROM events
		WHERE run_id = ? AND sequence IS NOT NULL`, runID)
	if err := row.Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return maxSeq.Int64, nil
}

const eventColumns = `event_id, run_id, type, class, source, payload,
	sequence, idempotency_key, causation_id, correlation_id, created_at, processed_at`

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(eventID string) (*Event, error) {
	row := s.QueryRow(`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, eventID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, cerrors.New(cerrors.CodeEventNotFound, fmt.Sprintf("event %s not found", eventID))
	}
	return e, err
}

// GetEventByKey retrieves an event by idempotency key.
func (s *Store) GetEventByKey(key string) (*Event, error) {
	row := s.QueryRow(`SELECT `+eventColumns+` FROM events WHERE idempotency_key = ?`, key)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, cerrors.New(cerrors.CodeEventNotFound, fmt.Sprintf("event with key %s not found", key))
	}
	return e, err
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var runID, payload, causationID, correlationID, processedAt sql.NullString
	var sequence sql.NullInt64
	var typ, class, source, createdAt string

	err := row.Scan(&e.EventID, &runID, &typ, &class, &source, &payload,
		&sequence, &e.IdempotencyKey, &causationID, &correlationID,
		&createdAt, &processedAt)
	if err != nil {
		return nil, err
	}

	e.RunID = runID.String
	e.Type = event.Type(typ)
	e.Class = event.Class(class)
	e.Source = event.Source(source)
	e.Payload = payload.String
	e.Sequence = sequence.Int64
	e.CausationID = causationID.String
	e.CorrelationID = correlationID.String
	e.CreatedAt = parseTime(createdAt)
	if processedAt.Valid {
		e.ProcessedAt = parseTime(processedAt.String)
	}
	return &e, nil
}

// ListRunEvents returns all events for a run in log order: sequenced events
// first by sequence, then unsequenced ones by append time.
func (s *Store) ListRunEvents(runID string) ([]*Event, error) {
	return s.ListRunEventsPage(runID, -1, 0)
}

// ListRunEventsPage returns a window of a run's events in log order.
// A negative limit returns everything.
func (s *Store) ListRunEventsPage(runID string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + ` FROM events
		WHERE run_id = ?
		ORDER BY sequence IS NULL, sequence ASC, created_at ASC`
	args := []any{runID}
	// sqlite rejects a NULL bound to LIMIT, so the clause only appears
	// when the caller wants a bound.
	if limit >= 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListUnprocessedEvents returns events the orchestrator has not reacted to
// yet, oldest first.
func (s *Store) ListUnprocessedEvents(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventProcessed stamps an event as handled by the orchestrator.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) error {
	_, err := s.ExecContext(ctx, `
		UPDATE events SET processed_at = ? WHERE event_id = ? AND processed_at IS NULL`,
		formatTime(time.Now()), eventID)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// MarkEventProcessedTx stamps an event as handled within a transaction.
func MarkEventProcessedTx(tx *TxOps, eventID string) error {
	_, err := tx.Exec(`
		UPDATE events SET processed_at = ? WHERE event_id = ? AND processed_at IS NULL`,
		formatTime(time.Now()), eventID)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}
