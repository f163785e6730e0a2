package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outbox write statuses. Terminal statuses are completed and cancelled;
// a failed row stays eligible for retry until its retry budget runs out.
const (
	WriteStatusQueued     = "queued"
	WriteStatusProcessing = "processing"
	WriteStatusCompleted  = "completed"
	WriteStatusFailed     = "failed"
	WriteStatusCancelled  = "cancelled"
)

// Outbox write kinds. Reserved kinds are accepted at enqueue but fail
// permanently at dispatch.
const (
	WriteKindComment     = "comment"
	WriteKindPullRequest = "pull_request"
	WriteKindCheckRun    = "check_run"
	WriteKindBranch      = "branch"

	WriteKindLabel              = "label"
	WriteKindReview             = "review"
	WriteKindProjectFieldUpdate = "project_field_update"
)

// GitHubWrite is one outbox row: an intended external side effect, recorded
// durably before any network call is made.
type GitHubWrite struct {
	GitHubWriteID  string
	RunID          string
	Kind           string
	TargetNodeID   string
	TargetType     string
	IdempotencyKey string
	PayloadHash    string
	Payload        string
	Status         string
	RetryCount     int64
	Permanent      bool
	Error          string
	GitHubID       int64
	GitHubNodeID   string
	GitHubURL      string
	GitHubNumber   int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SentAt         time.Time
}

// EnqueueWrite records an intended GitHub write. When a row with the same
// idempotency key already exists, the existing row is returned with isNew
// false and nothing is inserted.
func (s *Store) EnqueueWrite(ctx context.Context, w *GitHubWrite) (isNew bool, err error) {
	if w.GitHubWriteID == "" {
		w.GitHubWriteID = uuid.NewString()
	}
	if w.IdempotencyKey == "" {
		w.IdempotencyKey = fmt.Sprintf("%s:%s:%s:%s", w.RunID, w.Kind, w.TargetNodeID, w.PayloadHash)
	}
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	w.Status = WriteStatusQueued

	res, err := s.ExecContext(ctx, `
		INSERT INTO github_writes (github_write_id, run_id, kind,
			target_node_id, target_type, idempotency_key, payload_hash,
			payload, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		w.GitHubWriteID, w.RunID, w.Kind,
		nullString(w.TargetNodeID), nullString(w.TargetType),
		w.IdempotencyKey, w.PayloadHash, w.Payload, w.Status,
		formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("enqueue write: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	existing, err := s.GetWriteByKey(ctx, w.IdempotencyKey)
	if err != nil {
		return false, err
	}
	*w = *existing
	return false, nil
}

const writeColumns = `github_write_id, run_id, kind, target_node_id,
	target_type, idempotency_key, payload_hash, payload, status, retry_count,
	permanent, error, github_id, github_node_id, github_url, github_number,
	created_at, updated_at, sent_at`

// GetWrite retrieves an outbox row by ID.
func (s *Store) GetWrite(ctx context.Context, id string) (*GitHubWrite, error) {
	row := s.QueryRowContext(ctx, `
		SELECT `+writeColumns+` FROM github_writes WHERE github_write_id = ?`, id)
	return scanWrite(row)
}

// GetWriteByKey retrieves an outbox row by idempotency key.
func (s *Store) GetWriteByKey(ctx context.Context, key string) (*GitHubWrite, error) {
	row := s.QueryRowContext(ctx, `
		SELECT `+writeColumns+` FROM github_writes WHERE idempotency_key = ?`, key)
	return scanWrite(row)
}

func scanWrite(row rowScanner) (*GitHubWrite, error) {
	var w GitHubWrite
	var targetNodeID, targetType, errMsg, nodeID, url, sentAt sql.NullString
	var githubID, githubNumber sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(&w.GitHubWriteID, &w.RunID, &w.Kind, &targetNodeID,
		&targetType, &w.IdempotencyKey, &w.PayloadHash, &w.Payload,
		&w.Status, &w.RetryCount, &w.Permanent, &errMsg, &githubID, &nodeID,
		&url, &githubNumber, &createdAt, &updatedAt, &sentAt)
	if err != nil {
		return nil, err
	}
	w.TargetNodeID = targetNodeID.String
	w.TargetType = targetType.String
	w.Error = errMsg.String
	w.GitHubID = githubID.Int64
	w.GitHubNodeID = nodeID.String
	w.GitHubURL = url.String
	w.GitHubNumber = githubNumber.Int64
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	if sentAt.Valid {
		w.SentAt = parseTime(sentAt.String)
	}
	return &w, nil
}

// ListPendingWrites returns up to limit rows eligible for processing, oldest
// first. A failed row is pending until its retry budget is exhausted.
func (s *Store) ListPendingWrites(ctx context.Context, limit int, runID string, maxRetries int64) ([]*GitHubWrite, error) {
	query := `
		SELECT ` + writeColumns + ` FROM github_writes
		WHERE status IN ('queued', 'failed') AND NOT permanent AND retry_count < ?`
	args := []any{maxRetries}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending writes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var writes []*GitHubWrite
	for rows.Next() {
		w, err := scanWrite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan write: %w", err)
		}
		writes = append(writes, w)
	}
	return writes, rows.Err()
}

// ClaimWrite moves a row to processing if no other worker has claimed it.
// Returns false when the CAS lost: the row is no longer queued or failed.
func (s *Store) ClaimWrite(ctx context.Context, id string) (bool, error) {
	res, err := s.ExecContext(ctx, `
		UPDATE github_writes SET status = 'processing', updated_at = ?
		WHERE github_write_id = ? AND status IN ('queued', 'failed')`,
		formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("claim write: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkWriteCompleted records a successful delivery with the identifiers
// GitHub returned, and clears any prior error.
func (s *Store) MarkWriteCompleted(ctx context.Context, id string, githubID int64, nodeID, url string, number int64) error {
	now := formatTime(time.Now())
	_, err := s.ExecContext(ctx, `
		UPDATE github_writes
		SET status = 'completed', error = NULL, github_id = ?,
			github_node_id = ?, github_url = ?, github_number = ?,
			sent_at = ?, updated_at = ?
		WHERE github_write_id = ?`,
		nullInt64(githubID), nullString(nodeID), nullString(url),
		nullInt64(number), now, now, id)
	if err != nil {
		return fmt.Errorf("mark write completed: %w", err)
	}
	return nil
}

// MarkWriteFailed records a delivery failure and bumps the retry count.
// A permanent failure takes the row out of the retry pool for good; a
// transient one leaves it eligible until the retry budget runs out.
func (s *Store) MarkWriteFailed(ctx context.Context, id, errMsg string, permanent bool) error {
	_, err := s.ExecContext(ctx, `
		UPDATE github_writes
		SET status = 'failed', error = ?, permanent = ?,
			retry_count = retry_count + 1, updated_at = ?
		WHERE github_write_id = ?`,
		errMsg, permanent, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark write failed: %w", err)
	}
	return nil
}

// MarkWriteCancelled moves a single row to cancelled.
func (s *Store) MarkWriteCancelled(ctx context.Context, id string) error {
	_, err := s.ExecContext(ctx, `
		UPDATE github_writes SET status = 'cancelled', updated_at = ?
		WHERE github_write_id = ? AND status NOT IN ('completed', 'cancelled')`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark write cancelled: %w", err)
	}
	return nil
}

// ResetStalledWrites moves rows stuck in processing longer than staleAfter
// back to queued. Recovers work lost to a worker crash mid-delivery.
func (s *Store) ResetStalledWrites(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-staleAfter))
	res, err := s.ExecContext(ctx, `
		UPDATE github_writes SET status = 'queued', updated_at = ?
		WHERE status = 'processing' AND updated_at < ?`,
		formatTime(time.Now()), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stalled writes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// CancelRunWrites cancels every non-terminal outbox row for a run. Called
// during run cancellation so no orphan comments or PRs get created later.
func (s *Store) CancelRunWrites(ctx context.Context, runID string) (int64, error) {
	res, err := s.ExecContext(ctx, `
		UPDATE github_writes SET status = 'cancelled', updated_at = ?
		WHERE run_id = ? AND status NOT IN ('completed', 'cancelled')`,
		formatTime(time.Now()), runID)
	if err != nil {
		return 0, fmt.Errorf("cancel run writes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}
