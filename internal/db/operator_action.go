package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operator action types consumed by gate evaluation.
const (
	ActionApprovePlan = "approve_plan"
	ActionRejectRun   = "reject_run"
	ActionCancelRun   = "cancel_run"
	ActionRetryRun    = "retry_run"
)

// OperatorAction is an explicit human decision recorded against a run.
type OperatorAction struct {
	ActionID  string
	RunID     string
	Type      string
	Operator  string
	Comment   string
	CreatedAt time.Time
}

// CreateOperatorAction records an operator action.
func (s *Store) CreateOperatorAction(a *OperatorAction) error {
	if a.ActionID == "" {
		a.ActionID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.Exec(`
		INSERT INTO operator_actions (action_id, run_id, type, operator, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ActionID, a.RunID, a.Type, a.Operator,
		nullString(a.Comment), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("create operator action: %w", err)
	}
	return nil
}

// LatestOperatorAction returns the most recent action of the given type on a
// run, or nil when none exists.
func (s *Store) LatestOperatorAction(runID, actionType string) (*OperatorAction, error) {
	row := s.QueryRow(`
		SELECT action_id, run_id, type, operator, comment, created_at
		FROM operator_actions
		WHERE run_id = ? AND type = ?
		ORDER BY created_at DESC
		LIMIT 1`, runID, actionType)

	a, err := scanOperatorAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func scanOperatorAction(row rowScanner) (*OperatorAction, error) {
	var a OperatorAction
	var comment sql.NullString
	var createdAt string
	err := row.Scan(&a.ActionID, &a.RunID, &a.Type, &a.Operator, &comment, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Comment = comment.String
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// ListRunActions returns all operator actions on a run, oldest first.
func (s *Store) ListRunActions(runID string) ([]*OperatorAction, error) {
	rows, err := s.Query(`
		SELECT action_id, run_id, type, operator, comment, created_at
		FROM operator_actions
		WHERE run_id = ?
		ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list operator actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []*OperatorAction
	for rows.Next() {
		a, err := scanOperatorAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operator action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
