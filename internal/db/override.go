package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/cswenor/conductor/internal/errors"
)

// Override kinds.
const (
	OverrideKindPolicyException  = "policy_exception"
	OverrideKindSkipTests        = "skip_tests"
	OverrideKindAcceptWithIssues = "accept_with_issues"
)

// Override scopes, narrowest to broadest.
const (
	ScopeThisRun     = "this_run"
	ScopeThisTask    = "this_task"
	ScopeThisRepo    = "this_repo"
	ScopeProjectWide = "project_wide"
)

// Override is a scoped, justified operator decision that forces a gate
// outcome or authorizes a policy exception. An override created on one run
// can cover sibling runs depending on its scope.
type Override struct {
	OverrideID    string
	RunID         string
	Kind          string
	TargetID      string
	Scope         string
	Operator      string
	Justification string
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// CreateOverride records a new override.
func (s *Store) CreateOverride(o *Override) error {
	switch o.Kind {
	case OverrideKindPolicyException, OverrideKindSkipTests, OverrideKindAcceptWithIssues:
	default:
		return cerrors.ErrValidation(fmt.Sprintf("unknown override kind %q", o.Kind))
	}
	switch o.Scope {
	case ScopeThisRun, ScopeThisTask, ScopeThisRepo, ScopeProjectWide:
	default:
		return cerrors.ErrValidation(fmt.Sprintf("unknown override scope %q", o.Scope))
	}
	if o.Justification == "" {
		return cerrors.ErrValidation("override requires a justification")
	}
	if o.OverrideID == "" {
		o.OverrideID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	_, err := s.Exec(`
		INSERT INTO overrides (override_id, run_id, kind, target_id, scope,
			operator, justification, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OverrideID, o.RunID, o.Kind, nullString(o.TargetID), o.Scope,
		o.Operator, o.Justification, nullTime(o.ExpiresAt), formatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("create override: %w", err)
	}
	return nil
}

// FindMatchingOverride returns the highest-precedence active override of the
// given kind covering the target run, or nil when none applies. The overrides
// table is joined against runs twice: once for the run the override was
// created on, once for the target run, with the scope deciding which
// identifiers must line up. Broader scopes win ties.
func (s *Store) FindMatchingOverride(runID, kind, targetID string) (*Override, error) {
	rows, err := s.Query(`
		SELECT o.override_id, o.run_id, o.kind, o.target_id, o.scope,
			o.operator, o.justification, o.expires_at, o.created_at
		FROM overrides o
		JOIN runs orun ON orun.run_id = o.run_id
		JOIN runs trun ON trun.run_id = ?
		WHERE o.kind = ?
			AND (o.target_id IS NULL OR o.target_id = ?)
			AND (
				(o.scope = 'this_run' AND o.run_id = trun.run_id)
				OR (o.scope = 'this_task' AND orun.task_id = trun.task_id)
				OR (o.scope = 'this_repo' AND orun.repo_id = trun.repo_id)
				OR (o.scope = 'project_wide' AND orun.project_id = trun.project_id)
			)
		ORDER BY CASE o.scope
			WHEN 'project_wide' THEN 0
			WHEN 'this_repo' THEN 1
			WHEN 'this_task' THEN 2
			ELSE 3
		END, o.created_at DESC`,
		runID, kind, nullString(targetID))
	if err != nil {
		return nil, fmt.Errorf("find matching override: %w", err)
	}
	defer func() { _ = rows.Close() }()

	now := time.Now()
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		// Expiry is checked here rather than in SQL so timestamp
		// comparison is exact regardless of stored precision.
		if !o.ExpiresAt.IsZero() && !o.ExpiresAt.After(now) {
			continue
		}
		return o, nil
	}
	return nil, rows.Err()
}

func scanOverride(row rowScanner) (*Override, error) {
	var o Override
	var targetID, expiresAt sql.NullString
	var createdAt string

	err := row.Scan(&o.OverrideID, &o.RunID, &o.Kind, &targetID, &o.Scope,
		&o.Operator, &o.Justification, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	o.TargetID = targetID.String
	if expiresAt.Valid {
		o.ExpiresAt = parseTime(expiresAt.String)
	}
	o.CreatedAt = parseTime(createdAt)
	return &o, nil
}

// ListRunOverrides returns overrides created on a run, newest first.
func (s *Store) ListRunOverrides(runID string) ([]*Override, error) {
	rows, err := s.Query(`
		SELECT override_id, run_id, kind, target_id, scope, operator,
			justification, expires_at, created_at
		FROM overrides WHERE run_id = ?
		ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run overrides: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var overrides []*Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}
