package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	cerrors "github.com/cswenor/conductor/internal/errors"
	"github.com/cswenor/conductor/internal/run"
)

// Run is one attempt at completing a task. The phase column is the canonical
// state of the run; next_sequence reserves the next decision-event sequence
// number and last_event_sequence tracks the highest applied one.
type Run struct {
	RunID             string
	TaskID            string
	ProjectID         string
	RepoID            string
	RunNumber         int64
	Phase             run.Phase
	Step              string
	NextSequence      int64
	LastEventSequence int64
	BaseBranch        string
	Branch            string
	PlanRevisions     int64
	TestFixAttempts   int64
	ReviewRounds      int64
	Result            run.Result
	ResultReason      string
	BlockedReason     string
	BlockedContext    string
	ParentRunID       string
	SupersedesRunID   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       time.Time
}

const runColumns = `run_id, task_id, project_id, repo_id, run_number, phase,
	step, next_sequence, last_event_sequence, base_branch, branch,
	plan_revisions, test_fix_attempts, review_rounds, result, result_reason,
	blocked_reason, blocked_context, parent_run_id, supersedes_run_id,
	created_at, updated_at, completed_at`

// CreateRun inserts a new run and claims its run number from the parent task
// in a single transaction.
func (s *Store) CreateRun(r *Run) error {
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		return CreateRunTx(tx, r)
	})
}

// CreateRunTx inserts a new run within a transaction. The run number is
// claimed from the parent task atomically.
func CreateRunTx(tx *TxOps, r *Run) error {
	runNumber, err := ClaimRunNumberTx(tx, r.TaskID, r.RunID)
	if err != nil {
		return err
	}
	r.RunNumber = runNumber

	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Phase == "" {
		r.Phase = run.PhasePending
	}
	if r.NextSequence == 0 {
		r.NextSequence = 1
	}
	if r.BaseBranch == "" {
		r.BaseBranch = "main"
	}

	_, err = tx.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.TaskID, r.ProjectID, r.RepoID, r.RunNumber, string(r.Phase),
		nullString(r.Step), r.NextSequence, r.LastEventSequence,
		r.BaseBranch, nullString(r.Branch),
		r.PlanRevisions, r.TestFixAttempts, r.ReviewRounds,
		nullString(string(r.Result)), nullString(r.ResultReason),
		nullString(r.BlockedReason), nullString(r.BlockedContext),
		nullString(r.ParentRunID), nullString(r.SupersedesRunID),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), nullTime(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.RunID, err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	return scanRun(row, runID)
}

// GetRunTx retrieves a run by ID within a transaction.
func GetRunTx(tx *TxOps, runID string) (*Run, error) {
	row := tx.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	return scanRun(row, runID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner, runID string) (*Run, error) {
	var r Run
	var phase string
	var step, branch, result, resultReason sql.NullString
	var blockedReason, blockedContext, parentRunID, supersedesRunID sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := row.Scan(&r.RunID, &r.TaskID, &r.ProjectID, &r.RepoID, &r.RunNumber,
		&phase, &step, &r.NextSequence, &r.LastEventSequence,
		&r.BaseBranch, &branch,
		&r.PlanRevisions, &r.TestFixAttempts, &r.ReviewRounds,
		&result, &resultReason, &blockedReason, &blockedContext,
		&parentRunID, &supersedesRunID,
		&createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, cerrors.ErrRunNotFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	r.Phase = run.Phase(phase)
	r.Step = step.String
	r.Branch = branch.String
	r.Result = run.Result(result.String)
	r.ResultReason = resultReason.String
	r.BlockedReason = blockedReason.String
	r.BlockedContext = blockedContext.String
	r.ParentRunID = parentRunID.String
	r.SupersedesRunID = supersedesRunID.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		r.CompletedAt = parseTime(completedAt.String)
	}
	return &r, nil
}

// ListRunsByPhase returns all runs currently in the given phase.
func (s *Store) ListRunsByPhase(phase run.Phase) ([]*Run, error) {
	rows, err := s.Query(`
		SELECT `+runColumns+` FROM runs WHERE phase = ?
		ORDER BY created_at ASC`, string(phase))
	if err != nil {
		return nil, fmt.Errorf("list runs by phase: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows, "")
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunsAwaitingGates returns the project's runs sitting in a phase that
// needs operator attention: awaiting_plan_approval or blocked.
func (s *Store) ListRunsAwaitingGates(projectID string) ([]*Run, error) {
	rows, err := s.Query(`
		SELECT `+runColumns+` FROM runs
		WHERE project_id = ? AND phase IN ('awaiting_plan_approval', 'blocked')
		ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list runs awaiting gates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows, "")
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpdateRunPhaseTx transitions a run from an expected phase to a new one with
// optimistic concurrency: the update only applies if the run is still in the
// expected phase. Returns the number of rows updated (0 means another writer
// won the race).
func UpdateRunPhaseTx(tx *TxOps, runID string, expected, next run.Phase, nextSequence int64, appliedSequence int64) (int64, error) {
	res, err := tx.Exec(`
		UPDATE runs
		SET phase = ?, next_sequence = ?, last_event_sequence = ?, updated_at = ?
		WHERE run_id = ? AND phase = ?`,
		string(next), nextSequence, appliedSequence, formatTime(time.Now()),
		runID, string(expected))
	if err != nil {
		return 0, fmt.Errorf("update run phase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// CompleteRunTx records the terminal outcome of a run. Phase must already
// have been transitioned; this fills in result, reason, and completion time.
func CompleteRunTx(tx *TxOps, runID string, result run.Result, reason string) error {
	_, err := tx.Exec(`
		UPDATE runs
		SET result = ?, result_reason = ?, completed_at = ?, updated_at = ?
		WHERE run_id = ?`,
		string(result), nullString(reason),
		formatTime(time.Now()), formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// SetBlockedTx records why a run entered the blocked phase. Empty values
// clear the fields, so a run resuming out of blocked sheds its stale reason.
func SetBlockedTx(tx *TxOps, runID, reason, context string) error {
	_, err := tx.Exec(`
		UPDATE runs SET blocked_reason = ?, blocked_context = ?, updated_at = ?
		WHERE run_id = ?`,
		nullString(reason), nullString(context), formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	return nil
}

// IncrementRunCounterTx bumps one of the run's bounded-loop counters.
// Valid counters: plan_revisions, test_fix_attempts, review_rounds.
func IncrementRunCounterTx(tx *TxOps, runID, counter string) (int64, error) {
	switch counter {
	case "plan_revisions", "test_fix_attempts", "review_rounds":
	default:
		return 0, cerrors.ErrValidation(fmt.Sprintf("unknown run counter %q", counter))
	}

	_, err := tx.Exec(`
		UPDATE runs SET `+counter+` = `+counter+` + 1, updated_at = ?
		WHERE run_id = ?`,
		formatTime(time.Now()), runID)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", counter, err)
	}

	var value int64
	row := tx.QueryRow(`SELECT `+counter+` FROM runs WHERE run_id = ?`, runID)
	if err := row.Scan(&value); err != nil {
		return 0, fmt.Errorf("read %s: %w", counter, err)
	}
	return value, nil
}

// SetRunBranchTx records the working branch created for a run.
func SetRunBranchTx(tx *TxOps, runID, branch string) error {
	_, err := tx.Exec(`
		UPDATE runs SET branch = ?, updated_at = ? WHERE run_id = ?`,
		branch, formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("set run branch: %w", err)
	}
	return nil
}

// SetRunStepTx records the current step within the run's phase.
func SetRunStepTx(tx *TxOps, runID, step string) error {
	_, err := tx.Exec(`
		UPDATE runs SET step = ?, updated_at = ? WHERE run_id = ?`,
		nullString(step), formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("set run step: %w", err)
	}
	return nil
}
