package db

import (
	"database/sql"
	"fmt"
	"time"

	cerrors "github.com/cswenor/conductor/internal/errors"
)

// Task is a unit of work tied to a GitHub issue. A task may have many runs
// over its lifetime but at most one active run at a time.
type Task struct {
	TaskID        string
	ProjectID     string
	RepoID        string
	Title         string
	IssueNodeID   string
	ActiveRunID   string
	NextRunNumber int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateTask inserts a new task.
func (s *Store) CreateTask(t *Task) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.NextRunNumber == 0 {
		t.NextRunNumber = 1
	}

	_, err := s.Exec(`
		INSERT INTO tasks (task_id, project_id, repo_id, title, issue_node_id,
			active_run_id, next_run_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.ProjectID, t.RepoID, t.Title,
		nullString(t.IssueNodeID), nullString(t.ActiveRunID),
		t.NextRunNumber, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.TaskID, err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(taskID string) (*Task, error) {
	row := s.QueryRow(`
		SELECT task_id, project_id, repo_id, title, issue_node_id,
			active_run_id, next_run_number, created_at, updated_at
		FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

// GetTaskTx retrieves a task by ID within a transaction.
func GetTaskTx(tx *TxOps, taskID string) (*Task, error) {
	row := tx.QueryRow(`
		SELECT task_id, project_id, repo_id, title, issue_node_id,
			active_run_id, next_run_number, created_at, updated_at
		FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	var issueNodeID, activeRunID sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&t.TaskID, &t.ProjectID, &t.RepoID, &t.Title,
		&issueNodeID, &activeRunID, &t.NextRunNumber, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, cerrors.New(cerrors.CodeEntityNotFound, "task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.IssueNodeID = issueNodeID.String
	t.ActiveRunID = activeRunID.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// ListTasks returns all tasks for a project, most recently updated first.
func (s *Store) ListTasks(projectID string) ([]*Task, error) {
	rows, err := s.Query(`
		SELECT task_id, project_id, repo_id, title, issue_node_id,
			active_run_id, next_run_number, created_at, updated_at
		FROM tasks WHERE project_id = ?
		ORDER BY updated_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		var t Task
		var issueNodeID, activeRunID sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&t.TaskID, &t.ProjectID, &t.RepoID, &t.Title,
			&issueNodeID, &activeRunID, &t.NextRunNumber, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.IssueNodeID = issueNodeID.String
		t.ActiveRunID = activeRunID.String
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// ClaimRunNumberTx allocates the next run number for a task and records the
// run as the task's active run. Must be called inside the same transaction
// that creates the run.
func ClaimRunNumberTx(tx *TxOps, taskID, runID string) (int64, error) {
	var runNumber int64
	row := tx.QueryRow(`SELECT next_run_number FROM tasks WHERE task_id = ?`, taskID)
	if err := row.Scan(&runNumber); err != nil {
		if err == sql.ErrNoRows {
			return 0, cerrors.New(cerrors.CodeEntityNotFound, "task not found")
		}
		return 0, fmt.Errorf("read next run number: %w", err)
	}

	_, err := tx.Exec(`
		UPDATE tasks
		SET next_run_number = next_run_number + 1,
			active_run_id = ?,
			updated_at = ?
		WHERE task_id = ?`,
		runID, formatTime(time.Now()), taskID)
	if err != nil {
		return 0, fmt.Errorf("claim run number: %w", err)
	}
	return runNumber, nil
}

// ClearActiveRunTx clears the task's active run pointer if it still points at
// the given run. Called when a run reaches a terminal phase.
func ClearActiveRunTx(tx *TxOps, taskID, runID string) error {
	_, err := tx.Exec(`
		UPDATE tasks SET active_run_id = NULL, updated_at = ?
		WHERE task_id = ? AND active_run_id = ?`,
		formatTime(time.Now()), taskID, runID)
	if err != nil {
		return fmt.Errorf("clear active run: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}
