package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ToolInvocation is a record of a tool execution performed by the agent
// runtime. result_meta carries the ground-truth outcome, including exit_code;
// gate evaluation trusts this record over any agent summary.
type ToolInvocation struct {
	ToolInvocationID string
	RunID            string
	Tool             string
	Args             string
	ResultMeta       string
	StartedAt        time.Time
	FinishedAt       time.Time
	CreatedAt        time.Time
}

// CreateToolInvocation records a tool execution.
func (s *Store) CreateToolInvocation(ti *ToolInvocation) error {
	if ti.ToolInvocationID == "" {
		ti.ToolInvocationID = uuid.NewString()
	}
	if ti.CreatedAt.IsZero() {
		ti.CreatedAt = time.Now()
	}
	_, err := s.Exec(`
		INSERT INTO tool_invocations (tool_invocation_id, run_id, tool, args,
			result_meta, started_at, finished_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ti.ToolInvocationID, nullString(ti.RunID), ti.Tool,
		nullString(ti.Args), nullString(ti.ResultMeta),
		nullTime(ti.StartedAt), nullTime(ti.FinishedAt), formatTime(ti.CreatedAt))
	if err != nil {
		return fmt.Errorf("create tool invocation: %w", err)
	}
	return nil
}

// GetToolInvocation retrieves a tool invocation by ID, or nil when absent.
func (s *Store) GetToolInvocation(id string) (*ToolInvocation, error) {
	row := s.QueryRow(`
		SELECT tool_invocation_id, run_id, tool, args, result_meta,
			started_at, finished_at, created_at
		FROM tool_invocations WHERE tool_invocation_id = ?`, id)

	var ti ToolInvocation
	var runID, args, resultMeta, startedAt, finishedAt sql.NullString
	var createdAt string
	err := row.Scan(&ti.ToolInvocationID, &runID, &ti.Tool, &args,
		&resultMeta, &startedAt, &finishedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tool invocation: %w", err)
	}
	ti.RunID = runID.String
	ti.Args = args.String
	ti.ResultMeta = resultMeta.String
	if startedAt.Valid {
		ti.StartedAt = parseTime(startedAt.String)
	}
	if finishedAt.Valid {
		ti.FinishedAt = parseTime(finishedAt.String)
	}
	ti.CreatedAt = parseTime(createdAt)
	return &ti, nil
}

// SetToolInvocationResult records the outcome of a finished tool execution.
func (s *Store) SetToolInvocationResult(id, resultMeta string) error {
	_, err := s.Exec(`
		UPDATE tool_invocations SET result_meta = ?, finished_at = ?
		WHERE tool_invocation_id = ?`,
		resultMeta, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set tool invocation result: %w", err)
	}
	return nil
}
