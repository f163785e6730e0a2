package db

import (
	"database/sql"
	"fmt"
	"time"
)

// GateStatus is the ternary outcome of a gate evaluation. A gate that has
// never been evaluated is pending, not failed.
type GateStatus string

const (
	GateStatusPending GateStatus = "pending"
	GateStatusPassed  GateStatus = "passed"
	GateStatusFailed  GateStatus = "failed"
)

// GateEvaluation is one recorded evaluation of a gate for a run. Evaluations
// are append-only; the current state of a gate is derived from the latest one.
type GateEvaluation struct {
	ID               int64
	RunID            string
	GateID           string
	Kind             string
	Status           GateStatus
	Reason           string
	Details          string
	CausationEventID string
	EvaluatedAt      time.Time
}

// CreateGateEvaluationTx records a gate evaluation within a transaction.
func CreateGateEvaluationTx(tx *TxOps, ge *GateEvaluation) error {
	if ge.EvaluatedAt.IsZero() {
		ge.EvaluatedAt = time.Now()
	}
	_, err := tx.Exec(`
		INSERT INTO gate_evaluations (run_id, gate_id, kind, status, reason,
			details, causation_event_id, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ge.RunID, ge.GateID, ge.Kind, string(ge.Status),
		nullString(ge.Reason), nullString(ge.Details),
		ge.CausationEventID, formatTime(ge.EvaluatedAt))
	if err != nil {
		return fmt.Errorf("create gate evaluation: %w", err)
	}
	return nil
}

// DeriveGateState returns the current status of a gate for a run: the latest
// evaluation ordered by the causing event's sequence, with the row id as the
// tie-breaker for evaluations caused by the same event. No evaluation means
// pending.
func (s *Store) DeriveGateState(runID, gateID string) (GateStatus, *GateEvaluation, error) {
	row := s.QueryRow(`
		SELECT ge.gate_evaluation_id, ge.run_id, ge.gate_id, ge.kind, ge.status,
			ge.reason, ge.details, ge.causation_event_id, ge.evaluated_at
		FROM gate_evaluations ge
		JOIN events e ON e.event_id = ge.causation_event_id
		WHERE ge.run_id = ? AND ge.gate_id = ?
		ORDER BY e.sequence DESC, ge.gate_evaluation_id DESC
		LIMIT 1`, runID, gateID)

	ge, err := scanGateEvaluation(row)
	if err == sql.ErrNoRows {
		return GateStatusPending, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return ge.Status, ge, nil
}

// DeriveGateStateTx is DeriveGateState within a transaction.
func DeriveGateStateTx(tx *TxOps, runID, gateID string) (GateStatus, *GateEvaluation, error) {
	row := tx.QueryRow(`
		SELECT ge.gate_evaluation_id, ge.run_id, ge.gate_id, ge.kind, ge.status,
			ge.reason, ge.details, ge.causation_event_id, ge.evaluated_at
		FROM gate_evaluations ge
		JOIN events e ON e.event_id = ge.causation_event_id
		WHERE ge.run_id = ? AND ge.gate_id = ?
		ORDER BY e.sequence DESC, ge.gate_evaluation_id DESC
		LIMIT 1`, runID, gateID)

	ge, err := scanGateEvaluation(row)
	if err == sql.ErrNoRows {
		return GateStatusPending, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return ge.Status, ge, nil
}

func scanGateEvaluation(row rowScanner) (*GateEvaluation, error) {
	var ge GateEvaluation
	var status string
	var reason, details sql.NullString
	var evaluatedAt string

	err := row.Scan(&ge.ID, &ge.RunID, &ge.GateID, &ge.Kind, &status,
		&reason, &details, &ge.CausationEventID, &evaluatedAt)
	if err != nil {
		return nil, err
	}
	ge.Status = GateStatus(status)
	ge.Reason = reason.String
	ge.Details = details.String
	ge.EvaluatedAt = parseTime(evaluatedAt)
	return &ge, nil
}

// ListGateEvaluations returns the full evaluation history of a gate for a
// run, oldest first.
func (s *Store) ListGateEvaluations(runID, gateID string) ([]*GateEvaluation, error) {
	rows, err := s.Query(`
		SELECT gate_evaluation_id, run_id, gate_id, kind, status, reason,
			details, causation_event_id, evaluated_at
		FROM gate_evaluations
		WHERE run_id = ? AND gate_id = ?
		ORDER BY gate_evaluation_id ASC`, runID, gateID)
	if err != nil {
		return nil, fmt.Errorf("list gate evaluations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var evals []*GateEvaluation
	for rows.Next() {
		ge, err := scanGateEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gate evaluation: %w", err)
		}
		evals = append(evals, ge)
	}
	return evals, rows.Err()
}
