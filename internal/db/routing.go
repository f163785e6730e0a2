package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RoutingDecision is the immutable per-run record of what the classifier
// decided: which agent graph runs and which gates apply. Absent a routing
// decision the orchestrator falls back to per-phase defaults.
type RoutingDecision struct {
	RunID         string
	Classifier    string
	AgentGraph    string
	RequiredGates []string
	OptionalGates []string
	CreatedAt     time.Time
}

// CreateRoutingDecision records a run's routing decision. One per run.
func (s *Store) CreateRoutingDecision(rd *RoutingDecision) error {
	required, err := json.Marshal(rd.RequiredGates)
	if err != nil {
		return fmt.Errorf("marshal required gates: %w", err)
	}
	optional, err := json.Marshal(rd.OptionalGates)
	if err != nil {
		return fmt.Errorf("marshal optional gates: %w", err)
	}
	if rd.CreatedAt.IsZero() {
		rd.CreatedAt = time.Now()
	}

	_, err = s.Exec(`
		INSERT INTO routing_decisions (run_id, classifier_json, agent_graph,
			required_gates_json, optional_gates_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rd.RunID, nullString(rd.Classifier), nullString(rd.AgentGraph),
		string(required), string(optional), formatTime(rd.CreatedAt))
	if err != nil {
		return fmt.Errorf("create routing decision: %w", err)
	}
	return nil
}

// GetRoutingDecision returns the routing decision for a run, or nil when the
// run has none.
func (s *Store) GetRoutingDecision(runID string) (*RoutingDecision, error) {
	row := s.QueryRow(`
		SELECT run_id, classifier_json, agent_graph, required_gates_json,
			optional_gates_json, created_at
		FROM routing_decisions WHERE run_id = ?`, runID)

	var rd RoutingDecision
	var classifier, agentGraph, required, optional sql.NullString
	var createdAt string
	err := row.Scan(&rd.RunID, &classifier, &agentGraph, &required, &optional, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan routing decision: %w", err)
	}

	rd.Classifier = classifier.String
	rd.AgentGraph = agentGraph.String
	rd.CreatedAt = parseTime(createdAt)
	if required.Valid {
		if err := json.Unmarshal([]byte(required.String), &rd.RequiredGates); err != nil {
			return nil, fmt.Errorf("unmarshal required gates: %w", err)
		}
	}
	if optional.Valid {
		if err := json.Unmarshal([]byte(optional.String), &rd.OptionalGates); err != nil {
			return nil, fmt.Errorf("unmarshal optional gates: %w", err)
		}
	}
	return &rd, nil
}
