package db

import (
	"database/sql"
	"fmt"
	"time"
)

// GateDefinition is the installed configuration for a gate: its kind and the
// default config applied when a run has no more specific configuration.
type GateDefinition struct {
	GateID        string
	Kind          string
	DefaultConfig string
	CreatedAt     time.Time
}

// UpsertGateDefinition installs or updates a gate definition.
func (s *Store) UpsertGateDefinition(gd *GateDefinition) error {
	if gd.CreatedAt.IsZero() {
		gd.CreatedAt = time.Now()
	}
	_, err := s.Exec(`
		INSERT INTO gate_definitions (gate_id, kind, default_config_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (gate_id) DO UPDATE SET
			kind = excluded.kind,
			default_config_json = excluded.default_config_json`,
		gd.GateID, gd.Kind, nullString(gd.DefaultConfig), formatTime(gd.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert gate definition: %w", err)
	}
	return nil
}

// GetGateDefinition returns a gate definition, or nil when not installed.
func (s *Store) GetGateDefinition(gateID string) (*GateDefinition, error) {
	row := s.QueryRow(`
		SELECT gate_id, kind, default_config_json, created_at
		FROM gate_definitions WHERE gate_id = ?`, gateID)

	var gd GateDefinition
	var config sql.NullString
	var createdAt string
	err := row.Scan(&gd.GateID, &gd.Kind, &config, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan gate definition: %w", err)
	}
	gd.DefaultConfig = config.String
	gd.CreatedAt = parseTime(createdAt)
	return &gd, nil
}
