package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/cswenor/conductor/internal/errors"
)

// Artifact validation statuses. Only valid artifacts are visible to gate
// evaluation; a pending or invalid artifact is as good as absent.
const (
	ArtifactPending = "pending"
	ArtifactValid   = "valid"
	ArtifactInvalid = "invalid"
)

// Artifact types produced by agents.
const (
	ArtifactTypePlan       = "plan"
	ArtifactTypeReview     = "review"
	ArtifactTypeTestReport = "test_report"
)

// Artifact is an agent output attached to a run. Versions auto-increment per
// (run, type); old versions are never overwritten. Subtype distinguishes
// variants within a type, e.g. plan-time vs code-time reviews.
type Artifact struct {
	ArtifactID             string
	RunID                  string
	Type                   string
	Subtype                string
	Version                int64
	ContentMarkdown        string
	BlobRef                string
	SizeBytes              int64
	ChecksumSHA256         string
	ValidationStatus       string
	SourceToolInvocationID string
	CreatedBy              string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// SaveArtifactTx inserts a new artifact version within a transaction. The
// version is allocated as one past the highest existing version for the
// (run, type) pair.
func SaveArtifactTx(tx *TxOps, a *Artifact) error {
	if a.RunID == "" || a.Type == "" {
		return cerrors.ErrValidation("artifact requires run_id and type")
	}
	if a.ArtifactID == "" {
		a.ArtifactID = uuid.NewString()
	}
	if a.ValidationStatus == "" {
		a.ValidationStatus = ArtifactPending
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	var maxVersion sql.NullInt64
	row := tx.QueryRow(`
		SELECT MAX(version) FROM artifacts WHERE run_id = ? AND type = ?`,
		a.RunID, a.Type)
	if err := row.Scan(&maxVersion); err != nil {
		return fmt.Errorf("read max artifact version: %w", err)
	}
	a.Version = maxVersion.Int64 + 1

	_, err := tx.Exec(`
		INSERT INTO artifacts (artifact_id, run_id, type, subtype, version,
			content_markdown, blob_ref, size_bytes, checksum_sha256,
			validation_status, source_tool_invocation_id, created_by,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ArtifactID, a.RunID, a.Type, nullString(a.Subtype), a.Version,
		nullString(a.ContentMarkdown), nullString(a.BlobRef), a.SizeBytes,
		nullString(a.ChecksumSHA256), a.ValidationStatus,
		nullString(a.SourceToolInvocationID), nullString(a.CreatedBy),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

// SaveArtifact inserts a new artifact version in its own transaction.
func (s *Store) SaveArtifact(a *Artifact) error {
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		return SaveArtifactTx(tx, a)
	})
}

// SetArtifactValidationTx records the outcome of artifact validation.
func SetArtifactValidationTx(tx *TxOps, artifactID, status string) error {
	switch status {
	case ArtifactPending, ArtifactValid, ArtifactInvalid:
	default:
		return cerrors.ErrValidation(fmt.Sprintf("unknown validation status %q", status))
	}
	_, err := tx.Exec(`
		UPDATE artifacts SET validation_status = ?, updated_at = ?
		WHERE artifact_id = ?`,
		status, formatTime(time.Now()), artifactID)
	if err != nil {
		return fmt.Errorf("set artifact validation: %w", err)
	}
	return nil
}

const artifactColumns = `artifact_id, run_id, type, subtype, version,
	content_markdown, blob_ref, size_bytes, checksum_sha256,
	validation_status, source_tool_invocation_id, created_by,
	created_at, updated_at`

// GetLatestValidArtifact returns the newest valid artifact of the given type
// for a run, or nil when none exists. Pending and invalid artifacts are
// invisible here.
func (s *Store) GetLatestValidArtifact(runID, artifactType string) (*Artifact, error) {
	row := s.QueryRow(`
		SELECT `+artifactColumns+` FROM artifacts
		WHERE run_id = ? AND type = ? AND validation_status = ?
		ORDER BY version DESC
		LIMIT 1`, runID, artifactType, ArtifactValid)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetLatestValidArtifactBySubtype is GetLatestValidArtifact narrowed to a
// subtype, used where one type covers multiple variants.
func (s *Store) GetLatestValidArtifactBySubtype(runID, artifactType, subtype string) (*Artifact, error) {
	row := s.QueryRow(`
		SELECT `+artifactColumns+` FROM artifacts
		WHERE run_id = ? AND type = ? AND subtype = ? AND validation_status = ?
		ORDER BY version DESC
		LIMIT 1`, runID, artifactType, subtype, ArtifactValid)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func scanArtifact(row rowScanner) (*Artifact, error) {
	var a Artifact
	var subtype, content, blobRef, checksum, sourceInv, createdBy sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&a.ArtifactID, &a.RunID, &a.Type, &subtype, &a.Version,
		&content, &blobRef, &a.SizeBytes, &checksum,
		&a.ValidationStatus, &sourceInv, &createdBy,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.Subtype = subtype.String
	a.ContentMarkdown = content.String
	a.BlobRef = blobRef.String
	a.ChecksumSHA256 = checksum.String
	a.SourceToolInvocationID = sourceInv.String
	a.CreatedBy = createdBy.String
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// ListRunArtifacts returns every artifact version for a run, newest first.
func (s *Store) ListRunArtifacts(runID string) ([]*Artifact, error) {
	rows, err := s.Query(`
		SELECT `+artifactColumns+` FROM artifacts
		WHERE run_id = ?
		ORDER BY type ASC, version DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
