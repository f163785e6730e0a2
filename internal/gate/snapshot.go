package gate

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/cswenor/conductor/internal/db"
)

// DefaultMaxRetries bounds the tests_pass fix loop when the gate definition
// carries no explicit budget.
const DefaultMaxRetries = 3

// Snapshot is the read-only view of projections an evaluator sees. All
// lookups happen up front so evaluators stay pure.
type Snapshot struct {
	Run *db.Run

	// Latest valid artifacts by type; nil when none exists. Pending and
	// invalid artifacts never appear here.
	Plan       *db.Artifact
	PlanReview *db.Artifact
	CodeRev    *db.Artifact
	TestReport *db.Artifact

	// TestInvocation is the tool execution backing TestReport, resolved
	// from its source_tool_invocation_id. Nil when the report carries no
	// invocation reference or the reference is dangling.
	TestInvocation *db.ToolInvocation

	// Latest operator actions by type; nil when none recorded.
	ApprovePlan *db.OperatorAction
	RejectRun   *db.OperatorAction

	// Active overrides covering this run, already resolved through the
	// scope hierarchy; nil when none applies.
	SkipTests        *db.Override
	AcceptWithIssues *db.Override

	// Pull request facts from webhook projections. The PR is identified by
	// its stable node id, never its number.
	PRNodeID         string
	ChangesRequested bool
	PRMerged         bool

	// MaxRetries is the tests_pass fix budget from the gate definition.
	MaxRetries int64
}

// LoadSnapshot assembles a snapshot for a run. The PR fields are filled from
// the run's latest webhook-sourced projections by the caller when relevant;
// this loads everything database-derived.
func LoadSnapshot(s *db.Store, runID string) (*Snapshot, error) {
	r, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Run: r, MaxRetries: DefaultMaxRetries}

	if snap.Plan, err = s.GetLatestValidArtifact(runID, db.ArtifactTypePlan); err != nil {
		return nil, fmt.Errorf("load plan artifact: %w", err)
	}
	if snap.PlanReview, err = s.GetLatestValidArtifactBySubtype(runID, db.ArtifactTypeReview, "plan"); err != nil {
		return nil, fmt.Errorf("load plan review artifact: %w", err)
	}
	// Older runs recorded reviews without a subtype; fall back to any
	// valid review when no plan-time one exists.
	if snap.PlanReview == nil {
		if snap.PlanReview, err = s.GetLatestValidArtifact(runID, db.ArtifactTypeReview); err != nil {
			return nil, fmt.Errorf("load review artifact: %w", err)
		}
	}
	if snap.CodeRev, err = s.GetLatestValidArtifactBySubtype(runID, db.ArtifactTypeReview, "code"); err != nil {
		return nil, fmt.Errorf("load code review artifact: %w", err)
	}
	if snap.TestReport, err = s.GetLatestValidArtifact(runID, db.ArtifactTypeTestReport); err != nil {
		return nil, fmt.Errorf("load test report artifact: %w", err)
	}
	if snap.TestReport != nil && snap.TestReport.SourceToolInvocationID != "" {
		if snap.TestInvocation, err = s.GetToolInvocation(snap.TestReport.SourceToolInvocationID); err != nil {
			return nil, fmt.Errorf("load test invocation: %w", err)
		}
	}

	if snap.ApprovePlan, err = s.LatestOperatorAction(runID, db.ActionApprovePlan); err != nil {
		return nil, fmt.Errorf("load approve action: %w", err)
	}
	if snap.RejectRun, err = s.LatestOperatorAction(runID, db.ActionRejectRun); err != nil {
		return nil, fmt.Errorf("load reject action: %w", err)
	}

	if snap.SkipTests, err = s.FindMatchingOverride(runID, db.OverrideKindSkipTests, ""); err != nil {
		return nil, fmt.Errorf("load skip_tests override: %w", err)
	}

	if gd, err := s.GetGateDefinition(TestsPass); err != nil {
		return nil, fmt.Errorf("load gate definition: %w", err)
	} else if gd != nil {
		snap.MaxRetries = maxRetriesFromConfig(gd.DefaultConfig, DefaultMaxRetries)
	}

	return snap, nil
}

func maxRetriesFromConfig(config string, fallback int64) int64 {
	if config == "" {
		return fallback
	}
	v := gjson.Get(config, "max_retries")
	if !v.Exists() || v.Int() <= 0 {
		return fallback
	}
	return v.Int()
}

// ResolvePROverrides fills the accept_with_issues override for a known PR
// node id. Separate from LoadSnapshot because the target id is only known
// once a PR exists.
func (snap *Snapshot) ResolvePROverrides(s *db.Store, prNodeID string) error {
	snap.PRNodeID = prNodeID
	o, err := s.FindMatchingOverride(snap.Run.RunID, db.OverrideKindAcceptWithIssues, prNodeID)
	if err != nil {
		return fmt.Errorf("load accept_with_issues override: %w", err)
	}
	snap.AcceptWithIssues = o
	return nil
}
