package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cswenor/conductor/internal/db"
)

func baseSnapshot() *Snapshot {
	return &Snapshot{
		Run:        &db.Run{RunID: "run-1", TaskID: "task-1"},
		MaxRetries: DefaultMaxRetries,
	}
}

func validArtifact(typ, content string) *db.Artifact {
	return &db.Artifact{
		RunID:            "run-1",
		Type:             typ,
		Version:          1,
		ContentMarkdown:  content,
		ValidationStatus: db.ArtifactValid,
	}
}

func TestPlanApproval_Progression(t *testing.T) {
	snap := baseSnapshot()

	res := EvaluatePlanApproval(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Awaiting validated plan artifact", res.Reason)

	snap.Plan = validArtifact(db.ArtifactTypePlan, "## Plan")
	res = EvaluatePlanApproval(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Awaiting validated review artifact", res.Reason)

	snap.PlanReview = validArtifact(db.ArtifactTypeReview, "Looks wrong. CHANGES_REQUESTED")
	res = EvaluatePlanApproval(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Review requested changes", res.Reason)

	snap.PlanReview = validArtifact(db.ArtifactTypeReview, "LGTM")
	res = EvaluatePlanApproval(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Awaiting operator approval", res.Reason)

	snap.ApprovePlan = &db.OperatorAction{Type: db.ActionApprovePlan, Operator: "alice"}
	res = EvaluatePlanApproval(snap)
	assert.Equal(t, db.GateStatusPassed, res.Status)
}

func TestPlanApproval_RejectShadowsApprove(t *testing.T) {
	snap := baseSnapshot()
	snap.Plan = validArtifact(db.ArtifactTypePlan, "## Plan")
	snap.PlanReview = validArtifact(db.ArtifactTypeReview, "LGTM")
	snap.ApprovePlan = &db.OperatorAction{Type: db.ActionApprovePlan, Operator: "alice"}
	snap.RejectRun = &db.OperatorAction{Type: db.ActionRejectRun, Operator: "bob", Comment: "wrong approach"}

	res := EvaluatePlanApproval(snap)
	assert.Equal(t, db.GateStatusFailed, res.Status)
	assert.Equal(t, "wrong approach", res.Reason)
}

func testReport(invocationID string) *db.Artifact {
	a := validArtifact(db.ArtifactTypeTestReport, "report")
	a.SourceToolInvocationID = invocationID
	return a
}

func TestTestsPass_NoReport(t *testing.T) {
	res := EvaluateTestsPass(baseSnapshot())
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Tests not yet run", res.Reason)
}

func TestTestsPass_ReportWithoutInvocationCannotPass(t *testing.T) {
	snap := baseSnapshot()
	snap.TestReport = testReport("")

	res := EvaluateTestsPass(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Contains(t, res.Reason, "cannot verify results")
}

func TestTestsPass_ExitCodeIsGroundTruth(t *testing.T) {
	// The agent claims a pass but the recorded exit code says otherwise.
	snap := baseSnapshot()
	snap.TestReport = testReport("ti-1")
	snap.TestInvocation = &db.ToolInvocation{
		ToolInvocationID: "ti-1",
		ResultMeta:       `{"exit_code": 1, "result": "pass"}`,
	}
	snap.Run.TestFixAttempts = 0

	res := EvaluateTestsPass(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Tests failed — retry 1/3", res.Reason)
	assert.NotEqual(t, db.GateStatusPassed, res.Status)
}

func TestTestsPass_Green(t *testing.T) {
	snap := baseSnapshot()
	snap.TestReport = testReport("ti-1")
	snap.TestInvocation = &db.ToolInvocation{
		ToolInvocationID: "ti-1",
		ResultMeta:       `{"exit_code": 0}`,
	}

	res := EvaluateTestsPass(snap)
	assert.Equal(t, db.GateStatusPassed, res.Status)
	assert.Equal(t, "All tests passed", res.Reason)
}

func TestTestsPass_RetryBudgetBoundary(t *testing.T) {
	snap := baseSnapshot()
	snap.TestReport = testReport("ti-1")
	snap.TestInvocation = &db.ToolInvocation{
		ToolInvocationID: "ti-1",
		ResultMeta:       `{"exit_code": 2}`,
	}

	// One attempt short of the budget still retries.
	snap.Run.TestFixAttempts = 2
	res := EvaluateTestsPass(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Tests failed — retry 3/3", res.Reason)
	assert.False(t, res.Escalate)

	// At the budget the gate fails and escalates.
	snap.Run.TestFixAttempts = 3
	res = EvaluateTestsPass(snap)
	assert.Equal(t, db.GateStatusFailed, res.Status)
	assert.Equal(t, "Tests failed after 3 attempts", res.Reason)
	assert.True(t, res.Escalate)
}

func TestTestsPass_SkipOverride(t *testing.T) {
	snap := baseSnapshot()
	snap.SkipTests = &db.Override{
		OverrideID: "o-1",
		Kind:       db.OverrideKindSkipTests,
		Operator:   "alice",
	}

	res := EvaluateTestsPass(snap)
	assert.Equal(t, db.GateStatusPassed, res.Status)
	assert.Equal(t, "Overridden: skip_tests by @alice", res.Reason)
	assert.Equal(t, true, res.Details["override"])
}

func TestCodeReview(t *testing.T) {
	snap := baseSnapshot()

	res := EvaluateCodeReview(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)

	snap.CodeRev = validArtifact(db.ArtifactTypeReview, "CHANGES_REQUESTED: nil deref in handler")
	res = EvaluateCodeReview(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Review requested changes", res.Reason)

	snap.CodeRev = validArtifact(db.ArtifactTypeReview, "clean")
	res = EvaluateCodeReview(snap)
	assert.Equal(t, db.GateStatusPassed, res.Status)
}

func TestCodeReview_AcceptWithIssuesOverride(t *testing.T) {
	snap := baseSnapshot()
	snap.CodeRev = validArtifact(db.ArtifactTypeReview, "CHANGES_REQUESTED")
	snap.AcceptWithIssues = &db.Override{
		OverrideID: "o-2",
		Kind:       db.OverrideKindAcceptWithIssues,
		Operator:   "bob",
	}

	res := EvaluateCodeReview(snap)
	assert.Equal(t, db.GateStatusPassed, res.Status)
	assert.Contains(t, res.Reason, "Overridden: accept_with_issues")
}

func TestMergeWait(t *testing.T) {
	snap := baseSnapshot()

	res := EvaluateMergeWait(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Awaiting pull request", res.Reason)

	snap.PRNodeID = "PR_node1"
	res = EvaluateMergeWait(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Equal(t, "Awaiting merge", res.Reason)

	snap.PRMerged = true
	res = EvaluateMergeWait(snap)
	assert.Equal(t, db.GateStatusPassed, res.Status)
}

func TestRegistry_UnknownGateFailsClosed(t *testing.T) {
	r := NewRegistry()

	res := r.Evaluate("nonexistent", baseSnapshot())
	assert.Equal(t, db.GateStatusPending, res.Status)
}

func TestRegistry_Kinds(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, KindHuman, r.Kind(PlanApproval))
	assert.Equal(t, KindAutomatic, r.Kind(TestsPass))
	assert.Equal(t, KindHuman, r.Kind(CodeReview))
	assert.Equal(t, KindAutomatic, r.Kind(MergeWait))
	assert.Equal(t, KindAutomatic, r.Kind("nonexistent"))
}

func TestMaxRetriesFromConfig(t *testing.T) {
	assert.Equal(t, int64(3), maxRetriesFromConfig("", 3))
	assert.Equal(t, int64(5), maxRetriesFromConfig(`{"max_retries": 5}`, 3))
	assert.Equal(t, int64(3), maxRetriesFromConfig(`{"max_retries": 0}`, 3))
	assert.Equal(t, int64(3), maxRetriesFromConfig(`{"other": 1}`, 3))
}
