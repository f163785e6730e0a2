package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cswenor/conductor/internal/db"
)

func seedTaskRun(t *testing.T, s *db.Store, taskID, runID string) *db.Run {
	t.Helper()
	task, err := s.GetTask(taskID)
	if err != nil || task == nil {
		require.NoError(t, s.CreateTask(&db.Task{TaskID: taskID, ProjectID: "proj", RepoID: "repo"}))
	}
	r := &db.Run{RunID: runID, TaskID: taskID, ProjectID: "proj", RepoID: "repo"}
	require.NoError(t, s.CreateRun(r))
	return r
}

func failingTestReport(t *testing.T, s *db.Store, runID string) {
	t.Helper()
	ti := &db.ToolInvocation{RunID: runID, Tool: "run_tests", ResultMeta: `{"exit_code": 1}`}
	require.NoError(t, s.CreateToolInvocation(ti))

	a := &db.Artifact{
		RunID:                  runID,
		Type:                   db.ArtifactTypeTestReport,
		ContentMarkdown:        "failures",
		SourceToolInvocationID: ti.ToolInvocationID,
	}
	require.NoError(t, s.SaveArtifact(a))
	require.NoError(t, s.RunInTx(context.Background(), func(tx *db.TxOps) error {
		return db.SetArtifactValidationTx(tx, a.ArtifactID, db.ArtifactValid)
	}))
}

func TestLoadSnapshot_OverrideScopeHierarchy(t *testing.T) {
	s := db.NewTestStore(t)

	r1 := seedTaskRun(t, s, "task-a", "r1")
	r2 := seedTaskRun(t, s, "task-a", "r2")
	r3 := seedTaskRun(t, s, "task-b", "r3")

	require.NoError(t, s.CreateOverride(&db.Override{
		RunID:         r1.RunID,
		Kind:          db.OverrideKindSkipTests,
		Scope:         db.ScopeThisTask,
		Operator:      "alice",
		Justification: "flaky suite",
	}))

	failingTestReport(t, s, r2.RunID)
	failingTestReport(t, s, r3.RunID)

	// Sibling run in the same task: override applies, gate passes even
	// with a failing report.
	snap, err := LoadSnapshot(s, r2.RunID)
	require.NoError(t, err)
	res := EvaluateTestsPass(snap)
	assert.Equal(t, db.GateStatusPassed, res.Status)
	assert.Contains(t, res.Reason, "Overridden: skip_tests")

	// Run in a different task: no override, the failure counts.
	snap, err = LoadSnapshot(s, r3.RunID)
	require.NoError(t, err)
	res = EvaluateTestsPass(snap)
	assert.Equal(t, db.GateStatusPending, res.Status)
	assert.Contains(t, res.Reason, "Tests failed")
}

func TestLoadSnapshot_MaxRetriesFromGateDefinition(t *testing.T) {
	s := db.NewTestStore(t)
	r := seedTaskRun(t, s, "task-a", "r1")

	require.NoError(t, s.UpsertGateDefinition(&db.GateDefinition{
		GateID:        TestsPass,
		Kind:          TestsPass,
		DefaultConfig: `{"max_retries": 5}`,
	}))

	snap, err := LoadSnapshot(s, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.MaxRetries)
}

func TestLoadSnapshot_InvocationResolution(t *testing.T) {
	s := db.NewTestStore(t)
	r := seedTaskRun(t, s, "task-a", "r1")
	failingTestReport(t, s, r.RunID)

	snap, err := LoadSnapshot(s, r.RunID)
	require.NoError(t, err)
	require.NotNil(t, snap.TestReport)
	require.NotNil(t, snap.TestInvocation)
	assert.Equal(t, snap.TestReport.SourceToolInvocationID, snap.TestInvocation.ToolInvocationID)
}
