package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSiblingRuns(t *testing.T, s *Store) (r1, r2, r3 *Run) {
	t.Helper()

	require.NoError(t, s.CreateTask(&Task{TaskID: "task-a", ProjectID: "proj", RepoID: "repo"}))
	require.NoError(t, s.CreateTask(&Task{TaskID: "task-b", ProjectID: "proj", RepoID: "repo"}))

	r1 = &Run{RunID: "r1", TaskID: "task-a", ProjectID: "proj", RepoID: "repo"}
	r2 = &Run{RunID: "r2", TaskID: "task-a", ProjectID: "proj", RepoID: "repo"}
	r3 = &Run{RunID: "r3", TaskID: "task-b", ProjectID: "proj", RepoID: "repo"}
	require.NoError(t, s.CreateRun(r1))
	require.NoError(t, s.CreateRun(r2))
	require.NoError(t, s.CreateRun(r3))
	return r1, r2, r3
}

func TestFindMatchingOverride_TaskScope(t *testing.T) {
	s := NewTestStore(t)
	r1, r2, r3 := seedSiblingRuns(t, s)

	require.NoError(t, s.CreateOverride(&Override{
		RunID:         r1.RunID,
		Kind:          OverrideKindSkipTests,
		Scope:         ScopeThisTask,
		Operator:      "alice",
		Justification: "flaky CI during migration window",
	}))

	// Sibling run in the same task is covered.
	o, err := s.FindMatchingOverride(r2.RunID, OverrideKindSkipTests, "")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "alice", o.Operator)

	// A run in a different task is not.
	o, err = s.FindMatchingOverride(r3.RunID, OverrideKindSkipTests, "")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestFindMatchingOverride_ThisRunScope(t *testing.T) {
	s := NewTestStore(t)
	r1, r2, _ := seedSiblingRuns(t, s)

	require.NoError(t, s.CreateOverride(&Override{
		RunID:         r1.RunID,
		Kind:          OverrideKindSkipTests,
		Scope:         ScopeThisRun,
		Operator:      "alice",
		Justification: "one-off",
	}))

	o, err := s.FindMatchingOverride(r1.RunID, OverrideKindSkipTests, "")
	require.NoError(t, err)
	assert.NotNil(t, o)

	o, err = s.FindMatchingOverride(r2.RunID, OverrideKindSkipTests, "")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestFindMatchingOverride_BroaderScopeWins(t *testing.T) {
	s := NewTestStore(t)
	r1, _, _ := seedSiblingRuns(t, s)

	require.NoError(t, s.CreateOverride(&Override{
		RunID:         r1.RunID,
		Kind:          OverrideKindPolicyException,
		Scope:         ScopeThisRun,
		Operator:      "narrow",
		Justification: "just this run",
	}))
	require.NoError(t, s.CreateOverride(&Override{
		RunID:         r1.RunID,
		Kind:          OverrideKindPolicyException,
		Scope:         ScopeProjectWide,
		Operator:      "broad",
		Justification: "blanket exception",
	}))

	o, err := s.FindMatchingOverride(r1.RunID, OverrideKindPolicyException, "")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "broad", o.Operator)
	assert.Equal(t, ScopeProjectWide, o.Scope)
}

func TestFindMatchingOverride_Expired(t *testing.T) {
	s := NewTestStore(t)
	r1, _, _ := seedSiblingRuns(t, s)

	require.NoError(t, s.CreateOverride(&Override{
		RunID:         r1.RunID,
		Kind:          OverrideKindSkipTests,
		Scope:         ScopeThisRun,
		Operator:      "alice",
		Justification: "expired already",
		ExpiresAt:     time.Now().Add(-time.Microsecond),
	}))

	o, err := s.FindMatchingOverride(r1.RunID, OverrideKindSkipTests, "")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestFindMatchingOverride_TargetID(t *testing.T) {
	s := NewTestStore(t)
	r1, _, _ := seedSiblingRuns(t, s)

	require.NoError(t, s.CreateOverride(&Override{
		RunID:         r1.RunID,
		Kind:          OverrideKindAcceptWithIssues,
		TargetID:      "PR_node123",
		Scope:         ScopeThisRun,
		Operator:      "alice",
		Justification: "known issue tracked separately",
	}))

	o, err := s.FindMatchingOverride(r1.RunID, OverrideKindAcceptWithIssues, "PR_node123")
	require.NoError(t, err)
	assert.NotNil(t, o)

	// A different target does not match a targeted override.
	o, err = s.FindMatchingOverride(r1.RunID, OverrideKindAcceptWithIssues, "PR_other")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestCreateOverride_RequiresJustification(t *testing.T) {
	s := NewTestStore(t)
	r1, _, _ := seedSiblingRuns(t, s)

	err := s.CreateOverride(&Override{
		RunID:    r1.RunID,
		Kind:     OverrideKindSkipTests,
		Scope:    ScopeThisRun,
		Operator: "alice",
	})
	require.Error(t, err)
}
