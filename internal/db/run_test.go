package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/cswenor/conductor/internal/errors"
	"github.com/cswenor/conductor/internal/run"
)

func TestCreateRun_ClaimsRunNumber(t *testing.T) {
	s := NewTestStore(t)
	require.NoError(t, s.CreateTask(&Task{
		TaskID: "task-1", ProjectID: "p", RepoID: "r",
	}))

	r1 := &Run{RunID: "run-1", TaskID: "task-1", ProjectID: "p", RepoID: "r"}
	require.NoError(t, s.CreateRun(r1))
	assert.Equal(t, int64(1), r1.RunNumber)
	assert.Equal(t, run.PhasePending, r1.Phase)
	assert.Equal(t, int64(1), r1.NextSequence)

	r2 := &Run{RunID: "run-2", TaskID: "task-1", ProjectID: "p", RepoID: "r"}
	require.NoError(t, s.CreateRun(r2))
	assert.Equal(t, int64(2), r2.RunNumber)

	task, err := s.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", task.ActiveRunID)
	assert.Equal(t, int64(3), task.NextRunNumber)
}

func TestGetRun_NotFound(t *testing.T) {
	s := NewTestStore(t)
	_, err := s.GetRun("nope")
	require.Error(t, err)
	assert.True(t, cerrors.IsCode(err, cerrors.CodeRunNotFound))
}

func TestUpdateRunPhaseTx_OptimisticLock(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx *TxOps) error {
		affected, err := UpdateRunPhaseTx(tx, r.RunID, run.PhasePending, run.PhasePlanning, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), affected)
		return nil
	})
	require.NoError(t, err)

	// Second writer still believes the run is pending; its update matches
	// zero rows.
	err = s.RunInTx(ctx, func(tx *TxOps) error {
		affected, err := UpdateRunPhaseTx(tx, r.RunID, run.PhasePending, run.PhaseBlocked, 2, 1)
		require.NoError(t, err)
		assert.Zero(t, affected)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetRun(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.PhasePlanning, got.Phase)
	assert.Equal(t, int64(2), got.NextSequence)
	assert.Equal(t, int64(1), got.LastEventSequence)
}

func TestIncrementRunCounter(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx *TxOps) error {
		n, err := IncrementRunCounterTx(tx, r.RunID, "test_fix_attempts")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = IncrementRunCounterTx(tx, r.RunID, "test_fix_attempts")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		_, err = IncrementRunCounterTx(tx, r.RunID, "bogus; DROP TABLE runs")
		require.Error(t, err)
		assert.True(t, cerrors.IsCode(err, cerrors.CodeValidation))
		return nil
	})
	require.NoError(t, err)
}

func TestCompleteRun(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx *TxOps) error {
		if err := CompleteRunTx(tx, r.RunID, run.ResultSuccess, "merged"); err != nil {
			return err
		}
		return ClearActiveRunTx(tx, r.TaskID, r.RunID)
	})
	require.NoError(t, err)

	got, err := s.GetRun(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.ResultSuccess, got.Result)
	assert.Equal(t, "merged", got.ResultReason)
	assert.False(t, got.CompletedAt.IsZero())

	task, err := s.GetTask(r.TaskID)
	require.NoError(t, err)
	assert.Empty(t, task.ActiveRunID)
}
