package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueWrite_Idempotent(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	w := &GitHubWrite{
		RunID:       r.RunID,
		Kind:        WriteKindComment,
		PayloadHash: "sha256:cjson:v1:abc",
		Payload:     `{"body":"hello"}`,
	}
	isNew, err := s.EnqueueWrite(ctx, w)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, WriteStatusQueued, w.Status)

	// Same logical write again: the existing row comes back, no new job.
	dup := &GitHubWrite{
		RunID:       r.RunID,
		Kind:        WriteKindComment,
		PayloadHash: "sha256:cjson:v1:abc",
		Payload:     `{"body":"hello"}`,
	}
	isNew, err = s.EnqueueWrite(ctx, dup)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, w.GitHubWriteID, dup.GitHubWriteID)
}

func TestClaimWrite_CAS(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	w := &GitHubWrite{RunID: r.RunID, Kind: WriteKindComment, PayloadHash: "h", Payload: "{}"}
	_, err := s.EnqueueWrite(ctx, w)
	require.NoError(t, err)

	claimed, err := s.ClaimWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses.
	claimed, err = s.ClaimWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestMarkWriteFailedThenCompleted(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	w := &GitHubWrite{RunID: r.RunID, Kind: WriteKindComment, PayloadHash: "h", Payload: "{}"}
	_, err := s.EnqueueWrite(ctx, w)
	require.NoError(t, err)

	_, err = s.ClaimWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)
	require.NoError(t, s.MarkWriteFailed(ctx, w.GitHubWriteID, "HTTP 502", false))

	got, err := s.GetWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)
	assert.Equal(t, WriteStatusFailed, got.Status)
	assert.Equal(t, int64(1), got.RetryCount)
	assert.Equal(t, "HTTP 502", got.Error)

	// Failed rows remain claimable for retry.
	pending, err := s.ListPendingWrites(ctx, 10, "", 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	claimed, err := s.ClaimWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.MarkWriteCompleted(ctx, w.GitHubWriteID, 42, "IC_node", "https://example.test/c/42", 0))

	got, err = s.GetWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)
	assert.Equal(t, WriteStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, int64(42), got.GitHubID)
	assert.False(t, got.SentAt.IsZero())
}

func TestListPendingWrites_RespectsRetryBudget(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	w := &GitHubWrite{RunID: r.RunID, Kind: WriteKindComment, PayloadHash: "h", Payload: "{}"}
	_, err := s.EnqueueWrite(ctx, w)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.ClaimWrite(ctx, w.GitHubWriteID)
		require.NoError(t, err)
		require.NoError(t, s.MarkWriteFailed(ctx, w.GitHubWriteID, "HTTP 503", false))
	}

	pending, err := s.ListPendingWrites(ctx, 10, "", 3)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkWriteFailed_PermanentLeavesRetryPool(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	w := &GitHubWrite{RunID: r.RunID, Kind: WriteKindLabel, PayloadHash: "h", Payload: "{}"}
	_, err := s.EnqueueWrite(ctx, w)
	require.NoError(t, err)

	_, err = s.ClaimWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)
	require.NoError(t, s.MarkWriteFailed(ctx, w.GitHubWriteID, "write kind label is not implemented", true))

	// Even with budget remaining the row is gone from the pool.
	pending, err := s.ListPendingWrites(ctx, 10, "", 100)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := s.GetWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)
	assert.True(t, got.Permanent)
}

func TestResetStalledWrites(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	w := &GitHubWrite{RunID: r.RunID, Kind: WriteKindComment, PayloadHash: "h", Payload: "{}"}
	_, err := s.EnqueueWrite(ctx, w)
	require.NoError(t, err)
	_, err = s.ClaimWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)

	// Nothing is stale yet.
	n, err := s.ResetStalledWrites(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With a zero threshold the processing row is immediately stale.
	n, err = s.ResetStalledWrites(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetWrite(ctx, w.GitHubWriteID)
	require.NoError(t, err)
	assert.Equal(t, WriteStatusQueued, got.Status)
}

func TestCancelRunWrites(t *testing.T) {
	s := NewTestStore(t)
	r := seedRun(t, s)
	ctx := context.Background()

	queued := &GitHubWrite{RunID: r.RunID, Kind: WriteKindComment, PayloadHash: "h1", Payload: "{}"}
	done := &GitHubWrite{RunID: r.RunID, Kind: WriteKindComment, PayloadHash: "h2", Payload: "{}"}
	_, err := s.EnqueueWrite(ctx, queued)
	require.NoError(t, err)
	_, err = s.EnqueueWrite(ctx, done)
	require.NoError(t, err)

	_, err = s.ClaimWrite(ctx, done.GitHubWriteID)
	require.NoError(t, err)
	require.NoError(t, s.MarkWriteCompleted(ctx, done.GitHubWriteID, 1, "", "", 0))

	n, err := s.CancelRunWrites(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetWrite(ctx, queued.GitHubWriteID)
	require.NoError(t, err)
	assert.Equal(t, WriteStatusCancelled, got.Status)

	// Completed rows stay completed.
	got, err = s.GetWrite(ctx, done.GitHubWriteID)
	require.NoError(t, err)
	assert.Equal(t, WriteStatusCompleted, got.Status)
}
