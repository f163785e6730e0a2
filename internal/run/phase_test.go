package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminalPhases(t *testing.T) {
	t.Parallel()
	assert.True(t, PhaseCompleted.Terminal())
	assert.True(t, PhaseCancelled.Terminal())
	for _, p := range []Phase{PhasePending, PhasePlanning, PhaseAwaitingPlanApproval, PhaseExecuting, PhaseAwaitingReview, PhaseBlocked} {
		assert.False(t, p.Terminal(), "%s should not be terminal", p)
	}
}

func TestCanTransitionTable(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to Phase }{
		{PhasePending, PhasePlanning},
		{PhasePlanning, PhaseAwaitingPlanApproval},
		{PhaseAwaitingPlanApproval, PhasePlanning}, // plan revision
		{PhaseAwaitingPlanApproval, PhaseExecuting},
		{PhaseExecuting, PhaseAwaitingReview},
		{PhaseAwaitingReview, PhaseExecuting}, // changes requested
		{PhaseAwaitingReview, PhaseCompleted},
		{PhaseBlocked, PhasePending},
		{PhaseBlocked, PhaseAwaitingReview},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	forbidden := []struct{ from, to Phase }{
		{PhasePending, PhaseExecuting},
		{PhasePending, PhaseCompleted},
		{PhasePlanning, PhaseExecuting},
		{PhaseExecuting, PhaseCompleted},
		{PhaseCompleted, PhasePlanning},
		{PhaseCancelled, PhasePending},
		{PhaseCompleted, PhaseCancelled},
	}
	for _, tc := range forbidden {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be forbidden", tc.from, tc.to)
	}
}

func TestEveryPhaseCanCancelExceptTerminal(t *testing.T) {
	t.Parallel()
	for _, p := range []Phase{PhasePending, PhasePlanning, PhaseAwaitingPlanApproval, PhaseExecuting, PhaseAwaitingReview, PhaseBlocked} {
		assert.True(t, CanTransition(p, PhaseCancelled), "%s should be cancellable", p)
	}
	assert.False(t, CanTransition(PhaseCompleted, PhaseCancelled))
}
