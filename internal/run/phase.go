// Package run defines the run phase state machine.
//
// A run's phase only ever changes through orchestrator-emitted
// phase.transitioned events; this package is the single source of truth for
// which moves those events may encode.
package run

// Phase is the coarse-grained state of a run.
type Phase string

const (
	PhasePending              Phase = "pending"
	PhasePlanning             Phase = "planning"
	PhaseAwaitingPlanApproval Phase = "awaiting_plan_approval"
	PhaseExecuting            Phase = "executing"
	PhaseAwaitingReview       Phase = "awaiting_review"
	PhaseBlocked              Phase = "blocked"
	PhaseCompleted            Phase = "completed"
	PhaseCancelled            Phase = "cancelled"
)

// transitions is the canonical phase transition table.
// blocked can resume to any non-terminal phase; terminal phases go nowhere.
var transitions = map[Phase][]Phase{
	PhasePending:              {PhasePlanning, PhaseBlocked, PhaseCancelled},
	PhasePlanning:             {PhaseAwaitingPlanApproval, PhaseBlocked, PhaseCancelled},
	PhaseAwaitingPlanApproval: {PhasePlanning, PhaseExecuting, PhaseBlocked, PhaseCancelled},
	PhaseExecuting:            {PhaseAwaitingReview, PhaseBlocked, PhaseCancelled},
	PhaseAwaitingReview:       {PhaseExecuting, PhaseCompleted, PhaseBlocked, PhaseCancelled},
	PhaseBlocked:              {PhasePending, PhasePlanning, PhaseAwaitingPlanApproval, PhaseExecuting, PhaseAwaitingReview, PhaseCancelled},
	PhaseCompleted:            {},
	PhaseCancelled:            {},
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

// Terminal reports whether p is a terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Result records how a terminal run ended.
type Result string

const (
	ResultSuccess   Result = "success"
	ResultFailed    Result = "failed"
	ResultCancelled Result = "cancelled"
)
