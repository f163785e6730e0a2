// Package orchestrator drives run state. It is the only writer of decision
// events: phase transitions and gate evaluations both happen here, inside
// single database transactions that pair the event with its projection
// update.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cswenor/conductor/internal/cancel"
	"github.com/cswenor/conductor/internal/db"
	cerrors "github.com/cswenor/conductor/internal/errors"
	"github.com/cswenor/conductor/internal/event"
	"github.com/cswenor/conductor/internal/gate"
	"github.com/cswenor/conductor/internal/run"
)

// Orchestrator advances runs through the phase state machine in response to
// events and gate outcomes.
type Orchestrator struct {
	store     *db.Store
	gates     *gate.Registry
	publisher event.Publisher
	cancels   *cancel.Registry
	logger    *slog.Logger

	pollInterval time.Duration
	batchSize    int

	failMu   sync.Mutex
	failures map[string]int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval sets how often the event loop polls for unprocessed
// events.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithPublisher sets the live event publisher.
func WithPublisher(p event.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// New creates an orchestrator over the given store.
func New(store *db.Store, gates *gate.Registry, cancels *cancel.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		gates:        gates,
		cancels:      cancels,
		logger:       slog.Default(),
		pollInterval: 2 * time.Second,
		batchSize:    50,
		failures:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TransitionOptions carries the optional fields a transition may set.
type TransitionOptions struct {
	Step           string
	Result         run.Result
	ResultReason   string
	BlockedReason  string
	BlockedContext string
	CausationID    string
	CorrelationID  string
}

// TransitionPhase moves a run from one phase to another atomically: the
// phase.transitioned decision event and the projection update commit or roll
// back together. A concurrent transition surfaces as OptimisticLockFailed
// with no partial state; callers re-read and decide again.
func (o *Orchestrator) TransitionPhase(ctx context.Context, runID string, from, to run.Phase, opts TransitionOptions) (*db.Run, *db.Event, error) {
	if !run.CanTransition(from, to) {
		return nil, nil, cerrors.ErrInvalidTransition(runID, string(from), string(to))
	}

	var (
		updated *db.Run
		evt     *db.Event
	)
	err := o.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		updated, evt, err = o.transitionTx(tx, runID, from, to, opts)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	o.announceTransition(runID, from, to, evt)
	return updated, evt, nil
}

// transitionTx performs the transition inside the caller's transaction so
// gate evaluation can commit together with the phase change.
func (o *Orchestrator) transitionTx(tx *db.TxOps, runID string, from, to run.Phase, opts TransitionOptions) (*db.Run, *db.Event, error) {
	r, err := db.GetRunTx(tx, runID)
	if err != nil {
		return nil, nil, err
	}
	if r.Phase != from {
		return nil, nil, cerrors.ErrOptimisticLockFailed(runID, string(from))
	}

	// Sequence floor: never reuse a number a worker fact already
	// claimed, even if the run's reservation lags behind.
	seq := r.NextSequence
	maxSeq, err := db.MaxSequenceTx(tx, runID)
	if err != nil {
		return nil, nil, err
	}
	if maxSeq+1 > seq {
		seq = maxSeq + 1
	}

	payload, err := json.Marshal(map[string]any{
		"from": string(from),
		"to":   string(to),
		"step": opts.Step,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal transition payload: %w", err)
	}

	evt := &db.Event{
		RunID:          runID,
		Type:           event.TypePhaseTransitioned,
		Class:          event.ClassDecision,
		Source:         event.SourceOrchestrator,
		Payload:        string(payload),
		Sequence:       seq,
		IdempotencyKey: fmt.Sprintf("phase:%s:%d", runID, seq),
		CausationID:    opts.CausationID,
		CorrelationID:  opts.CorrelationID,
	}
	inserted, err := db.AppendEventTx(tx, evt)
	if err != nil {
		return nil, nil, err
	}
	if !inserted {
		// Another orchestrator claimed this sequence first.
		return nil, nil, cerrors.ErrOptimisticLockFailed(runID, string(from))
	}

	affected, err := db.UpdateRunPhaseTx(tx, runID, from, to, seq+1, seq)
	if err != nil {
		return nil, nil, err
	}
	if affected == 0 {
		return nil, nil, cerrors.ErrOptimisticLockFailed(runID, string(from))
	}

	if opts.Step != "" {
		if err := db.SetRunStepTx(tx, runID, opts.Step); err != nil {
			return nil, nil, err
		}
	}
	// Every transition rewrites the blocked fields: set on entering
	// blocked, cleared everywhere else.
	if err := db.SetBlockedTx(tx, runID, opts.BlockedReason, opts.BlockedContext); err != nil {
		return nil, nil, err
	}
	if to.Terminal() {
		result := opts.Result
		if result == "" {
			if to == run.PhaseCancelled {
				result = run.ResultCancelled
			} else {
				result = run.ResultSuccess
			}
		}
		if err := db.CompleteRunTx(tx, runID, result, opts.ResultReason); err != nil {
			return nil, nil, err
		}
		if err := db.ClearActiveRunTx(tx, r.TaskID, runID); err != nil {
			return nil, nil, err
		}
	}

	updated, err := db.GetRunTx(tx, runID)
	if err != nil {
		return nil, nil, err
	}
	return updated, evt, nil
}

// announceTransition logs and publishes a committed transition.
func (o *Orchestrator) announceTransition(runID string, from, to run.Phase, evt *db.Event) {
	o.logger.Info("phase transitioned",
		"run_id", runID, "from", from, "to", to, "sequence", evt.Sequence)
	if o.publisher != nil {
		n := event.NewNotification(runID, event.TypePhaseTransitioned, map[string]string{
			"from": string(from), "to": string(to),
		})
		n.Sequence = evt.Sequence
		o.publisher.Publish(n)
	}
}

// candidateTransitions maps a gated phase to where passing its gates leads.
var candidateTransitions = map[run.Phase]run.Phase{
	run.PhaseAwaitingPlanApproval: run.PhaseExecuting,
	run.PhaseExecuting:            run.PhaseAwaitingReview,
	run.PhaseAwaitingReview:       run.PhaseCompleted,
}

// defaultGates maps a phase to the gates guarding its exit when the run has
// no routing decision.
var defaultGates = map[run.Phase][]string{
	run.PhaseAwaitingPlanApproval: {gate.PlanApproval},
	run.PhaseExecuting:            {gate.TestsPass},
	run.PhaseAwaitingReview:       {gate.CodeReview, gate.MergeWait},
}

// gatesForRun returns the gates applicable to the run's current phase,
// honoring its routing decision when one exists.
func (o *Orchestrator) gatesForRun(r *db.Run) ([]string, error) {
	rd, err := o.store.GetRoutingDecision(r.RunID)
	if err != nil {
		return nil, err
	}
	if rd != nil && len(rd.RequiredGates) > 0 {
		var applicable []string
		for _, g := range rd.RequiredGates {
			for _, def := range defaultGates[r.Phase] {
				if g == def {
					applicable = append(applicable, g)
				}
			}
		}
		return applicable, nil
	}
	return defaultGates[r.Phase], nil
}

// EvaluateGatesAndTransition evaluates every gate guarding the run's current
// phase, persists each result with a gate.evaluated decision event, and
// transitions the run when all required gates pass. Everything commits in
// one transaction.
func (o *Orchestrator) EvaluateGatesAndTransition(ctx context.Context, runID string) (*db.Run, error) {
	r, err := o.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	to, gated := candidateTransitions[r.Phase]
	if !gated {
		return r, nil
	}

	gates, err := o.gatesForRun(r)
	if err != nil {
		return nil, err
	}
	if len(gates) == 0 {
		return r, nil
	}

	snap, err := gate.LoadSnapshot(o.store, runID)
	if err != nil {
		return nil, err
	}
	facts, err := o.loadPRFacts(runID)
	if err != nil {
		return nil, err
	}
	snap.ChangesRequested = facts.changesRequested
	snap.PRMerged = facts.merged
	if facts.nodeID != "" {
		if err := snap.ResolvePROverrides(o.store, facts.nodeID); err != nil {
			return nil, err
		}
	}

	allPassed := true
	results := make(map[string]gate.Result, len(gates))
	for _, gateID := range gates {
		res := o.gates.Evaluate(gateID, snap)
		results[gateID] = res
		if res.Status != db.GateStatusPassed {
			allPassed = false
		}
	}

	var (
		updated *db.Run
		evt     *db.Event
	)
	err = o.store.RunInTx(ctx, func(tx *db.TxOps) error {
		for _, gateID := range gates {
			res := results[gateID]

			seq := snap.Run.NextSequence
			maxSeq, err := db.MaxSequenceTx(tx, runID)
			if err != nil {
				return err
			}
			if maxSeq+1 > seq {
				seq = maxSeq + 1
			}

			details := ""
			if res.Details != nil {
				b, err := json.Marshal(res.Details)
				if err != nil {
					return fmt.Errorf("marshal gate details: %w", err)
				}
				details = string(b)
			}

			gateEvt := &db.Event{
				RunID:          runID,
				Type:           event.TypeGateEvaluated,
				Class:          event.ClassDecision,
				Source:         event.SourceOrchestrator,
				Sequence:       seq,
				IdempotencyKey: fmt.Sprintf("gate:%s:%s:%d", runID, gateID, seq),
				Payload:        details,
			}
			inserted, err := db.AppendEventTx(tx, gateEvt)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}

			if err := db.CreateGateEvaluationTx(tx, &db.GateEvaluation{
				RunID:            runID,
				GateID:           gateID,
				Kind:             o.gates.Kind(gateID),
				Status:           res.Status,
				Reason:           res.Reason,
				Details:          details,
				CausationEventID: gateEvt.EventID,
			}); err != nil {
				return err
			}

			o.logger.Info("gate evaluated",
				"run_id", runID, "gate", gateID, "status", res.Status, "reason", res.Reason)
		}

		// The transition rides the same transaction: evaluations and the
		// phase change commit or roll back together.
		if !allPassed {
			return nil
		}
		var err error
		updated, evt, err = o.transitionTx(tx, runID, r.Phase, to, TransitionOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}

	if !allPassed {
		return r, nil
	}
	o.announceTransition(runID, r.Phase, to, evt)
	return updated, nil
}

// CancelRun cancels a run: signals the in-process token, transitions the
// phase, and cancels any pending outbox writes so no orphan side effects
// land later.
func (o *Orchestrator) CancelRun(ctx context.Context, runID, reason string) error {
	o.cancels.Signal(runID)

	r, err := o.store.GetRun(runID)
	if err != nil {
		return err
	}
	if r.Phase.Terminal() {
		return nil
	}

	_, _, err = o.TransitionPhase(ctx, runID, r.Phase, run.PhaseCancelled, TransitionOptions{
		Result:       run.ResultCancelled,
		ResultReason: reason,
	})
	if err != nil {
		return err
	}

	n, err := o.store.CancelRunWrites(ctx, runID)
	if err != nil {
		return err
	}
	if n > 0 {
		o.logger.Info("cancelled pending writes", "run_id", runID, "count", n)
	}
	return nil
}
