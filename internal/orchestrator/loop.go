package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cswenor/conductor/internal/db"
	cerrors "github.com/cswenor/conductor/internal/errors"
	"github.com/cswenor/conductor/internal/event"
	"github.com/cswenor/conductor/internal/run"
)

// Run polls the event log for unprocessed events and reacts to them until
// the context is cancelled. Safe to run in multiple workers: reactions are
// idempotent and transitions are optimistically locked.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.processBatch(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				o.logger.Error("event batch failed", "error", err)
			}
		}
	}
}

// maxEventAttempts bounds how many batches retry a failing event before it
// is stamped processed and dropped from the feed.
const maxEventAttempts = 5

func (o *Orchestrator) processBatch(ctx context.Context) error {
	events, err := o.store.ListUnprocessedEvents(ctx, o.batchSize)
	if err != nil {
		return err
	}

	for _, e := range events {
		if err := o.handleEvent(ctx, e); err != nil {
			// A lost optimistic lock means another worker handled it;
			// leave the event unprocessed only on real errors.
			if cerrors.IsCode(err, cerrors.CodeOptimisticLockFailed) {
				o.logger.Debug("lost transition race", "event_id", e.EventID, "run_id", e.RunID)
			} else if attempts := o.noteFailure(e.EventID); attempts < maxEventAttempts {
				o.logger.Error("event handling failed",
					"event_id", e.EventID, "type", e.Type, "attempt", attempts, "error", err)
				continue
			} else {
				// Poison event: stop retrying so it cannot wedge the
				// feed. The log line is the dead-letter record.
				o.logger.Error("abandoning event after repeated failures",
					"event_id", e.EventID, "type", e.Type, "attempts", attempts, "error", err)
			}
		}
		o.clearFailure(e.EventID)
		if err := o.store.MarkEventProcessed(ctx, e.EventID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) noteFailure(eventID string) int {
	o.failMu.Lock()
	defer o.failMu.Unlock()
	o.failures[eventID]++
	return o.failures[eventID]
}

func (o *Orchestrator) clearFailure(eventID string) {
	o.failMu.Lock()
	defer o.failMu.Unlock()
	delete(o.failures, eventID)
}

func (o *Orchestrator) handleEvent(ctx context.Context, e *db.Event) error {
	switch e.Type {
	case event.TypeOperatorAction:
		return o.handleOperatorAction(ctx, e)
	case event.TypePhaseTransitioned, event.TypeGateEvaluated:
		// Own decisions; nothing to react to.
		return nil
	}

	if e.RunID == "" {
		return nil
	}

	r, err := o.store.GetRun(e.RunID)
	if err != nil {
		return err
	}
	if r.Phase.Terminal() {
		return nil
	}

	// A freshly created run starts planning on its first event.
	if r.Phase == run.PhasePending {
		_, _, err := o.TransitionPhase(ctx, e.RunID, run.PhasePending, run.PhasePlanning,
			TransitionOptions{CausationID: e.EventID})
		return err
	}

	_, err = o.EvaluateGatesAndTransition(ctx, e.RunID)
	return err
}

func (o *Orchestrator) handleOperatorAction(ctx context.Context, e *db.Event) error {
	if e.RunID == "" {
		return nil
	}
	action := gjson.Get(e.Payload, "action").String()
	switch action {
	case db.ActionCancelRun:
		reason := gjson.Get(e.Payload, "comment").String()
		if reason == "" {
			reason = "cancelled by operator"
		}
		return o.CancelRun(ctx, e.RunID, reason)
	case db.ActionApprovePlan, db.ActionRejectRun:
		// The action row itself was recorded at intake; re-check gates.
		_, err := o.EvaluateGatesAndTransition(ctx, e.RunID)
		return err
	}
	return nil
}

// prFacts digs pull request state for a run out of its webhook fact events.
// The PR is identified by node id throughout.
type prFacts struct {
	nodeID           string
	changesRequested bool
	merged           bool
}

func (o *Orchestrator) loadPRFacts(runID string) (prFacts, error) {
	var facts prFacts
	events, err := o.store.ListRunEvents(runID)
	if err != nil {
		return facts, err
	}
	for _, e := range events {
		switch e.Type {
		case event.TypePROpened:
			facts.nodeID = gjson.Get(e.Payload, "pr_node_id").String()
		case event.TypePRReviewSubmitted:
			facts.changesRequested = gjson.Get(e.Payload, "changes_requested").Bool()
		case event.TypePRSynchronized:
			// New commits invalidate an earlier changes-requested review.
			facts.changesRequested = false
		case event.TypePRMerged:
			facts.merged = true
		}
	}
	return facts, nil
}
