// Package gate implements the gate engine: pure evaluators keyed by gate id.
//
// Evaluators never write. They read a Snapshot of projections assembled by
// the caller and return a ternary result; persisting that result as a
// gate_evaluation row is the orchestrator's job.
package gate

import (
	"fmt"

	"github.com/cswenor/conductor/internal/db"
)

// Well-known gate ids. The default required set covers the full pipeline.
const (
	PlanApproval = "plan_approval"
	TestsPass    = "tests_pass"
	CodeReview   = "code_review"
	MergeWait    = "merge_wait"
)

// Gate kinds classify who satisfies a gate: an operator or an automated
// signal.
const (
	KindAutomatic = "automatic"
	KindHuman     = "human"
)

// Result is the outcome of evaluating one gate.
type Result struct {
	Status   db.GateStatus
	Reason   string
	Escalate bool
	Details  map[string]any
}

func pending(reason string) Result {
	return Result{Status: db.GateStatusPending, Reason: reason}
}

func passed(reason string) Result {
	return Result{Status: db.GateStatusPassed, Reason: reason}
}

func failed(reason string) Result {
	return Result{Status: db.GateStatusFailed, Reason: reason}
}

// overridden marks a forced pass. Status stays strictly ternary; the
// override surfaces only through the reason marker and details.
func overridden(o *db.Override) Result {
	return Result{
		Status:  db.GateStatusPassed,
		Reason:  fmt.Sprintf("Overridden: %s by @%s", o.Kind, o.Operator),
		Details: map[string]any{"override": true, "override_id": o.OverrideID},
	}
}

// Evaluator computes a gate result from a snapshot. Must be pure.
type Evaluator func(snap *Snapshot) Result

type registration struct {
	kind string
	fn   Evaluator
}

// Registry maps gate ids to evaluators and their kinds.
type Registry struct {
	gates map[string]registration
}

// NewRegistry returns a registry with the built-in gates installed.
func NewRegistry() *Registry {
	r := &Registry{gates: make(map[string]registration)}
	r.Register(PlanApproval, KindHuman, EvaluatePlanApproval)
	r.Register(TestsPass, KindAutomatic, EvaluateTestsPass)
	r.Register(CodeReview, KindHuman, EvaluateCodeReview)
	r.Register(MergeWait, KindAutomatic, EvaluateMergeWait)
	return r
}

// Register installs or replaces an evaluator.
func (r *Registry) Register(gateID, kind string, fn Evaluator) {
	r.gates[gateID] = registration{kind: kind, fn: fn}
}

// Evaluate runs the evaluator for gateID. Unknown gates fail closed: a
// missing evaluator is a pending gate, never a passed one.
func (r *Registry) Evaluate(gateID string, snap *Snapshot) Result {
	reg, ok := r.gates[gateID]
	if !ok {
		return pending(fmt.Sprintf("No evaluator registered for gate %s", gateID))
	}
	return reg.fn(snap)
}

// Kind returns the registered kind for gateID. Unknown gates report
// automatic, which never passes on its own.
func (r *Registry) Kind(gateID string) string {
	reg, ok := r.gates[gateID]
	if !ok {
		return KindAutomatic
	}
	return reg.kind
}

// Known reports whether an evaluator is registered for gateID.
func (r *Registry) Known(gateID string) bool {
	_, ok := r.gates[gateID]
	return ok
}
