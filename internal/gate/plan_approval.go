package gate

import (
	"strings"
)

// EvaluatePlanApproval gates the exit of awaiting_plan_approval on a
// validated plan, a validated review, and an explicit operator approval.
//
// Rejection is checked before approval so a rejection can never be shadowed
// by a stale approve action.
func EvaluatePlanApproval(snap *Snapshot) Result {
	if snap.Plan == nil {
		return pending("Awaiting validated plan artifact")
	}
	if snap.PlanReview == nil {
		return pending("Awaiting validated review artifact")
	}
	if strings.Contains(snap.PlanReview.ContentMarkdown, "CHANGES_REQUESTED") {
		return pending("Review requested changes")
	}
	if snap.RejectRun != nil {
		return failed(snap.RejectRun.Comment)
	}
	if snap.ApprovePlan != nil {
		return passed("Plan approved by @" + snap.ApprovePlan.Operator)
	}
	return pending("Awaiting operator approval")
}
