package gate

import (
	"strings"
)

// EvaluateCodeReview gates the exit of awaiting_review on a validated
// code-time review that requests no changes. An accept_with_issues override
// forces a pass when the PR it targets matches by node id.
func EvaluateCodeReview(snap *Snapshot) Result {
	if snap.AcceptWithIssues != nil {
		return overridden(snap.AcceptWithIssues)
	}

	if snap.CodeRev == nil {
		return pending("Awaiting validated code review artifact")
	}
	if strings.Contains(snap.CodeRev.ContentMarkdown, "CHANGES_REQUESTED") || snap.ChangesRequested {
		return pending("Review requested changes")
	}
	if snap.RejectRun != nil {
		return failed(snap.RejectRun.Comment)
	}
	return passed("Code review clean")
}
