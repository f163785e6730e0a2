package gate

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/cswenor/conductor/internal/db"
)

// EvaluateTestsPass gates the exit of executing on a verified green test run.
//
// The agent's own summary is never trusted: the result comes from the exit
// code recorded by the tool layer. A test report without a backing tool
// invocation cannot pass.
func EvaluateTestsPass(snap *Snapshot) Result {
	if snap.SkipTests != nil {
		return overridden(snap.SkipTests)
	}

	if snap.TestReport == nil {
		return pending("Tests not yet run")
	}
	if snap.TestReport.SourceToolInvocationID == "" || snap.TestInvocation == nil {
		return pending("Test report has no tool execution record — cannot verify results")
	}

	exitCode := gjson.Get(snap.TestInvocation.ResultMeta, "exit_code")
	if !exitCode.Exists() {
		return pending("Test execution record carries no exit code — cannot verify results")
	}
	if exitCode.Int() == 0 {
		return passed("All tests passed")
	}

	maxRetries := snap.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	attempts := snap.Run.TestFixAttempts
	if attempts < maxRetries {
		return Result{
			Status: db.GateStatusPending,
			Reason: fmt.Sprintf("Tests failed — retry %d/%d", attempts+1, maxRetries),
			Details: map[string]any{
				"testFixAttempts": attempts,
				"maxRetries":      maxRetries,
			},
		}
	}
	return Result{
		Status:   db.GateStatusFailed,
		Reason:   fmt.Sprintf("Tests failed after %d attempts", maxRetries),
		Escalate: true,
		Details: map[string]any{
			"testFixAttempts": attempts,
			"maxRetries":      maxRetries,
		},
	}
}
