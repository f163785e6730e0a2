package gate

// EvaluateMergeWait passes once the run's pull request has merged. The PR is
// identified by its stable node id; numbers are reused across forks and must
// never be trusted as identity.
func EvaluateMergeWait(snap *Snapshot) Result {
	if snap.PRNodeID == "" {
		return pending("Awaiting pull request")
	}
	if snap.PRMerged {
		return passed("Pull request merged")
	}
	return pending("Awaiting merge")
}
