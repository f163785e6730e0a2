// Package event defines the conductor event taxonomy and live publishing
// infrastructure. Persistence of events lives in internal/db; this package
// carries the type/class/source vocabulary and in-process fan-out.
package event

import (
	"time"
)

// Class partitions events by authority.
type Class string

const (
	// ClassFact records something that happened outside the orchestrator.
	ClassFact Class = "fact"
	// ClassDecision records an orchestrator choice. Reserved for the orchestrator.
	ClassDecision Class = "decision"
	// ClassSignal is advisory and carries no state-machine weight.
	ClassSignal Class = "signal"
)

// Source identifies where an event originated.
type Source string

const (
	SourceWebhook      Source = "webhook"
	SourceWorker       Source = "worker"
	SourceOrchestrator Source = "orchestrator"
	SourceToolLayer    Source = "tool_layer"
	SourceOperator     Source = "operator"
	SourceSystem       Source = "system"
)

// Type identifies what an event describes.
type Type string

const (
	// Inbound facts (webhook-sourced)
	TypeInstallationCreated Type = "installation.created"
	TypeInstallationDeleted Type = "installation.deleted"
	TypeIssueOpened         Type = "issue.opened"
	TypeIssueLabeled        Type = "issue.labeled"
	TypeIssueClosed         Type = "issue.closed"
	TypeIssueCommentCreated Type = "issue_comment.created"
	TypePROpened            Type = "pr.opened"
	TypePRSynchronized      Type = "pr.synchronized"
	TypePRReviewSubmitted   Type = "pr.review_submitted"
	TypePRClosed            Type = "pr.closed"
	// TypePRMerged is derived from a closed delivery carrying merged=true.
	TypePRMerged           Type = "pr.merged"
	TypePushReceived       Type = "push.received"
	TypeCheckSuiteComplete Type = "check_suite.completed"
	TypeCheckRunComplete   Type = "check_run.completed"

	// Internal events
	TypePhaseTransitioned Type = "phase.transitioned" // orchestrator-only
	TypeAgentStarted      Type = "agent.started"
	TypeAgentCompleted    Type = "agent.completed"
	TypeAgentFailed       Type = "agent.failed"
	TypeGateEvaluated     Type = "gate.evaluated"
	TypeGatePassed        Type = "gate.passed"
	TypeGateFailed        Type = "gate.failed"
	TypeOperatorAction    Type = "operator.action"
	TypeSystemTimeout     Type = "system.timeout"
	TypeSystemRetry       Type = "system.retry"
)

// OrchestratorOnly reports whether the event type may only be emitted by the
// orchestrator. Appends from any other source must fail Forbidden.
func OrchestratorOnly(t Type) bool {
	return t == TypePhaseTransitioned
}

// ValidClass reports whether c is a known event class.
func ValidClass(c Class) bool {
	switch c {
	case ClassFact, ClassDecision, ClassSignal:
		return true
	}
	return false
}

// ValidSource reports whether s is a known event source.
func ValidSource(s Source) bool {
	switch s {
	case SourceWebhook, SourceWorker, SourceOrchestrator, SourceToolLayer, SourceOperator, SourceSystem:
		return true
	}
	return false
}

// Notification is a live event delivered to in-process subscribers.
// It mirrors the persisted row but carries already-decoded payload data.
type Notification struct {
	RunID    string    `json:"run_id"`
	Type     Type      `json:"type"`
	Sequence int64     `json:"sequence,omitempty"`
	Data     any       `json:"data,omitempty"`
	Time     time.Time `json:"time"`
}

// NewNotification creates a notification stamped with the current time.
func NewNotification(runID string, t Type, data any) Notification {
	return Notification{RunID: runID, Type: t, Data: data, Time: time.Now().UTC()}
}
