// Package webhook normalizes GitHub webhook deliveries into fact events.
//
// The receiver persists the event and acks immediately; it never blocks on
// orchestrator work and never emits decision events. Idempotency keys derive
// from the GitHub delivery id plus the normalized subtype, so a redelivered
// webhook collapses into the existing event.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/cswenor/conductor/internal/db"
	"github.com/cswenor/conductor/internal/event"
)

// Delivery is one webhook delivery as received from GitHub.
type Delivery struct {
	// ID is the X-GitHub-Delivery header value.
	ID string
	// Event is the X-GitHub-Event header value (issues, pull_request, ...).
	Event string
	// Payload is the raw JSON body.
	Payload []byte
}

// RunResolver maps a repository and PR/issue identity to the run the
// delivery concerns. Empty string means no run: the event is stored
// globally.
type RunResolver func(ctx context.Context, repoFullName, prNodeID string, issueNumber int64) (string, error)

// Normalizer turns deliveries into appended fact events.
type Normalizer struct {
	store   *db.Store
	resolve RunResolver
	logger  *slog.Logger
}

// New creates a normalizer. resolve may be nil, in which case every event is
// stored without a run scope.
func New(store *db.Store, resolve RunResolver, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{store: store, resolve: resolve, logger: logger}
}

// Normalize maps a delivery to its event type and subtype. Deliveries
// conductor does not care about return an empty type.
func Normalize(d Delivery) (event.Type, string) {
	action := gjson.GetBytes(d.Payload, "action").String()

	switch d.Event {
	case "installation":
		switch action {
		case "created":
			return event.TypeInstallationCreated, "installation.created"
		case "deleted":
			return event.TypeInstallationDeleted, "installation.deleted"
		}
	case "issues":
		switch action {
		case "opened":
			return event.TypeIssueOpened, "issue.opened"
		case "labeled":
			return event.TypeIssueLabeled, "issue.labeled"
		case "closed":
			return event.TypeIssueClosed, "issue.closed"
		}
	case "issue_comment":
		if action == "created" {
			return event.TypeIssueCommentCreated, "issue_comment.created"
		}
	case "pull_request":
		switch action {
		case "opened":
			return event.TypePROpened, "pr.opened"
		case "synchronize":
			return event.TypePRSynchronized, "pr.synchronized"
		case "closed":
			// merged=true distinguishes a merge from a plain close.
			if gjson.GetBytes(d.Payload, "pull_request.merged").Bool() {
				return event.TypePRMerged, "pr.merged"
			}
			return event.TypePRClosed, "pr.closed"
		}
	case "pull_request_review":
		if action == "submitted" {
			return event.TypePRReviewSubmitted, "pr.review_submitted"
		}
	case "push":
		return event.TypePushReceived, "push.received"
	case "check_suite":
		if action == "completed" {
			return event.TypeCheckSuiteComplete, "check_suite.completed"
		}
	case "check_run":
		if action == "completed" {
			return event.TypeCheckRunComplete, "check_run.completed"
		}
	}
	return "", ""
}

// Ingest normalizes a delivery and appends it as a fact event. Unrecognized
// deliveries are dropped silently; redeliveries dedup on the idempotency
// key.
func (n *Normalizer) Ingest(ctx context.Context, d Delivery) error {
	typ, subtype := Normalize(d)
	if typ == "" {
		n.logger.Debug("ignored delivery", "delivery_id", d.ID, "event", d.Event)
		return nil
	}

	runID := ""
	if n.resolve != nil {
		repo := gjson.GetBytes(d.Payload, "repository.full_name").String()
		prNodeID := gjson.GetBytes(d.Payload, "pull_request.node_id").String()
		issueNumber := gjson.GetBytes(d.Payload, "issue.number").Int()

		var err error
		runID, err = n.resolve(ctx, repo, prNodeID, issueNumber)
		if err != nil {
			return fmt.Errorf("resolve run for delivery %s: %w", d.ID, err)
		}
	}

	payload, err := normalizedPayload(typ, d.Payload)
	if err != nil {
		return err
	}

	e := &db.Event{
		RunID:          runID,
		Type:           typ,
		Class:          event.ClassFact,
		Source:         event.SourceWebhook,
		Payload:        payload,
		IdempotencyKey: fmt.Sprintf("gh:%s:%s", d.ID, subtype),
		CorrelationID:  d.ID,
	}
	if err := n.store.AppendEvent(ctx, e); err != nil {
		return err
	}

	n.logger.Info("webhook ingested",
		"delivery_id", d.ID, "type", typ, "run_id", runID)
	return nil
}

// normalizedPayload extracts the fields downstream consumers read, instead
// of storing multi-kilobyte raw deliveries. The PR is always identified by
// node id.
func normalizedPayload(typ event.Type, raw []byte) (string, error) {
	fields := map[string]any{}

	if repo := gjson.GetBytes(raw, "repository.full_name"); repo.Exists() {
		fields["repo"] = repo.String()
	}

	switch typ {
	case event.TypeIssueOpened, event.TypeIssueLabeled, event.TypeIssueClosed, event.TypeIssueCommentCreated:
		fields["issue_number"] = gjson.GetBytes(raw, "issue.number").Int()
		fields["issue_node_id"] = gjson.GetBytes(raw, "issue.node_id").String()
		if typ == event.TypeIssueLabeled {
			fields["label"] = gjson.GetBytes(raw, "label.name").String()
		}
		if typ == event.TypeIssueCommentCreated {
			fields["comment_body"] = gjson.GetBytes(raw, "comment.body").String()
			fields["comment_author"] = gjson.GetBytes(raw, "comment.user.login").String()
		}
	case event.TypePROpened, event.TypePRSynchronized, event.TypePRClosed, event.TypePRMerged:
		fields["pr_node_id"] = gjson.GetBytes(raw, "pull_request.node_id").String()
		fields["pr_number"] = gjson.GetBytes(raw, "pull_request.number").Int()
		fields["head_sha"] = gjson.GetBytes(raw, "pull_request.head.sha").String()
		if typ == event.TypePRMerged {
			fields["merged"] = true
		}
	case event.TypePRReviewSubmitted:
		fields["pr_node_id"] = gjson.GetBytes(raw, "pull_request.node_id").String()
		fields["review_state"] = gjson.GetBytes(raw, "review.state").String()
		// Downstream consumers get a derived boolean instead of
		// re-interpreting review state.
		fields["changes_requested"] = gjson.GetBytes(raw, "review.state").String() == "changes_requested"
	case event.TypePushReceived:
		fields["ref"] = gjson.GetBytes(raw, "ref").String()
		fields["after"] = gjson.GetBytes(raw, "after").String()
	case event.TypeCheckSuiteComplete:
		fields["conclusion"] = gjson.GetBytes(raw, "check_suite.conclusion").String()
		fields["head_sha"] = gjson.GetBytes(raw, "check_suite.head_sha").String()
	case event.TypeCheckRunComplete:
		fields["conclusion"] = gjson.GetBytes(raw, "check_run.conclusion").String()
		fields["check_run_id"] = gjson.GetBytes(raw, "check_run.id").Int()
	case event.TypeInstallationCreated, event.TypeInstallationDeleted:
		fields["installation_id"] = gjson.GetBytes(raw, "installation.id").Int()
		fields["account"] = gjson.GetBytes(raw, "installation.account.login").String()
	}

	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal normalized payload: %w", err)
	}
	return string(b), nil
}
