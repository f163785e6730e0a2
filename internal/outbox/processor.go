// Package outbox delivers queued GitHub writes. It is the only component
// allowed to call the GitHub API; everything upstream records intent rows
// and lets the processor deliver them at least once.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cswenor/conductor/internal/db"
	cerrors "github.com/cswenor/conductor/internal/errors"
	"github.com/cswenor/conductor/internal/github"
	"github.com/cswenor/conductor/internal/redact"
)

// Config tunes the processor.
type Config struct {
	MaxRetries   int64
	BackoffBase  time.Duration
	StallAfter   time.Duration
	PollInterval time.Duration
	BatchSize    int
}

// DefaultConfig returns the standard processor settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		BackoffBase:  time.Second,
		StallAfter:   5 * time.Minute,
		PollInterval: time.Second,
		BatchSize:    20,
	}
}

// Processor claims and delivers outbox rows.
type Processor struct {
	store    *db.Store
	writer   github.Writer
	redactor redact.Redactor
	logger   *slog.Logger
	cfg      Config

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(context.Context, time.Duration) error
}

// New creates a processor over the given store and writer.
func New(store *db.Store, writer github.Writer, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    store,
		writer:   writer,
		redactor: redact.New(),
		logger:   logger,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Enqueue records an intended write. The payload is redacted and hashed
// before storage; two payloads differing only in secrets or key order
// collapse to one row.
func (p *Processor) Enqueue(ctx context.Context, runID, kind, targetNodeID string, payload []byte) (*db.GitHubWrite, bool, error) {
	res, err := p.redactor.Redact(payload)
	if err != nil {
		return nil, false, cerrors.ErrValidation(fmt.Sprintf("payload is not valid JSON: %v", err))
	}

	w := &db.GitHubWrite{
		RunID:        runID,
		Kind:         kind,
		TargetNodeID: targetNodeID,
		PayloadHash:  res.PayloadHash,
		Payload:      string(res.JSON),
	}
	isNew, err := p.store.EnqueueWrite(ctx, w)
	if err != nil {
		return nil, false, err
	}
	if isNew {
		p.logger.Info("write enqueued", "write_id", w.GitHubWriteID, "run_id", runID, "kind", kind)
	}
	return w, isNew, nil
}

// ProcessPending claims and delivers up to the configured batch of eligible
// rows. runID narrows processing to one run when non-empty.
func (p *Processor) ProcessPending(ctx context.Context, runID string) error {
	writes, err := p.store.ListPendingWrites(ctx, p.cfg.BatchSize, runID, p.cfg.MaxRetries)
	if err != nil {
		return err
	}

	for _, w := range writes {
		if w.RetryCount > 0 {
			if err := p.sleep(ctx, Backoff(w.RetryCount, p.cfg.BackoffBase)); err != nil {
				return err
			}
		}

		claimed, err := p.store.ClaimWrite(ctx, w.GitHubWriteID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		p.deliver(ctx, w)
	}
	return nil
}

func (p *Processor) deliver(ctx context.Context, w *db.GitHubWrite) {
	result, err := p.dispatch(ctx, w)
	if err == nil {
		if markErr := p.store.MarkWriteCompleted(ctx, w.GitHubWriteID,
			result.ID, result.NodeID, result.URL, result.Number); markErr != nil {
			p.logger.Error("mark completed failed", "write_id", w.GitHubWriteID, "error", markErr)
			return
		}
		p.logger.Info("write delivered",
			"write_id", w.GitHubWriteID, "kind", w.Kind, "github_id", result.ID)
		return
	}

	permanent := !Retryable(err)
	if markErr := p.store.MarkWriteFailed(ctx, w.GitHubWriteID, err.Error(), permanent); markErr != nil {
		p.logger.Error("mark failed failed", "write_id", w.GitHubWriteID, "error", markErr)
		return
	}
	p.logger.Warn("write failed",
		"write_id", w.GitHubWriteID, "kind", w.Kind,
		"retry_count", w.RetryCount+1, "permanent", permanent, "error", err)
}

// dispatch executes one write against the GitHub client based on its kind.
func (p *Processor) dispatch(ctx context.Context, w *db.GitHubWrite) (*github.WriteResult, error) {
	payload := w.Payload
	owner := gjson.Get(payload, "owner").String()
	repo := gjson.Get(payload, "repo").String()

	switch w.Kind {
	case db.WriteKindComment:
		return p.writer.CreateComment(ctx, github.CommentInput{
			Owner:       owner,
			Repo:        repo,
			IssueNumber: int(gjson.Get(payload, "issue_number").Int()),
			Body:        gjson.Get(payload, "body").String(),
		})
	case db.WriteKindPullRequest:
		return p.writer.CreatePullRequest(ctx, github.PullRequestInput{
			Owner: owner,
			Repo:  repo,
			Title: gjson.Get(payload, "title").String(),
			Body:  gjson.Get(payload, "body").String(),
			Head:  gjson.Get(payload, "head").String(),
			Base:  gjson.Get(payload, "base").String(),
			Draft: gjson.Get(payload, "draft").Bool(),
		})
	case db.WriteKindCheckRun:
		in := github.CheckRunInput{
			Owner:      owner,
			Repo:       repo,
			CheckRunID: gjson.Get(payload, "check_run_id").Int(),
			Name:       gjson.Get(payload, "name").String(),
			HeadSHA:    gjson.Get(payload, "head_sha").String(),
			Status:     gjson.Get(payload, "status").String(),
			Conclusion: gjson.Get(payload, "conclusion").String(),
			Title:      gjson.Get(payload, "title").String(),
			Summary:    gjson.Get(payload, "summary").String(),
		}
		// Presence of check_run_id distinguishes update from create.
		if in.CheckRunID != 0 {
			return p.writer.UpdateCheckRun(ctx, in)
		}
		return p.writer.CreateCheckRun(ctx, in)
	case db.WriteKindBranch:
		return p.writer.CreateBranch(ctx, github.BranchInput{
			Owner:   owner,
			Repo:    repo,
			Branch:  gjson.Get(payload, "branch").String(),
			BaseSHA: gjson.Get(payload, "base_sha").String(),
		})
	case db.WriteKindLabel, db.WriteKindReview, db.WriteKindProjectFieldUpdate:
		// Reserved kinds fail cleanly; they must never retry-loop.
		return nil, cerrors.ErrNotImplemented(w.Kind)
	default:
		return nil, cerrors.ErrValidation(fmt.Sprintf("unknown write kind %q", w.Kind))
	}
}

// Retryable classifies a delivery error. Rate limits, server errors, and
// network failures are transient; auth errors, missing targets, validation
// failures, and reserved kinds are not.
func Retryable(err error) bool {
	if cerrors.IsCode(err, cerrors.CodeNotImplemented) ||
		cerrors.IsCode(err, cerrors.CodeValidation) ||
		cerrors.IsCode(err, cerrors.CodePermanentExternal) {
		return false
	}
	if cerrors.IsCode(err, cerrors.CodeRetryableExternal) {
		return true
	}

	var statusErr *github.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429:
			return true
		case statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Unknown errors retry: losing a write is worse than a duplicate
	// attempt the idempotency key will absorb.
	return true
}
