// Package github implements the outbound GitHub write surface. The outbox is
// the only caller; nothing else in conductor talks to the GitHub API
// directly.
package github

import (
	"context"
)

// WriteResult carries the identifiers GitHub returned for a successful
// write. NodeID is the stable identity; Number is informational only.
type WriteResult struct {
	ID     int64
	NodeID string
	URL    string
	Number int64
}

// CommentInput creates an issue or PR comment.
type CommentInput struct {
	Owner       string
	Repo        string
	IssueNumber int
	Body        string
}

// PullRequestInput opens a pull request.
type PullRequestInput struct {
	Owner string
	Repo  string
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// CheckRunInput creates or updates a check run. A non-zero CheckRunID means
// update.
type CheckRunInput struct {
	Owner      string
	Repo       string
	CheckRunID int64
	Name       string
	HeadSHA    string
	Status     string
	Conclusion string
	Title      string
	Summary    string
}

// BranchInput creates a branch ref from a base SHA.
type BranchInput struct {
	Owner   string
	Repo    string
	Branch  string
	BaseSHA string
}

// Writer is the set of GitHub side effects the outbox can produce.
type Writer interface {
	CreateComment(ctx context.Context, in CommentInput) (*WriteResult, error)
	CreatePullRequest(ctx context.Context, in PullRequestInput) (*WriteResult, error)
	CreateCheckRun(ctx context.Context, in CheckRunInput) (*WriteResult, error)
	UpdateCheckRun(ctx context.Context, in CheckRunInput) (*WriteResult, error)
	CreateBranch(ctx context.Context, in BranchInput) (*WriteResult, error)
}
