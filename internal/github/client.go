package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v82/github"
)

// Compile-time interface check.
var _ Writer = (*Client)(nil)

// Client implements Writer using the go-github library.
type Client struct {
	client *gogithub.Client
}

// Config holds GitHub connection settings.
type Config struct {
	Token string
	// BaseURL points at a GitHub Enterprise instance when set.
	BaseURL string
}

// NewClient creates an authenticated GitHub client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	httpClient := &http.Client{
		Transport: &oauth2Transport{token: cfg.Token},
	}
	client := gogithub.NewClient(httpClient)

	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		var parseErr error
		client.BaseURL, parseErr = client.BaseURL.Parse(baseURL + "/api/v3/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, parseErr)
		}
		client.UploadURL, parseErr = client.UploadURL.Parse(baseURL + "/api/uploads/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse upload URL %q: %w", cfg.BaseURL, parseErr)
		}
	}

	return &Client{client: client}, nil
}

// oauth2Transport adds an Authorization header to every request.
type oauth2Transport struct {
	token string
	base  http.RoundTripper
}

func (t *oauth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// CheckAuth validates the token by fetching the authenticated user.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return fmt.Errorf("check auth: %w", err)
	}
	return nil
}

// CreateComment posts a comment on an issue or pull request.
func (c *Client) CreateComment(ctx context.Context, in CommentInput) (*WriteResult, error) {
	comment, _, err := c.client.Issues.CreateComment(ctx, in.Owner, in.Repo, in.IssueNumber,
		&gogithub.IssueComment{Body: gogithub.Ptr(in.Body)})
	if err != nil {
		return nil, classify(err)
	}
	return &WriteResult{
		ID:     comment.GetID(),
		NodeID: comment.GetNodeID(),
		URL:    comment.GetHTMLURL(),
	}, nil
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, in PullRequestInput) (*WriteResult, error) {
	pr, _, err := c.client.PullRequests.Create(ctx, in.Owner, in.Repo, &gogithub.NewPullRequest{
		Title: gogithub.Ptr(in.Title),
		Body:  gogithub.Ptr(in.Body),
		Head:  gogithub.Ptr(in.Head),
		Base:  gogithub.Ptr(in.Base),
		Draft: gogithub.Ptr(in.Draft),
	})
	if err != nil {
		return nil, classify(err)
	}
	return &WriteResult{
		ID:     pr.GetID(),
		NodeID: pr.GetNodeID(),
		URL:    pr.GetHTMLURL(),
		Number: int64(pr.GetNumber()),
	}, nil
}

// CreateCheckRun creates a new check run.
func (c *Client) CreateCheckRun(ctx context.Context, in CheckRunInput) (*WriteResult, error) {
	opts := gogithub.CreateCheckRunOptions{
		Name:    in.Name,
		HeadSHA: in.HeadSHA,
	}
	if in.Status != "" {
		opts.Status = gogithub.Ptr(in.Status)
	}
	if in.Conclusion != "" {
		opts.Conclusion = gogithub.Ptr(in.Conclusion)
	}
	if in.Title != "" || in.Summary != "" {
		opts.Output = &gogithub.CheckRunOutput{
			Title:   gogithub.Ptr(in.Title),
			Summary: gogithub.Ptr(in.Summary),
		}
	}

	checkRun, _, err := c.client.Checks.CreateCheckRun(ctx, in.Owner, in.Repo, opts)
	if err != nil {
		return nil, classify(err)
	}
	return &WriteResult{
		ID:     checkRun.GetID(),
		NodeID: checkRun.GetNodeID(),
		URL:    checkRun.GetHTMLURL(),
	}, nil
}

// UpdateCheckRun updates an existing check run by id.
func (c *Client) UpdateCheckRun(ctx context.Context, in CheckRunInput) (*WriteResult, error) {
	opts := gogithub.UpdateCheckRunOptions{
		Name: in.Name,
	}
	if in.Status != "" {
		opts.Status = gogithub.Ptr(in.Status)
	}
	if in.Conclusion != "" {
		opts.Conclusion = gogithub.Ptr(in.Conclusion)
	}
	if in.Title != "" || in.Summary != "" {
		opts.Output = &gogithub.CheckRunOutput{
			Title:   gogithub.Ptr(in.Title),
			Summary: gogithub.Ptr(in.Summary),
		}
	}

	checkRun, _, err := c.client.Checks.UpdateCheckRun(ctx, in.Owner, in.Repo, in.CheckRunID, opts)
	if err != nil {
		return nil, classify(err)
	}
	return &WriteResult{
		ID:     checkRun.GetID(),
		NodeID: checkRun.GetNodeID(),
		URL:    checkRun.GetHTMLURL(),
	}, nil
}

// CreateBranch creates a branch ref pointing at a base SHA.
func (c *Client) CreateBranch(ctx context.Context, in BranchInput) (*WriteResult, error) {
	ref, _, err := c.client.Git.CreateRef(ctx, in.Owner, in.Repo, gogithub.CreateRef{
		Ref: "refs/heads/" + in.Branch,
		SHA: in.BaseSHA,
	})
	if err != nil {
		return nil, classify(err)
	}
	return &WriteResult{
		NodeID: ref.GetNodeID(),
		URL:    ref.GetURL(),
	}, nil
}

// StatusError carries the HTTP status of a failed API call for retry
// classification.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github api error (HTTP %d): %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// classify wraps go-github errors so callers can read the HTTP status.
// Errors without a response (network failures, timeouts) pass through
// unwrapped and are treated as retryable by the outbox.
func classify(err error) error {
	var ghErr *gogithub.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return &StatusError{StatusCode: ghErr.Response.StatusCode, Err: err}
	}
	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) {
		return &StatusError{StatusCode: http.StatusTooManyRequests, Err: err}
	}
	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &StatusError{StatusCode: http.StatusTooManyRequests, Err: err}
	}
	return err
}
