package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultAPIBase = "https://api.github.com"
	defaultRawBase = "https://raw.githubusercontent.com"
	userAgent      = "texsync"

	// compareFileLimit is the hard cap GitHub puts on the files array of
	// a compare response. A response at the cap must be treated as
	// truncated.
	compareFileLimit = 300
)

// ErrCommitNotFound indicates the requested commit no longer exists on
// the remote (evicted by a force push or garbage collection).
var ErrCommitNotFound = errors.New("commit not found on remote")

// Commit is the metadata of a single commit.
type Commit struct {
	SHA  string
	Date string
}

// ChangeStatus is the closed set of per-file statuses a commit compare
// can report.
type ChangeStatus string

const (
	StatusAdded    ChangeStatus = "added"
	StatusModified ChangeStatus = "modified"
	StatusRemoved  ChangeStatus = "removed"
	StatusRenamed  ChangeStatus = "renamed"
)

// Change is one file entry from a two-commit compare.
type Change struct {
	Path   string
	Status ChangeStatus
	// SHA is the blob sha of the file at head, when the API reports it.
	SHA string
	// OldPath is set for StatusRenamed entries.
	OldPath string
}

// Client is the hosting API surface the sync engine consumes.
type Client interface {
	// LatestCommit returns the newest commit on the given ref.
	LatestCommit(ctx context.Context, ref string) (Commit, error)
	// CompareCommits lists per-file changes between two commits. The
	// bool result reports whether the listing hit the API's file cap
	// and must not be trusted as complete.
	CompareCommits(ctx context.Context, base, head string) ([]Change, bool, error)
	// ListTree returns path -> blob sha for every file under subpath at
	// the given commit, with paths re-rooted below subpath.
	ListTree(ctx context.Context, commit, subpath string) (map[string]string, error)
	// DownloadBlob fetches raw file content at the given ref.
	DownloadBlob(ctx context.Context, ref, path string) ([]byte, error)
}

// HTTPClient implements Client against the GitHub REST API.
type HTTPClient struct {
	owner   string
	repo    string
	token   string
	apiBase string
	rawBase string
	httpc   *http.Client
	logger  *slog.Logger
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURLs overrides the API and raw-content endpoints (used in tests).
func WithBaseURLs(apiBase, rawBase string) Option {
	return func(c *HTTPClient) {
		c.apiBase = apiBase
		c.rawBase = rawBase
	}
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpc = httpc
	}
}

// NewHTTPClient creates a repository-scoped GitHub API client.
func NewHTTPClient(owner, repo, token string, logger *slog.Logger, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		owner:   owner,
		repo:    repo,
		token:   token,
		apiBase: defaultAPIBase,
		rawBase: defaultRawBase,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError carries an HTTP status alongside the response body so
// callers can branch on the class of failure.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("github api error: %d - %s", e.status, e.body)
}

// get performs an authenticated GET with retry on transient failures.
// Network errors and 5xx/429 responses are retried; other HTTP errors
// are returned immediately.
func (c *HTTPClient) get(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &statusError{status: resp.StatusCode, body: truncateBody(data)}
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(&statusError{status: resp.StatusCode, body: truncateBody(data)})
		}

		body = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return body, nil
}

func truncateBody(data []byte) string {
	const max = 512
	if len(data) > max {
		data = data[:max]
	}
	return string(data)
}

// isNotFound reports whether an error is an HTTP 404 from the API.
func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

// IsAuthError reports whether an error is an authentication or
// authorization rejection. Such failures affect every subsequent
// request, so callers treat them as batch-fatal rather than per-file.
func IsAuthError(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.status == http.StatusUnauthorized || se.status == http.StatusForbidden
}

// LatestCommit returns the newest commit on the given ref.
func (c *HTTPClient) LatestCommit(ctx context.Context, ref string) (Commit, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/commits/%s", c.apiBase, c.owner, c.repo, ref)

	body, err := c.get(ctx, url)
	if err != nil {
		return Commit{}, fmt.Errorf("failed to fetch latest commit: %w", err)
	}

	var resp struct {
		SHA    string `json:"sha"`
		Commit struct {
			Committer struct {
				Date string `json:"date"`
			} `json:"committer"`
		} `json:"commit"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Commit{}, fmt.Errorf("failed to parse commit response: %w", err)
	}
	if resp.SHA == "" {
		return Commit{}, fmt.Errorf("commit response missing sha")
	}

	return Commit{SHA: resp.SHA, Date: resp.Commit.Committer.Date}, nil
}

// CompareCommits lists per-file changes between base and head. Unknown
// statuses are rejected at this boundary so the planner never sees an
// operation it cannot represent.
func (c *HTTPClient) CompareCommits(ctx context.Context, base, head string) ([]Change, bool, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/compare/%s...%s", c.apiBase, c.owner, c.repo, base, head)

	body, err := c.get(ctx, url)
	if err != nil {
		if isNotFound(err) {
			return nil, false, fmt.Errorf("failed to compare %s...%s: %w", base, head, ErrCommitNotFound)
		}
		return nil, false, fmt.Errorf("failed to compare commits: %w", err)
	}

	var resp struct {
		Files []struct {
			Filename         string `json:"filename"`
			Status           string `json:"status"`
			SHA              string `json:"sha"`
			PreviousFilename string `json:"previous_filename"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("failed to parse compare response: %w", err)
	}

	changes := make([]Change, 0, len(resp.Files))
	for _, f := range resp.Files {
		switch ChangeStatus(f.Status) {
		case StatusAdded, StatusModified, StatusRemoved:
			changes = append(changes, Change{Path: f.Filename, Status: ChangeStatus(f.Status), SHA: f.SHA})
		case StatusRenamed:
			if f.PreviousFilename == "" {
				return nil, false, fmt.Errorf("renamed entry for %s has no previous filename", f.Filename)
			}
			changes = append(changes, Change{Path: f.Filename, Status: StatusRenamed, SHA: f.SHA, OldPath: f.PreviousFilename})
		default:
			return nil, false, fmt.Errorf("unrecognized change status %q for %s", f.Status, f.Filename)
		}
	}

	truncated := len(resp.Files) >= compareFileLimit
	if truncated {
		c.logger.Warn("compare response hit the file cap, treating as truncated",
			"base", base, "head", head, "files", len(resp.Files))
	}

	return changes, truncated, nil
}

// DownloadBlob fetches raw file content at the given ref.
func (c *HTTPClient) DownloadBlob(ctx context.Context, ref, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBase, c.owner, c.repo, ref, path)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}
	return body, nil
}
