package upstream

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/modregistry/regsync/internal/integrity"
)

const (
	defaultAPIBaseURL      = "https://api.github.com"
	defaultDownloadBaseURL = "https://github.com"
	defaultRequestTimeout  = 30 * time.Second

	acceptJSON = "application/vnd.github+json"
	acceptRaw  = "application/vnd.github.raw+json"
	apiVersion = "2022-11-28"
	userAgent  = "regsync"

	releasesPerPage = 100

	// maxResponseSize caps API response bodies. Release listings and
	// module files are far smaller; anything larger is malformed.
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBody caps how much of an error response is read for the
	// embedded message.
	maxErrorBody = 8 * 1024

	// defaultRateLimitDelay is used when a rate-limited response does
	// not say when to come back.
	defaultRateLimitDelay = 30 * time.Second
)

// Client fetches release information and source artifacts from an
// upstream forge.
type Client interface {
	// ListReleases returns the published releases of a repository,
	// newest first by publication time. Draft releases are omitted.
	// Returns an error wrapping ErrNotFound when the repository does
	// not exist.
	ListReleases(ctx context.Context, repo Repo) ([]Release, error)

	// ModuleFile returns the contents of the MODULE.bazel file at the
	// given release tag. Returns an error wrapping ErrModuleFileNotFound
	// when the file does not exist at that tag.
	ModuleFile(ctx context.Context, repo Repo, tag string) ([]byte, error)

	// ArchiveDigest downloads the archive at the given URL and returns
	// its digest in subresource integrity form. The archive body is
	// streamed and never held in memory.
	ArchiveDigest(ctx context.Context, archiveURL string) (string, error)
}

type defaultClient struct {
	apiBaseURL      string
	downloadBaseURL string
	token           string
	timeout         time.Duration
	retry           RetryPolicy
	httpClient      *http.Client
}

// Option configures the upstream client.
type Option func(*defaultClient) error

// WithBaseURL overrides the API endpoint, e.g. for GitHub Enterprise
// or tests.
func WithBaseURL(u string) Option {
	return func(c *defaultClient) error {
		if u == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		c.apiBaseURL = strings.TrimSuffix(u, "/")
		return nil
	}
}

// WithDownloadBaseURL overrides the host used to build release archive
// URLs.
func WithDownloadBaseURL(u string) Option {
	return func(c *defaultClient) error {
		if u == "" {
			return fmt.Errorf("download base URL cannot be empty")
		}
		c.downloadBaseURL = strings.TrimSuffix(u, "/")
		return nil
	}
}

// WithToken authenticates API requests with the given token. An empty
// token leaves the client anonymous.
func WithToken(token string) Option {
	return func(c *defaultClient) error {
		c.token = token
		return nil
	}
}

// WithRetryPolicy overrides the backoff applied to transient failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *defaultClient) error {
		if p.MaxAttempts < 1 {
			return fmt.Errorf("retry policy needs at least one attempt")
		}
		c.retry = p
		return nil
	}
}

// WithRequestTimeout bounds each HTTP request including its body read.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *defaultClient) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithHTTPClient replaces the underlying HTTP client. Token and timeout
// options are ignored when this is set.
func WithHTTPClient(h *http.Client) Option {
	return func(c *defaultClient) error {
		if h == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		c.httpClient = h
		return nil
	}
}

// NewDefaultClient creates an upstream client for the GitHub REST API.
func NewDefaultClient(opts ...Option) (Client, error) {
	c := &defaultClient{
		apiBaseURL:      defaultAPIBaseURL,
		downloadBaseURL: defaultDownloadBaseURL,
		timeout:         defaultRequestTimeout,
		retry:           DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if c.httpClient == nil {
		base := &http.Client{Timeout: c.timeout}
		if c.token == "" {
			c.httpClient = base
		} else {
			octx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
			src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token})
			c.httpClient = oauth2.NewClient(octx, src)
			c.httpClient.Timeout = c.timeout
		}
	}
	return c, nil
}

// ghRelease is the subset of the GitHub release payload the engine
// consumes.
type ghRelease struct {
	TagName         string     `json:"tag_name"`
	TargetCommitish string     `json:"target_commitish"`
	Draft           bool       `json:"draft"`
	Prerelease      bool       `json:"prerelease"`
	PublishedAt     *time.Time `json:"published_at"`
}

func (c *defaultClient) ListReleases(ctx context.Context, repo Repo) ([]Release, error) {
	var releases []Release
	for page := 1; ; page++ {
		u := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d&page=%d",
			c.apiBaseURL, repo.Owner, repo.Name, releasesPerPage, page)
		body, err := c.getBody(ctx, u, acceptJSON)
		if err != nil {
			if isStatus(err, http.StatusNotFound) {
				return nil, fmt.Errorf("%w: repository %s", ErrNotFound, repo)
			}
			return nil, fmt.Errorf("failed to list releases for %s: %w", repo, err)
		}
		var batch []ghRelease
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("%w: decoding releases for %s: %v", ErrUnavailable, repo, err)
		}
		for _, r := range batch {
			if r.Draft {
				continue
			}
			rel := newRelease(repo, r.TagName, c.downloadBaseURL)
			rel.Prerelease = r.Prerelease
			rel.CommitSHA = r.TargetCommitish
			if r.PublishedAt != nil {
				rel.PublishedAt = *r.PublishedAt
			}
			releases = append(releases, rel)
		}
		if len(batch) < releasesPerPage {
			break
		}
	}
	// Stable sort keeps the API order for releases published at the
	// same instant or missing a publication time.
	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].PublishedAt.After(releases[j].PublishedAt)
	})
	return releases, nil
}

func (c *defaultClient) ModuleFile(ctx context.Context, repo Repo, tag string) ([]byte, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/MODULE.bazel?ref=%s",
		c.apiBaseURL, repo.Owner, repo.Name, url.QueryEscape(tag))
	body, err := c.getBody(ctx, u, acceptRaw)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s at tag %s", ErrModuleFileNotFound, repo, tag)
		}
		return nil, fmt.Errorf("failed to fetch MODULE.bazel for %s at %s: %w", repo, tag, err)
	}
	return body, nil
}

func (c *defaultClient) ArchiveDigest(ctx context.Context, archiveURL string) (string, error) {
	digest, err := retryDo(ctx, c.retry, func() (string, error) {
		resp, err := c.do(ctx, archiveURL, "")
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		d, err := integrity.SHA256(resp.Body)
		if err != nil {
			return "", fmt.Errorf("%w: reading archive: %v", ErrUnavailable, err)
		}
		return d, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", archiveURL, err)
	}
	return digest, nil
}

// getBody performs a GET with retries and returns the full response
// body.
func (c *defaultClient) getBody(ctx context.Context, rawURL, accept string) ([]byte, error) {
	return retryDo(ctx, c.retry, func() ([]byte, error) {
		resp, err := c.do(ctx, rawURL, accept)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
		}
		if len(body) > maxResponseSize {
			return nil, backoff.Permanent(fmt.Errorf("%w: response from %s exceeds %d bytes", ErrUnavailable, rawURL, maxResponseSize))
		}
		return body, nil
	})
}

// do performs a single GET and classifies any failure for the retry
// loop. The response body is open on success.
func (c *defaultClient) do(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: building request: %v", ErrUnavailable, err))
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, classifyStatus(resp, rawURL)
}

// classifyStatus turns a non-200 response into an error the retry loop
// understands: permanent for client errors, retryable for server
// errors, and delayed for rate limits.
func classifyStatus(resp *http.Response, rawURL string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := gjson.GetBytes(body, "message").String()
	httpErr := NewHTTPError(resp.StatusCode, rawURL, message)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(httpErr)
	case isRateLimited(resp):
		return fmt.Errorf("%w: %w", ErrUnavailable, &backoff.RetryAfterError{Duration: retryAfterDelay(resp)})
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, httpErr))
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", ErrUnavailable, httpErr)
	default:
		return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, httpErr))
	}
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	return resp.Header.Get("Retry-After") != "" || resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// retryAfterDelay extracts how long to wait from a rate-limited
// response.
func retryAfterDelay(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}
	return defaultRateLimitDelay
}

// retryDo runs op under the client retry policy.
func retryDo[T any](ctx context.Context, policy RetryPolicy, op backoff.Operation[T]) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialInterval
	expo.MaxInterval = policy.MaxInterval
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
	)
}

func isStatus(err error, code int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}
