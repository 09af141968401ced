package propose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	defaultAPIBaseURL     = "https://api.github.com"
	defaultRequestTimeout = 30 * time.Second

	acceptJSON = "application/vnd.github+json"
	apiVersion = "2022-11-28"
	userAgent  = "regsync"

	// maxResponseSize caps pull request API bodies.
	maxResponseSize = 1024 * 1024
)

// Proposal is an open reviewable change as reported by the hosting
// platform.
type Proposal struct {
	Number  int
	URL     string
	HeadRef string
	Title   string
}

// newProposal is the creation payload of the pull request API.
type newProposal struct {
	Title               string `json:"title"`
	Head                string `json:"head"`
	Base                string `json:"base"`
	Body                string `json:"body"`
	MaintainerCanModify bool   `json:"maintainer_can_modify"`
}

// prClient is a minimal client for the hosting platform's pull request
// API.
type prClient struct {
	baseURL    string
	httpClient *http.Client
}

func newPRClient(baseURL, token string, timeout time.Duration) *prClient {
	base := &http.Client{Timeout: timeout}
	client := base
	if token != "" {
		octx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(octx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		client.Timeout = timeout
	}
	return &prClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
	}
}

// findOpen returns the open pull request whose head is owner:branch, or
// nil when none is open.
func (c *prClient) findOpen(ctx context.Context, owner, repo, branch string) (*Proposal, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/pulls?state=open&head=%s&per_page=1",
		c.baseURL, owner, repo, url.QueryEscape(owner+":"+branch))
	body, err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	results := gjson.ParseBytes(body).Array()
	if len(results) == 0 {
		return nil, nil
	}
	return proposalFromJSON(results[0]), nil
}

// create opens a pull request for the pushed branch.
func (c *prClient) create(ctx context.Context, owner, repo string, pr newProposal) (*Proposal, error) {
	payload, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal: %w", err)
	}
	u := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, owner, repo)
	body, err := c.do(ctx, http.MethodPost, u, payload, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return proposalFromJSON(gjson.ParseBytes(body)), nil
}

func proposalFromJSON(pr gjson.Result) *Proposal {
	return &Proposal{
		Number:  int(pr.Get("number").Int()),
		URL:     pr.Get("html_url").String(),
		HeadRef: pr.Get("head.ref").String(),
		Title:   pr.Get("title").String(),
	}
}

// do performs one API request. No retries here: repeating a create
// could open duplicate proposals.
func (c *prClient) do(ctx context.Context, method, rawURL string, payload []byte, wantStatus int) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", acceptJSON)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		message := gjson.GetBytes(body, "message").String()
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s returned %d: %s", method, rawURL, resp.StatusCode, message)
	}
	return body, nil
}
