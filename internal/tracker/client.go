package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client talks to a Jira-compatible issue tracker over its REST API v2.
// Requests carry a Bearer token and are retried with exponential backoff
// when the tracker answers 429.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
	}
}

// SearchIssues runs a JQL query and returns the matching issues.
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) ([]Issue, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	req := searchRequest{
		JQL:        jql,
		MaxResults: maxResults,
		Fields:     []string{"summary", "status", "assignee", "duedate"},
	}
	var res SearchResponse
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/search", req, &res); err != nil {
		return nil, err
	}
	return res.Issues, nil
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, issueKey, body string) error {
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment", issueKey)
	return c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	url := c.baseURL + path

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfterDuration(resp, attempt)):
				continue
			}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("authentication failed (401): check the tracker token for %s", c.baseURL)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var trackerErr ErrorResponse
			if json.Unmarshal(respBody, &trackerErr) == nil && len(trackerErr.ErrorMessages) > 0 {
				return fmt.Errorf("tracker error (%d) on %s %s: %s",
					resp.StatusCode, method, path, strings.Join(trackerErr.ErrorMessages, "; "))
			}
			return fmt.Errorf("unexpected status %d on %s %s: %s",
				resp.StatusCode, method, path, string(respBody))
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response from %s %s: %w", method, path, err)
		}
		return nil
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfterDuration honors Retry-After when present and falls back to
// exponential backoff capped at 30s.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
