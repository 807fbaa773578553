package phaselinesdk

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
)

// Client is a minimal Phaseline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Completed  bool    `json:"completed"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// Project represents the API project model.
type Project struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Description         string  `json:"description,omitempty"`
	Tasks               []Task  `json:"tasks"`
	Deadline            string  `json:"deadline"`
	Status              string  `json:"status"`
	Phase               string  `json:"phase"`
	Progress            int     `json:"progress"`
	Overdue             bool    `json:"overdue"`
	RequiresApproval    bool    `json:"requires_approval"`
	CurrentTransitionID *string `json:"current_transition_id,omitempty"`
	OwnerID             string  `json:"owner_id"`
}

// Transition represents a phase transition request.
type Transition struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	FromPhase   *string `json:"from_phase,omitempty"`
	ToPhase     string  `json:"to_phase"`
	Status      string  `json:"status"`
	RequestedBy string  `json:"requested_by"`
	ApprovedBy  *string `json:"approved_by,omitempty"`
	Comment     string  `json:"comment,omitempty"`
	RequestedAt string  `json:"requested_at"`
	ReviewedAt  *string `json:"reviewed_at,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

// ProjectFilters narrows ListProjects results.
type ProjectFilters struct {
	Status  string
	Phase   string
	Overdue bool
	Search  string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project. Deadline accepts YYYY-MM-DD or RFC3339.
func (c *Client) CreateProject(ctx context.Context, name, description, deadline string) (Project, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"deadline":    deadline,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// ListProjects returns projects in priority order.
func (c *Client) ListProjects(ctx context.Context, f ProjectFilters) ([]Project, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Phase != "" {
		q.Set("phase", f.Phase)
	}
	if f.Overdue {
		q.Set("overdue", "true")
	}
	if f.Search != "" {
		q.Set("q", f.Search)
	}
	endpoint := "projects"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateProject applies a partial update; use keys from the API schema.
func (c *Client) UpdateProject(ctx context.Context, id string, patch map[string]any) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, "projects/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

// DeleteProject removes a project and its tasks.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "projects/"+url.PathEscape(id), nil, nil)
}

// RequestTransition asks to move a project to its next phase.
func (c *Client) RequestTransition(ctx context.Context, projectID, toPhase, comment string) (Transition, error) {
	body := map[string]any{
		"to_phase": toPhase,
		"comment":  comment,
	}
	var resp Transition
	endpoint := fmt.Sprintf("projects/%s/transitions", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReviewTransition approves or rejects a pending transition.
func (c *Client) ReviewTransition(ctx context.Context, transitionID string, approved bool, comment string) (Transition, error) {
	body := map[string]any{
		"approved": approved,
		"comment":  comment,
	}
	var resp Transition
	endpoint := fmt.Sprintf("transitions/%s/review", url.PathEscape(transitionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TransitionHistory lists a project's transitions, newest first.
func (c *Client) TransitionHistory(ctx context.Context, projectID string) ([]Transition, error) {
	var resp []Transition
	endpoint := fmt.Sprintf("projects/%s/transitions", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns a project's recent audit events.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("projects/%s/events", url.PathEscape(projectID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/api/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
