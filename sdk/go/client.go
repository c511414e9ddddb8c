package stitchlinesdk

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

// Client is a minimal Stitchline HTTP API client.
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

// Item represents the API item model (partial).
type Item struct {
	ID             string `json:"id"`
	WorkflowID     string `json:"workflow_id"`
	OrderID        string `json:"order_id"`
	CurrentStageID string `json:"current_stage_id"`
	Status         string `json:"status"`
	IsDefective    bool   `json:"is_defective"`
	Version        int64  `json:"version"`
	StageVisit     int64  `json:"stage_visit"`
	StartedAt      string `json:"started_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Task represents the API task model (partial).
type Task struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	AssignedTo   string `json:"assigned_to"`
	AssignedTeam string `json:"assigned_team"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// TaskStats is the per-user or per-team rollup.
type TaskStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
	Overdue    int `json:"overdue"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedItems wraps item listings with a cursor.
type PaginatedItems struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Events     []Event `json:"events"`
	NextCursor string  `json:"next_cursor"`
}

// GetItem fetches one item.
func (c *Client) GetItem(ctx context.Context, itemID string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodGet, "v0/items/"+url.PathEscape(itemID), nil, &resp)
	return resp, err
}

// ItemsPage returns a paginated item listing, optionally filtered by workflow.
func (c *Client) ItemsPage(ctx context.Context, workflowID string, limit int, cursor string) (PaginatedItems, error) {
	q := url.Values{}
	if workflowID != "" {
		q.Set("workflow_id", workflowID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/items"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedItems
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AdvanceItem moves an item to another stage, recording any supplied action
// evidence first. expectedVersion of 0 skips the concurrency check.
func (c *Client) AdvanceItem(ctx context.Context, itemID, toStageID string, completedActionIDs []string, expectedVersion int64) (Item, error) {
	body := map[string]any{
		"to_stage_id":          toStageID,
		"completed_action_ids": completedActionIDs,
	}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, "v0/items/"+url.PathEscape(itemID)+"/advance", body, &resp)
	return resp, err
}

// RecordAction records evidence at the item's current stage.
func (c *Client) RecordAction(ctx context.Context, itemID, actionID string, payload any) error {
	body := map[string]any{
		"action_id": actionID,
		"payload":   payload,
	}
	return c.do(ctx, http.MethodPost, "v0/items/"+url.PathEscape(itemID)+"/actions", body, nil)
}

// ItemHistory returns an item's audit trail, oldest first.
func (c *Client) ItemHistory(ctx context.Context, itemID string) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, "v0/items/"+url.PathEscape(itemID)+"/history", nil, &resp)
	return resp, err
}

// CreateTasks creates tasks for the given targets in one atomic batch. Each
// entry is a user id, or "team-<name>" to fan out to a whole team.
func (c *Client) CreateTasks(ctx context.Context, assignTo []string, title string) ([]Task, error) {
	body := map[string]any{
		"assign_to": assignTo,
		"title":     title,
	}
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp.Tasks, err
}

// SetTaskStatus updates a task's status.
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(taskID), body, &resp)
	return resp, err
}

// TaskStatsFor returns task counts for a user id or "team-<name>".
func (c *Client) TaskStatsFor(ctx context.Context, target string) (TaskStats, error) {
	var resp TaskStats
	endpoint := "v0/tasks/stats?target=" + url.QueryEscape(target)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
