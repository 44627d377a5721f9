// Package microsoft implements the task backend contract against the
// Microsoft Graph To Do endpoints.
package microsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/harrisonrobin/orgsync/pkg/auth"
	"github.com/harrisonrobin/orgsync/pkg/backend"
)

const graphEndpoint = "https://graph.microsoft.com/v1.0"

// Client is a Microsoft To Do backend speaking Graph REST directly.
type Client struct {
	mode         string
	clientID     string
	tenantID     string
	clientSecret string
	tokenDir     string
	allowPrompt  bool
	logger       *log.Logger

	httpClient *http.Client
}

// New returns an unauthenticated client; call Authenticate before use.
// mode is auth.ModeApplication or auth.ModeDelegated.
func New(mode, clientID, tenantID, clientSecret, tokenDir string, allowPrompt bool, logger *log.Logger) *Client {
	return &Client{
		mode:         mode,
		clientID:     clientID,
		tenantID:     tenantID,
		clientSecret: clientSecret,
		tokenDir:     tokenDir,
		allowPrompt:  allowPrompt,
		logger:       logger,
	}
}

func (c *Client) Name() string           { return "microsoft" }
func (c *Client) IDMarker() string       { return "ms-todo-id" }
func (c *Client) SupportsPriority() bool { return true }

// Authenticate acquires Graph credentials for the configured mode.
func (c *Client) Authenticate(ctx context.Context) error {
	store, err := auth.NewTokenStore(c.tokenDir, c.logger)
	if err != nil {
		return err
	}
	httpClient, err := auth.MicrosoftClient(ctx, c.mode, c.clientID, c.tenantID, c.clientSecret, store, c.allowPrompt, c.logger)
	if err != nil {
		return err
	}
	httpClient.Timeout = 30 * time.Second
	c.httpClient = httpClient
	c.logger.Printf("Authenticated with Microsoft Graph API")
	return nil
}

type graphList struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphTask struct {
	ID                string         `json:"id,omitempty"`
	Title             string         `json:"title,omitempty"`
	Status            string         `json:"status,omitempty"`
	Importance        string         `json:"importance,omitempty"`
	Body              *graphBody     `json:"body,omitempty"`
	DueDateTime       *graphDateTime `json:"dueDateTime,omitempty"`
	CompletedDateTime *graphDateTime `json:"completedDateTime,omitempty"`
}

type graphCollection[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// TaskLists returns all To Do lists, following @odata.nextLink pagination.
func (c *Client) TaskLists(ctx context.Context) ([]backend.List, error) {
	var lists []backend.List
	path := "/me/todo/lists"
	for path != "" {
		var result graphCollection[graphList]
		if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, err
		}
		for _, l := range result.Value {
			lists = append(lists, backend.List{ID: l.ID, Name: l.DisplayName})
		}
		path = result.NextLink
	}
	return lists, nil
}

// ListByName resolves a list by display name; nil when not found.
func (c *Client) ListByName(ctx context.Context, name string) (*backend.List, error) {
	lists, err := c.TaskLists(ctx)
	if err != nil {
		return nil, err
	}
	for i := range lists {
		if lists[i].Name == name {
			return &lists[i], nil
		}
	}
	return nil, nil
}

// Tasks returns all tasks in a list.
func (c *Client) Tasks(ctx context.Context, listID string) ([]backend.Item, error) {
	var items []backend.Item
	path := "/me/todo/lists/" + listID + "/tasks"
	for path != "" {
		var result graphCollection[graphTask]
		if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, err
		}
		for _, t := range result.Value {
			items = append(items, fromGraph(t))
		}
		path = result.NextLink
	}
	return items, nil
}

// CreateTask creates a task and returns it with the assigned id.
func (c *Client) CreateTask(ctx context.Context, listID string, item backend.Item) (backend.Item, error) {
	var result graphTask
	if err := c.request(ctx, http.MethodPost, "/me/todo/lists/"+listID+"/tasks", toGraph(item), &result); err != nil {
		return backend.Item{}, err
	}
	return fromGraph(result), nil
}

// UpdateTask patches the task's fields.
func (c *Client) UpdateTask(ctx context.Context, listID string, item backend.Item) (backend.Item, error) {
	var result graphTask
	path := "/me/todo/lists/" + listID + "/tasks/" + item.ID
	body := toGraph(item)
	body.ID = ""
	if err := c.request(ctx, http.MethodPatch, path, body, &result); err != nil {
		return backend.Item{}, err
	}
	return fromGraph(result), nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, listID, taskID string) error {
	return c.request(ctx, http.MethodDelete, "/me/todo/lists/"+listID+"/tasks/"+taskID, nil, nil)
}

// request performs one Graph call under the shared retry policy, classifying
// transport failures as NetworkError and rejections as APIError. path is
// relative to the Graph endpoint; an absolute URL (an @odata.nextLink) is
// used as is.
func (c *Client) request(ctx context.Context, method, path string, payload, out any) error {
	if c.httpClient == nil {
		return &backend.AuthError{Msg: "not authenticated, call Authenticate first"}
	}
	url := path
	if !strings.HasPrefix(url, "https://") {
		url = graphEndpoint + path
	}
	return backend.Retry(ctx, c.logger, func() error {
		var reqBody io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("failed to encode request body: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &backend.NetworkError{Op: method + " " + path, Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &backend.NetworkError{Op: method + " " + path, Err: err}
		}
		if resp.StatusCode >= 400 {
			return &backend.APIError{StatusCode: resp.StatusCode, Msg: string(data)}
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	})
}

func fromGraph(t graphTask) backend.Item {
	status := backend.StatusActive
	if t.Status == "completed" {
		status = backend.StatusCompleted
	}
	item := backend.Item{
		ID:         t.ID,
		Title:      t.Title,
		Status:     status,
		Importance: t.Importance,
	}
	if item.Importance == "" {
		item.Importance = backend.ImportanceNormal
	}
	if t.Body != nil {
		item.Body = t.Body.Content
	}
	if t.DueDateTime != nil {
		item.DueDate = parseGraphDate(t.DueDateTime.DateTime)
	}
	if t.CompletedDateTime != nil {
		if ts, err := time.Parse("2006-01-02T15:04:05", trimFraction(t.CompletedDateTime.DateTime)); err == nil {
			item.Completed = ts
		}
	}
	return item
}

func toGraph(item backend.Item) graphTask {
	status := "notStarted"
	if item.IsCompleted() {
		status = "completed"
	}
	t := graphTask{
		ID:         item.ID,
		Title:      item.Title,
		Status:     status,
		Importance: item.Importance,
	}
	if t.Importance == "" {
		t.Importance = backend.ImportanceNormal
	}
	if item.Body != "" {
		t.Body = &graphBody{ContentType: "text", Content: item.Body}
	}
	if !item.DueDate.IsZero() {
		t.DueDateTime = &graphDateTime{
			DateTime: item.DueDate.Format("2006-01-02") + "T00:00:00.0000000",
			TimeZone: "UTC",
		}
	}
	return t
}

// parseGraphDate keeps only the date component of a Graph dateTimeTimeZone.
func parseGraphDate(value string) time.Time {
	if len(value) < 10 {
		return time.Time{}
	}
	d, err := time.Parse("2006-01-02", value[:10])
	if err != nil {
		return time.Time{}
	}
	return d
}

func trimFraction(value string) string {
	if len(value) > 19 {
		return value[:19]
	}
	return value
}
