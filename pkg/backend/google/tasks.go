// Package google implements the task backend contract on top of the Google
// Tasks API.
package google

import (
	"context"
	"errors"
	"log"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/orgsync/pkg/auth"
	"github.com/harrisonrobin/orgsync/pkg/backend"
)

const pageSize = 100

// Client is a Google Tasks backend. Google Tasks has no task priority, so
// SupportsPriority reports false and the engine never reconciles importance
// against it.
type Client struct {
	clientID     string
	clientSecret string
	tokenDir     string
	allowPrompt  bool
	logger       *log.Logger

	svc *tasks.Service
}

// New returns an unauthenticated client; call Authenticate before use.
func New(clientID, clientSecret, tokenDir string, allowPrompt bool, logger *log.Logger) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenDir:     tokenDir,
		allowPrompt:  allowPrompt,
		logger:       logger,
	}
}

func (c *Client) Name() string           { return "google" }
func (c *Client) IDMarker() string       { return "google-tasks-id" }
func (c *Client) SupportsPriority() bool { return false }

// Authenticate obtains OAuth credentials and builds the Tasks service.
func (c *Client) Authenticate(ctx context.Context) error {
	store, err := auth.NewTokenStore(c.tokenDir, c.logger)
	if err != nil {
		return err
	}
	httpClient, err := auth.GoogleClient(ctx, c.clientID, c.clientSecret, []string{tasks.TasksScope}, store, c.allowPrompt, c.logger)
	if err != nil {
		return err
	}
	svc, err := tasks.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return &backend.AuthError{Msg: "unable to build Google Tasks service", Err: err}
	}
	c.svc = svc
	c.logger.Printf("Authenticated with Google Tasks API")
	return nil
}

// TaskLists returns every task list, following pagination.
func (c *Client) TaskLists(ctx context.Context) ([]backend.List, error) {
	var lists []backend.List
	err := backend.Retry(ctx, c.logger, func() error {
		lists = lists[:0]
		pageToken := ""
		for {
			call := c.svc.Tasklists.List().MaxResults(pageSize).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			result, err := call.Do()
			if err != nil {
				return classify("list task lists", err)
			}
			for _, item := range result.Items {
				lists = append(lists, backend.List{ID: item.Id, Name: item.Title})
			}
			pageToken = result.NextPageToken
			if pageToken == "" {
				return nil
			}
		}
	})
	return lists, err
}

// ListByName resolves a task list by title; nil when not found.
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

// Tasks returns every task in the list, completed and hidden included,
// following pagination.
func (c *Client) Tasks(ctx context.Context, listID string) ([]backend.Item, error) {
	var items []backend.Item
	err := backend.Retry(ctx, c.logger, func() error {
		items = items[:0]
		pageToken := ""
		for {
			call := c.svc.Tasks.List(listID).
				ShowCompleted(true).
				ShowHidden(true).
				MaxResults(pageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			result, err := call.Do()
			if err != nil {
				return classify("list tasks", err)
			}
			for _, t := range result.Items {
				items = append(items, fromAPI(t))
			}
			pageToken = result.NextPageToken
			if pageToken == "" {
				return nil
			}
		}
	})
	return items, err
}

// CreateTask inserts a new task and returns it with the assigned id.
func (c *Client) CreateTask(ctx context.Context, listID string, item backend.Item) (backend.Item, error) {
	var created backend.Item
	err := backend.Retry(ctx, c.logger, func() error {
		result, err := c.svc.Tasks.Insert(listID, toAPI(item)).Context(ctx).Do()
		if err != nil {
			return classify("create task", err)
		}
		created = fromAPI(result)
		return nil
	})
	return created, err
}

// UpdateTask replaces the task's fields on the remote side.
func (c *Client) UpdateTask(ctx context.Context, listID string, item backend.Item) (backend.Item, error) {
	var updated backend.Item
	err := backend.Retry(ctx, c.logger, func() error {
		body := toAPI(item)
		body.Id = item.ID
		result, err := c.svc.Tasks.Update(listID, item.ID, body).Context(ctx).Do()
		if err != nil {
			return classify("update task", err)
		}
		updated = fromAPI(result)
		return nil
	})
	return updated, err
}

// DeleteTask removes a task from the list.
func (c *Client) DeleteTask(ctx context.Context, listID, taskID string) error {
	return backend.Retry(ctx, c.logger, func() error {
		if err := c.svc.Tasks.Delete(listID, taskID).Context(ctx).Do(); err != nil {
			return classify("delete task", err)
		}
		return nil
	})
}

// classify converts Google API client errors into the shared taxonomy so
// the retry policy can tell transient failures from rejections.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &backend.APIError{StatusCode: apiErr.Code, Msg: apiErr.Message}
	}
	return &backend.NetworkError{Op: op, Err: err}
}

func fromAPI(t *tasks.Task) backend.Item {
	status := backend.StatusActive
	if t.Status == "completed" {
		status = backend.StatusCompleted
	}
	completed := ""
	if t.Completed != nil {
		completed = *t.Completed
	}
	return backend.Item{
		ID:        t.Id,
		Title:     t.Title,
		Status:    status,
		Body:      t.Notes,
		DueDate:   parseDue(t.Due),
		Completed: parseCompleted(completed),
	}
}

func toAPI(item backend.Item) *tasks.Task {
	status := "needsAction"
	if item.IsCompleted() {
		status = "completed"
	}
	t := &tasks.Task{
		Title:  item.Title,
		Status: status,
		Notes:  item.Body,
	}
	if !item.DueDate.IsZero() {
		t.Due = formatDue(item.DueDate)
	}
	return t
}

// parseDue extracts the date component; the Tasks API records due dates as
// RFC3339 timestamps but only the date is meaningful.
func parseDue(due string) time.Time {
	if due == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, due)
	if err != nil {
		if d, derr := time.Parse("2006-01-02", due); derr == nil {
			return d
		}
		return time.Time{}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func formatDue(due time.Time) string {
	return due.Format("2006-01-02") + "T00:00:00.000Z"
}

func parseCompleted(completed string) time.Time {
	if completed == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, completed)
	if err != nil {
		return time.Time{}
	}
	return t
}
