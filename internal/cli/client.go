// Package cli implements the taskforge command-line client. It talks
// to the service over HTTP only and never imports the server's
// internals beyond the wire types.
package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// ErrUnreachable marks a failure to reach the server at all, as
// opposed to a server-reported error. The two map to different exit
// codes.
var ErrUnreachable = errors.New("server unreachable")

// ServerError is a failure the server reported.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the taskforge API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given server URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateTask submits a single task.
func (c *Client) CreateTask(req *v1.CreateTaskRequest) (*v1.CreateTaskResponse, error) {
	var resp v1.CreateTaskResponse
	if err := c.do(http.MethodPost, "/api/v1/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateOrchestration submits a batch of tasks with dependencies.
func (c *Client) CreateOrchestration(req *v1.CreateOrchestrationRequest) (*v1.CreateOrchestrationResponse, error) {
	var resp v1.CreateOrchestrationResponse
	if err := c.do(http.MethodPost, "/api/v1/orchestrations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(id int64) (*v1.Task, error) {
	var task v1.Task
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d", id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks fetches tasks, optionally filtered by status.
func (c *Client) ListTasks(status string, limit int) ([]*v1.Task, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/api/v1/tasks"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp struct {
		Tasks []*v1.Task `json:"tasks"`
	}
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// TaskLogs fetches the tail of a task's log.
func (c *Client) TaskLogs(id int64, detailed bool, tail int) ([]string, error) {
	query := url.Values{}
	if detailed {
		query.Set("log", "detailed")
	}
	if tail > 0 {
		query.Set("tail", fmt.Sprintf("%d", tail))
	}

	var resp struct {
		Lines []string `json:"lines"`
	}
	path := fmt.Sprintf("/api/v1/tasks/%d/logs?%s", id, query.Encode())
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

// CancelTask cancels one task.
func (c *Client) CancelTask(id int64) (*v1.CancelResponse, error) {
	var resp v1.CancelResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/cancel", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOrchestration fetches one orchestration with member summaries.
func (c *Client) GetOrchestration(id int64) (*v1.Orchestration, error) {
	var orch v1.Orchestration
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/orchestrations/%d", id), nil, &orch); err != nil {
		return nil, err
	}
	return &orch, nil
}

// ListOrchestrations fetches all orchestrations.
func (c *Client) ListOrchestrations() ([]*v1.Orchestration, error) {
	var resp struct {
		Orchestrations []*v1.Orchestration `json:"orchestrations"`
	}
	if err := c.do(http.MethodGet, "/api/v1/orchestrations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orchestrations, nil
}

// CancelOrchestration cancels every non-terminal member of a group.
func (c *Client) CancelOrchestration(id int64) (*v1.Orchestration, error) {
	var orch v1.Orchestration
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/v1/orchestrations/%d/cancel", id), nil, &orch); err != nil {
		return nil, err
	}
	return &orch, nil
}

func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("%w: %v", ErrUnreachable, urlErr.Err)
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		msg := string(data)
		var apiErr v1.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Detail != "" {
			msg = apiErr.Detail
			if apiErr.Field != "" {
				msg = apiErr.Field + ": " + apiErr.Detail
			}
		}
		return &ServerError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
