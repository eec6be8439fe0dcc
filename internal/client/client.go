// Package client is the HTTP client agents use to talk to the orchestration
// API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sumire/agentdesk/internal/domain"
	"github.com/sumire/agentdesk/internal/runtoken"
)

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api returned %d %s: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	} `json:"error"`
}

// Client calls the orchestration API.
type Client struct {
	baseURL  string
	runToken string
	http     *http.Client
}

// New creates a Client for baseURL. A non-empty runToken is sent with
// every request for attribution.
func New(baseURL, runToken string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		runToken: runToken,
		// Long-polls are held by the server for up to 30s.
		http: &http.Client{Timeout: 45 * time.Second},
	}
}

// ClaimableTasks lists the tasks of a repository that can be claimed.
func (c *Client) ClaimableTasks(ctx context.Context, repoID int64) ([]domain.Task, error) {
	var tasks []domain.Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tasks/%d", repoID), nil, &tasks)
	return tasks, err
}

// Claim claims a pending task.
func (c *Client) Claim(ctx context.Context, taskID int64) (*domain.Task, error) {
	var task domain.Task
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/claim", taskID), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SetStatus moves a task along its claim lifecycle.
func (c *Client) SetStatus(ctx context.Context, taskID int64, status, errMsg string) (*domain.Task, error) {
	body := map[string]string{"status": status}
	if errMsg != "" {
		body["error"] = errMsg
	}
	var task domain.Task
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/status", taskID), body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Complete finishes a task.
func (c *Client) Complete(ctx context.Context, taskID int64, summary, prURL string) (*domain.Task, error) {
	body := map[string]string{"summary": summary}
	if prURL != "" {
		body["prUrl"] = prURL
	}
	var task domain.Task
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/complete", taskID), body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreatePlan replaces a task's plan.
func (c *Client) CreatePlan(ctx context.Context, taskID int64, steps []string) ([]domain.Step, error) {
	var out []domain.Step
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/progress/%d/plan", taskID), map[string]any{"steps": steps}, &out)
	return out, err
}

// UpdateStep sets a step's status.
func (c *Client) UpdateStep(ctx context.Context, taskID int64, index int, status, note string) (*domain.Step, error) {
	body := map[string]string{"status": status}
	if note != "" {
		body["note"] = note
	}
	var step domain.Step
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/progress/%d/step/%d", taskID, index), body, &step); err != nil {
		return nil, err
	}
	return &step, nil
}

// AddStep inserts a step after afterIndex.
func (c *Client) AddStep(ctx context.Context, taskID int64, description string, afterIndex int) (*domain.Step, error) {
	body := map[string]any{"description": description, "afterIndex": afterIndex}
	var step domain.Step
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/progress/%d/step", taskID), body, &step); err != nil {
		return nil, err
	}
	return &step, nil
}

// Progress returns a task's plan and open question.
func (c *Client) Progress(ctx context.Context, taskID int64) (*domain.Progress, error) {
	var p domain.Progress
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/progress/%d", taskID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Ask opens a question on a task. Nil choices means free-form.
func (c *Client) Ask(ctx context.Context, taskID int64, question string, choices []string) (*domain.Question, error) {
	body := map[string]any{"question": question}
	if choices != nil {
		body["choices"] = choices
	}
	var q domain.Question
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/progress/%d/ask", taskID), body, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// WaitForAnswer long-polls once for up to timeout.
func (c *Client) WaitForAnswer(ctx context.Context, taskID int64, timeout time.Duration) (*domain.AnswerResult, error) {
	q := url.Values{"timeout": {strconv.FormatInt(timeout.Milliseconds(), 10)}}
	var res domain.AnswerResult
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/progress/%d/answer?%s", taskID, q.Encode()), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Answer answers a task's open question.
func (c *Client) Answer(ctx context.Context, taskID int64, answer string) (*domain.Question, error) {
	var q domain.Question
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/progress/%d/answer", taskID), map[string]string{"answer": answer}, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.runToken != "" {
		req.Header.Set(runtoken.Header, c.runToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 300 || env.Error != nil {
		apiErr := &Error{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			for _, d := range env.Error.Details {
				apiErr.Message += fmt.Sprintf(" (%s: %s)", d.Field, d.Message)
			}
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
