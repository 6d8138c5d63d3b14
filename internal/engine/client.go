// Package engine talks to the external playbook execution engine over HTTP.
// The engine runs the playbooks; this service only dispatches work and asks
// for cancellation. Results come back asynchronously through the engine
// callback endpoints on our own API.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/models"
)

// Config for the engine client
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements interfaces.ExecutionEngine over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewClient creates an engine client
func NewClient(config Config, logger arbor.ILogger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// dispatchRequest is the engine's task submission payload
type dispatchRequest struct {
	JobID       string            `json:"job_id"`
	PlaybookRef string            `json:"playbook_ref"`
	TargetRef   string            `json:"target_ref"`
	ExtraParams map[string]string `json:"extra_params,omitempty"`
}

type dispatchResponse struct {
	TaskID string `json:"task_id"`
}

// Dispatch submits a leaf job to the engine and returns its task handle
func (c *Client) Dispatch(ctx context.Context, job *models.Job) (string, error) {
	payload := dispatchRequest{
		JobID:       job.ID,
		PlaybookRef: job.PlaybookRef,
		TargetRef:   job.TargetRef,
		ExtraParams: job.ExtraParams,
	}

	body, err := c.post(ctx, "/api/tasks", payload)
	if err != nil {
		return "", err
	}

	var resp dispatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode dispatch response: %w", err)
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("engine returned empty task ID for job %s", job.ID)
	}

	c.logger.Debug().
		Str("job_id", job.ID).
		Str("task_id", resp.TaskID).
		Msg("Dispatched to engine")
	return resp.TaskID, nil
}

// RequestCancel asks the engine to stop the referenced task
func (c *Client) RequestCancel(ctx context.Context, externalRef string) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/tasks/%s/cancel", externalRef), nil)
	return err
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engine returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

var _ interfaces.ExecutionEngine = (*Client)(nil)
