package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lei/config-hub/internal/executor"
	"github.com/lei/config-hub/pkg/logger"
)

// Client handles HTTP communication with the runner service API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// jobResponse is the runner's wire representation of a job
type jobResponse struct {
	JobID     string          `json:"job_id"`
	Status    string          `json:"status"`
	Progress  float64         `json:"progress"`
	Result    *resultResponse `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type resultResponse struct {
	Output    json.RawMessage    `json:"output,omitempty"`
	Artifacts []string           `json:"artifacts,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// NewClient creates a new runner API client
func NewClient(baseURL, token string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// doRequest performs an authenticated HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	c.logger.Debug("runner: http request", "method", method, "path", path)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		c.logger.Error("runner: failed to create request", "error", err)
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("runner: http request failed",
			"method", method,
			"path", path,
			"error", err)
		return nil, err
	}

	c.logger.Debug("runner: http response",
		"method", method,
		"path", path,
		"status", resp.StatusCode)

	return resp, nil
}

// SubmitJob submits a new job to the runner
func (c *Client) SubmitJob(ctx context.Context, req *executor.SubmitRequest) (*jobResponse, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal submit request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", "/api/v1/jobs", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}

	return &job, nil
}

// GetJob retrieves job status by service job id
func (c *Client) GetJob(ctx context.Context, serviceJobID string) (*jobResponse, error) {
	path := fmt.Sprintf("/api/v1/jobs/%s", serviceJobID)

	resp, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}

	return &job, nil
}

// CancelJob asks the runner to cancel a job
func (c *Client) CancelJob(ctx context.Context, serviceJobID string) (bool, error) {
	path := fmt.Sprintf("/api/v1/jobs/%s/cancel", serviceJobID)

	resp, err := c.doRequest(ctx, "POST", path, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return false, parseError(resp)
	}

	return true, nil
}
