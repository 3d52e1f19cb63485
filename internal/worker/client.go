package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/models"
)

// Client is the worker-side HTTP client for the coordinator API.
// Workers never touch the primary database directly; every mutation
// goes through these endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	logger  arbor.ILogger
}

// NewClient creates a coordinator API client
func NewClient(baseURL string, logger arbor.ILogger) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// GetWorker reads the worker's own registry record
func (c *Client) GetWorker(ctx context.Context, id int64) (*models.Worker, error) {
	var resp struct {
		Worker *models.Worker `json:"worker"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/workers/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Worker == nil {
		return nil, models.ErrWorkerNotFound
	}
	return resp.Worker, nil
}

// UpdateWorkerStatus PATCHes the worker's status
func (c *Client) UpdateWorkerStatus(ctx context.Context, id int64, status models.WorkerStatus) error {
	body := map[string]string{"status": status.String()}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/workers/%d", id), body, nil)
}

// ClaimNextJob asks for the oldest pending job of the type. A nil job
// means nothing to claim.
func (c *Client) ClaimNextJob(ctx context.Context, jobType models.JobType, workerID int64) (*models.Job, error) {
	var resp struct {
		Job *models.Job `json:"job"`
	}
	path := fmt.Sprintf("/api/jobs/next/%s?workerId=%d", jobType, workerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// UpdateJob PATCHes job status, reporter, and result
func (c *Client) UpdateJob(ctx context.Context, id int64, status models.JobStatus, workerID *int64, result interface{}) error {
	body := map[string]interface{}{"status": status.String()}
	if workerID != nil {
		body["workerId"] = *workerID
	}
	if result != nil {
		body["result"] = result
	}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/jobs/%d", id), body, nil)
}

// do executes one JSON request against the coordinator
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrWorkerNotFound
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
