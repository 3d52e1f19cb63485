package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/models"
)

// Adapter forwards job payloads to a configured HTTP endpoint. It
// serves the job types whose execution lives outside this process
// behind a webhook.
type Adapter struct {
	jobType  models.JobType
	workerID int64
	url      string
	http     *http.Client
	logger   arbor.ILogger
}

// NewAdapter creates a webhook adapter for one job type. The target
// URL comes from configuration; an empty URL is a wiring error caught
// at worker boot rather than per job.
func NewAdapter(jobType models.JobType, workerID int64, url string, logger arbor.ILogger) (*Adapter, error) {
	if url == "" {
		return nil, fmt.Errorf("no webhook URL configured for job type %s", jobType)
	}
	return &Adapter{
		jobType:  jobType,
		workerID: workerID,
		url:      url,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// Execute POSTs the raw job payload to the webhook target. The
// response body becomes the job result; a parseable JSON body is
// stored as-is, anything else is wrapped as a string.
func (a *Adapter) Execute(ctx context.Context, payload []byte) (interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-Type", a.jobType.String())
	req.Header.Set("X-Worker-ID", strconv.FormatInt(a.workerID, 10))

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request to %s failed: %w", a.url, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook %s returned %d: %s", a.url, resp.StatusCode, string(body))
	}

	a.logger.Debug().
		Str("type", a.jobType.String()).
		Int("status", resp.StatusCode).
		Msg("Webhook delivered")

	var result json.RawMessage
	if json.Unmarshal(body, &result) == nil && len(result) > 0 {
		return result, nil
	}
	return map[string]string{"response": string(body)}, nil
}
