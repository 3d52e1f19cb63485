package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/common"
	"golang.org/x/time/rate"
)

// Adapter sends messages through a primary HTTP gateway with an
// external bearer-credentialed fallback. Sends to the same base URL
// are strictly serialized through a per-endpoint FIFO with one active
// consumer; different endpoints proceed in parallel.
type Adapter struct {
	config *common.MessagingConfig
	http   *http.Client
	logger arbor.ILogger

	mu        sync.Mutex
	endpoints map[string]*endpoint
}

// SendRequest is one message delivery request
type SendRequest struct {
	Number  string `json:"number,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	Message string `json:"message"`
	BaseURL string `json:"baseUrl,omitempty"`
	DelayMs int    `json:"delayMs,omitempty"`
}

// SendResult reports which backend delivered the message
type SendResult struct {
	Delivered    bool   `json:"delivered"`
	UsedFallback bool   `json:"usedFallback"`
	Response     string `json:"response,omitempty"`
}

// endpoint holds per-base-URL state: initialization, pacing, and the
// serialized send queue
type endpoint struct {
	baseURL     string
	initialized bool
	limiter     *rate.Limiter

	mu     sync.Mutex
	queue  []*sendTask
	active bool
}

type sendTask struct {
	req  *SendRequest
	done chan taskOutcome
}

type taskOutcome struct {
	result *SendResult
	err    error
}

// NewAdapter creates a messaging adapter
func NewAdapter(config *common.MessagingConfig, logger arbor.ILogger) *Adapter {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		config: config,
		http: &http.Client{
			Timeout: timeout,
		},
		logger:    logger,
		endpoints: map[string]*endpoint{},
	}
}

// Send enqueues the request on its endpoint's serialized queue and
// waits for the outcome. Submission order per endpoint is delivery
// order.
func (a *Adapter) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = a.config.GatewayURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no messaging gateway configured")
	}

	ep := a.endpoint(baseURL)
	task := &sendTask{
		req:  req,
		done: make(chan taskOutcome, 1),
	}

	ep.mu.Lock()
	ep.queue = append(ep.queue, task)
	if !ep.active {
		ep.active = true
		go a.drain(ep)
	}
	ep.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case outcome := <-task.done:
		return outcome.result, outcome.err
	}
}

// Execute implements the worker adapter contract for whatsapp jobs
func (a *Adapter) Execute(ctx context.Context, payload []byte) (interface{}, error) {
	var req SendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid messaging payload: %w", err)
	}
	return a.Send(ctx, &req)
}

func validate(req *SendRequest) error {
	if req.Message == "" {
		return fmt.Errorf("message is required")
	}
	if req.Number == "" && req.GroupID == "" {
		return fmt.Errorf("number or groupId is required")
	}
	return nil
}

// endpoint returns the per-base-URL state, creating it on first use
func (a *Adapter) endpoint(baseURL string) *endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	ep, ok := a.endpoints[baseURL]
	if !ok {
		delay := a.config.SendDelay
		if delay <= 0 {
			delay = 500 * time.Millisecond
		}
		ep = &endpoint{
			baseURL: baseURL,
			limiter: rate.NewLimiter(rate.Every(delay), 1),
		}
		a.endpoints[baseURL] = ep
	}
	return ep
}

// drain is the single consumer for one endpoint's queue
func (a *Adapter) drain(ep *endpoint) {
	for {
		ep.mu.Lock()
		if len(ep.queue) == 0 {
			ep.active = false
			ep.mu.Unlock()
			return
		}
		task := ep.queue[0]
		ep.queue = ep.queue[1:]
		ep.mu.Unlock()

		result, err := a.deliver(ep, task.req)
		task.done <- taskOutcome{result: result, err: err}
	}
}

// deliver performs one send: ensure the endpoint is initialized, pace,
// POST to the gateway, fall back to the secondary on failure
func (a *Adapter) deliver(ep *endpoint, req *SendRequest) (*SendResult, error) {
	ctx := context.Background()

	if !ep.initialized {
		if err := a.probeStatus(ctx, ep); err != nil {
			return nil, err
		}
		ep.initialized = true
	}

	// Pace: the limiter enforces the configured floor, the request may
	// ask for a longer pause
	if err := ep.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if req.DelayMs > 0 {
		time.Sleep(time.Duration(req.DelayMs) * time.Millisecond)
	}

	response, primaryErr := a.postGateway(ctx, ep.baseURL, req)
	if primaryErr == nil {
		return &SendResult{Delivered: true, Response: response}, nil
	}

	a.logger.Warn().Err(primaryErr).Str("endpoint", ep.baseURL).Msg("Gateway send failed, trying fallback")

	if a.config.FallbackURL == "" {
		return nil, primaryErr
	}

	response, fallbackErr := a.postFallback(ctx, req)
	if fallbackErr != nil {
		return nil, fmt.Errorf("gateway failed (%v); fallback failed: %w", primaryErr, fallbackErr)
	}
	return &SendResult{Delivered: true, UsedFallback: true, Response: response}, nil
}

// probeStatus initializes an endpoint. The endpoint counts as
// initialized when /status reports ready or connecting.
func (a *Adapter) probeStatus(ctx context.Context, ep *endpoint) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.baseURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("endpoint %s unreachable: %w", ep.baseURL, err)
	}
	defer resp.Body.Close()

	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("invalid status response from %s: %w", ep.baseURL, err)
	}

	switch strings.ToLower(status.Status) {
	case "ready", "connecting":
		a.logger.Info().Str("endpoint", ep.baseURL).Str("status", status.Status).Msg("Messaging endpoint initialized")
		return nil
	default:
		return fmt.Errorf("endpoint %s not ready: status %q", ep.baseURL, status.Status)
	}
}

// postGateway POSTs to /send-message or /send-group-message
func (a *Adapter) postGateway(ctx context.Context, baseURL string, req *SendRequest) (string, error) {
	path := "/send-message"
	body := map[string]string{"message": req.Message}
	if req.GroupID != "" {
		path = "/send-group-message"
		body["groupId"] = req.GroupID
	} else {
		body["number"] = req.Number
	}

	return a.post(ctx, baseURL+path, body, "")
}

// postFallback POSTs to the secondary bearer-credentialed gateway
func (a *Adapter) postFallback(ctx context.Context, req *SendRequest) (string, error) {
	target := req.Number
	if target == "" {
		target = req.GroupID
	}
	body := map[string]string{
		"to":      target,
		"message": req.Message,
	}
	return a.post(ctx, a.config.FallbackURL, body, a.config.FallbackToken)
}

func (a *Adapter) post(ctx context.Context, url string, body interface{}, bearer string) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}
