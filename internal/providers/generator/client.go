// Package generator talks to the hosted asset generators through their
// submit-then-poll task API.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"assetforge/internal/domain"
	"assetforge/internal/infra"
)

// ErrUnavailable marks a poll failure that should consume an attempt without
// ending the job: transport errors, 5xx and vendor throttling.
var ErrUnavailable = errors.New("generator: upstream unavailable")

var errMissingBaseURL = errors.New("generator: base url is required")

// Options configures one generator endpoint.
type Options struct {
	BaseURL       string
	APIKey        string
	VendorID      string
	Timeout       time.Duration
	RatePerSecond float64
	HTTPClient    *http.Client
	Logger        *infra.Logger
}

// SubmitRequest is the payload of a new generation task.
type SubmitRequest struct {
	Prompt   string
	Provider domain.Provider
	Options  map[string]any
}

// Client submits tasks and reads their status. Outbound calls are paced by a
// token bucket shared by Submit and Status.
type Client struct {
	rc      *resty.Client
	limiter *rate.Limiter
	vendor  string
	logger  *infra.Logger
}

type submitPayload struct {
	Prompt  string         `json:"prompt"`
	Type    string         `json:"type"`
	Vendor  string         `json:"vendor,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"taskId"`
	ID     string `json:"id"`
	Result string `json:"result"`
}

type statusResponse struct {
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewClient builds a client for one endpoint.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		rc.SetAuthToken(key)
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		rc:      rc,
		limiter: rate.NewLimiter(limit, 1),
		vendor:  strings.TrimSpace(opts.VendorID),
		logger:  logger,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.rc.Close()
}

// Submit creates a task and returns the vendor's task id. Non-2xx answers are
// classified into credit, throttling or generic failure errors.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", domain.ErrInvalidPrompt
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: pacing: %v", domain.ErrGenerationFailed, err)
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/task", submitPayload{
		Prompt:  prompt,
		Type:    string(req.Provider),
		Vendor:  c.vendor,
		Options: req.Options,
	})
	if err != nil {
		return "", fmt.Errorf("%w: submit: %v", domain.ErrGenerationFailed, err)
	}
	if status >= 300 {
		return "", classifySubmit(status, raw)
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: submit response: %v", domain.ErrUpstreamParse, err)
	}
	id := coalesce(decoded.TaskID, decoded.ID, decoded.Result)
	if id == "" {
		return "", fmt.Errorf("%w: submit response has no task id", domain.ErrUpstreamParse)
	}
	c.logger.Debug().
		Str("provider", string(req.Provider)).
		Str("external_id", id).
		Msg("generator: task submitted")
	return id, nil
}

// Status reads the current state of a task. Errors wrapping ErrUnavailable are
// transient; everything else ends the job.
func (c *Client) Status(ctx context.Context, externalID string) (*domain.RemoteJob, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: empty task id", domain.ErrGenerationFailed)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: pacing: %v", ErrUnavailable, err)
	}
	status, raw, err := c.do(ctx, http.MethodGet, "/task/"+externalID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case status >= 500, status == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, status)
	case status >= 300:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrGenerationFailed, status, errorDetail(raw))
	}
	job, unknown, err := parseStatus(raw)
	if err != nil {
		return nil, err
	}
	if unknown != "" {
		c.logger.Warn().
			Str("external_id", externalID).
			Str("vendor_status", unknown).
			Msg("generator: unrecognised status, treating as running")
	}
	job.ExternalID = externalID
	return job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	req := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return 0, nil, err
	}
	defer resp.RawResponse.Body.Close()
	raw, err := io.ReadAll(resp.RawResponse.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode(), raw, nil
}

func classifySubmit(status int, raw []byte) error {
	detail := errorDetail(raw)
	switch {
	case status == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", domain.ErrInsufficientCredit, detail)
	case status == http.StatusForbidden && mentionsBalance(detail):
		return fmt.Errorf("%w: %s", domain.ErrInsufficientCredit, detail)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrGenerationFailed, status, detail)
	}
}

func mentionsBalance(detail string) bool {
	lower := strings.ToLower(detail)
	return strings.Contains(lower, "balance") || strings.Contains(lower, "credit")
}

func errorDetail(raw []byte) string {
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if msg := coalesce(decoded.Message, decoded.Error); msg != "" {
			if decoded.Code != "" {
				return fmt.Sprintf("%s (%s)", msg, decoded.Code)
			}
			return msg
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}

func coalesce(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
