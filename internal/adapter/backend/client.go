// Package backend is the HTTP client side of the jobs API. It implements
// export.Backend against a worker's /v1/jobs endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// MaxFailures is the run of consecutive transient failures that opens
	// the breaker.
	MaxFailures int
	// OpenTimeout is how long the breaker stays open before going half-open.
	OpenTimeout time.Duration
	// HalfOpenRequests caps trial requests while half-open.
	HalfOpenRequests int
}

// Client implements export.Backend over HTTP with a circuit breaker.
// Permanent failures (4xx) never count against the breaker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	logger     *slog.Logger
}

// NewClient creates a jobs API client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "jobs-api",
		MaxRequests: uint32(max(cfg.HalfOpenRequests, 1)),
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= max(cfg.MaxFailures, 1)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransient(err) && !errors.Is(err, errUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		breaker:    cb,
		logger:     logger,
	}
}

// errUnavailable marks network-level failures inside the breaker.
var errUnavailable = errors.New("jobs api unavailable")

// Submit posts plan and returns the new job id.
func (c *Client) Submit(ctx context.Context, plan pipeline.Plan) (string, error) {
	body, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	var st export.JobStatus
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", "", body, &st); err != nil {
		return "", err
	}
	return st.ID, nil
}

// Status fetches the job's current status.
func (c *Client) Status(ctx context.Context, jobID string) (export.JobStatus, error) {
	var st export.JobStatus
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), jobID, nil, &st)
	return st, err
}

// Cancel asks the worker to stop the job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(jobID), jobID, nil, nil)
}

// HealthCheck reports the breaker state without a network call.
func (c *Client) HealthCheck(_ context.Context) error {
	switch c.breaker.State() {
	case gobreaker.StateClosed:
		return nil
	case gobreaker.StateHalfOpen:
		return errors.New("jobs api: degraded (circuit breaker half-open)")
	default:
		return errors.New("jobs api: failing (circuit breaker open)")
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Permanent bool   `json:"permanent"`
}

func (c *Client) do(ctx context.Context, method, path, jobID string, body []byte, out any) error {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, &domain.BackendJobFailure{JobID: jobID, Permanent: true, Reason: "create request", Err: err}
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errUnavailable, err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer resp.Body.Close()
			return nil, failure(jobID, resp)
		}
		return resp, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.BackendJobFailure{JobID: jobID, Reason: "circuit breaker open", Err: err}
	case errors.Is(err, errUnavailable):
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.BackendJobFailure{JobID: jobID, Reason: method + " " + path, Err: err}
	case err != nil:
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return failure(jobID, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// failure maps a non-2xx response to a BackendJobFailure. 5xx are transient,
// everything else is permanent.
func failure(jobID string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	reason := fmt.Sprintf("status %d", resp.StatusCode)
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		reason += ": " + eb.Error
	} else if len(raw) > 0 {
		reason += ": " + strings.TrimSpace(string(raw))
	}
	return &domain.BackendJobFailure{
		JobID:     jobID,
		Permanent: resp.StatusCode < http.StatusInternalServerError,
		Reason:    reason,
	}
}
