// Package client is the Go SDK for the charge assignment HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/ChargeAssign/pkg/types/charge"
	"github.com/turtacn/ChargeAssign/pkg/types/common"
)

const Version = "0.1.0"

// ErrInvalidConfig is returned by NewClient for an unusable base URL.
var ErrInvalidConfig = errors.New("chargeassign: invalid client configuration")

// Logger is the logging interface used by the Client.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}

// Client talks to a charge assignment API server.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	apiKey       string
	userAgent    string
	logger       Logger
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// APIError is a non-2xx response. Code is the server's error code, e.g.
// CHG_002 for an unknown fragment.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("chargeassign: %s (HTTP %d): %s [request_id=%s]", e.Code, e.StatusCode, msg, e.RequestID)
}

func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrInvalidConfig
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid baseURL: %v", ErrInvalidConfig, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: baseURL scheme must be http or https", ErrInvalidConfig)
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		userAgent:    fmt.Sprintf("chargeassign-go-sdk/%s", Version),
		logger:       noopLogger{},
		retryMax:     3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Charge charges one molecule.
func (c *Client) Charge(ctx context.Context, req *charge.Request) (*charge.Response, error) {
	var resp charge.Response
	if err := c.postJSON(ctx, "/api/v1/charge", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChargeLGF sends raw LGF text and returns the charged LGF text. A nil
// totalCharge uses the molecule's total_charge attribute.
func (c *Client) ChargeLGF(ctx context.Context, lgf string, totalCharge *float64, opts *charge.Options) (string, error) {
	q := url.Values{}
	if totalCharge != nil {
		q.Set("total_charge", strconv.FormatFloat(*totalCharge, 'f', -1, 64))
	}
	if opts != nil {
		if len(opts.Shells) > 0 {
			shells := make([]string, len(opts.Shells))
			for i, s := range opts.Shells {
				shells[i] = strconv.Itoa(s)
			}
			q.Set("shells", strings.Join(shells, ","))
		}
		if opts.IACM != nil {
			q.Set("iacm", strconv.FormatBool(*opts.IACM))
		}
		if opts.FallbackToElements != nil {
			q.Set("fallback_to_elements", strconv.FormatBool(*opts.FallbackToElements))
		}
	}
	path := "/api/v1/charge"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	body, err := c.do(ctx, http.MethodPost, path, []byte(lgf), "text/plain; charset=utf-8", "text/plain")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ChargeBatch charges several molecules. Per-molecule failures are in the
// returned items, not in the error.
func (c *Client) ChargeBatch(ctx context.Context, reqs []charge.Request) (*charge.BatchResponse, error) {
	var resp charge.BatchResponse
	if err := c.postJSON(ctx, "/api/v1/charge/batch", charge.BatchRequest{Molecules: reqs}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Repository describes the server's loaded reference repository.
func (c *Client) Repository(ctx context.Context) (*charge.RepositoryInfo, error) {
	var info charge.RepositoryInfo
	if err := c.getJSON(ctx, "/api/v1/repository", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Ready returns the server's readiness report. A not-ready server yields
// an APIError with status 503.
func (c *Client) Ready(ctx context.Context) (*common.HealthReport, error) {
	body, err := c.do(ctx, http.MethodGet, "/readyz", nil, "", "application/json")
	if err != nil {
		return nil, err
	}
	var report common.HealthReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &report, nil
}

func (c *Client) getJSON(ctx context.Context, path string, result interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path, nil, "", "application/json")
	if err != nil {
		return err
	}
	return decodeData(body, result)
}

func (c *Client) postJSON(ctx context.Context, path string, in, result interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, path, payload, "application/json", "application/json")
	if err != nil {
		return err
	}
	return decodeData(body, result)
}

// decodeData unwraps the success envelope into result.
func decodeData(body []byte, result interface{}) error {
	if result == nil || len(body) == 0 {
		return nil
	}
	env := common.APIResponse[json.RawMessage]{}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

// do performs a request with retries on transport errors, 5xx responses
// and 429 responses that carry Retry-After.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, contentType, accept string) ([]byte, error) {
	fullURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debugf("Retry attempt %d after %v", attempt, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		requestID := uuid.New().String()
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set(common.HeaderRequestID, requestID)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Errorf("Request failed: %v", err)
			lastErr = err
			continue
		}

		c.logger.Debugf("%s %s %d (%v)", method, path, resp.StatusCode, duration)

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode < 400 {
			return respBody, nil
		}

		apiErr := parseAPIError(resp.StatusCode, respBody, requestID)
		lastErr = apiErr

		if resp.StatusCode == http.StatusTooManyRequests {
			seconds, convErr := strconv.Atoi(resp.Header.Get("Retry-After"))
			if convErr != nil || attempt >= c.retryMax {
				return nil, apiErr
			}
			c.logger.Infof("Rate limited, retrying after %d seconds", seconds)
			select {
			case <-time.After(time.Duration(seconds) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		if !apiErr.IsServerError() {
			return nil, apiErr
		}
	}
	return nil, lastErr
}

func parseAPIError(status int, body []byte, requestID string) *APIError {
	apiErr := &APIError{StatusCode: status, RequestID: requestID}
	var env common.APIResponse[json.RawMessage]
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Detail = env.Error.Detail
		if env.RequestID != "" {
			apiErr.RequestID = env.RequestID
		}
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.retryWaitMin * time.Duration(1<<uint(attempt-1))
	if backoff > c.retryWaitMax {
		backoff = c.retryWaitMax
	}
	// up to 25% jitter
	if q := int64(backoff / 4); q > 0 {
		backoff += time.Duration(rand.Int63n(q))
	}
	return backoff
}
