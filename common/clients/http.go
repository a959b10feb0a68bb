package clients

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Retry policy shared by all outbound HTTP calls: 3 attempts with
// exponential backoff starting at 0.5s.
const (
	maxRetries       = 3
	retryInitialWait = 500 * time.Millisecond
)

// HTTPClient wraps http.Client with bounded retries for transient failures
type HTTPClient struct {
	client *http.Client
	logger Logger
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, logger Logger) *HTTPClient {
	return &HTTPClient{
		client: client,
		logger: logger,
	}
}

// DoRequest creates and executes an HTTP request without retries
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

// GetFunc builds a fresh request for each retry attempt. Required because
// a consumed request body cannot be replayed.
type GetFunc func(ctx context.Context) (*http.Request, error)

// DoWithRetry executes a request with the shared retry policy. Responses
// with transient status codes (5xx, 408, 429) are drained, closed and
// retried; any other response is returned to the caller as-is.
func (c *HTTPClient) DoWithRetry(ctx context.Context, build GetFunc) (*http.Response, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(retryInitialWait),
		), maxRetries-1),
		ctx,
	)

	var resp *http.Response
	operation := func() error {
		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err = c.client.Do(req)
		if err != nil {
			if IsTransient(err) {
				c.logger.Debug("transient HTTP error, retrying", "url", req.URL.String(), "error", err)
				return err
			}
			return backoff.Permanent(err)
		}

		if IsTransientStatus(resp.StatusCode) {
			c.logger.Debug("transient HTTP status, retrying", "url", req.URL.String(), "status", resp.StatusCode)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode}
		}

		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// StatusError reports a non-2xx HTTP status
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "http status " + http.StatusText(e.Code)
}

// IsTransient reports whether a transport error is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return false
}

// IsTransientStatus reports whether an HTTP status code is worth retrying
func IsTransientStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
