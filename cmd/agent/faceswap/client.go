package faceswap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lyzr/gpu-agent/common/logger"
)

// ProcessRequest is the job sent to the face-swap service
type ProcessRequest struct {
	SourceURL  string `json:"source_url"`
	TargetURL  string `json:"target_url"`
	Resolution string `json:"resolution"`
	Model      string `json:"model,omitempty"`
}

// ProcessResponse is the service's result envelope. Metadata may carry
// secondary format URLs (gif_url, webp_url) next to the primary output.
type ProcessResponse struct {
	Status         string            `json:"status"`
	OutputPath     string            `json:"output_path"`
	Error          string            `json:"error"`
	Metadata       map[string]string `json:"metadata"`
	JobID          string            `json:"job_id"`
	ProcessingTime float64           `json:"processing_time"`
}

// Succeeded reports whether the service completed the swap
func (r *ProcessResponse) Succeeded() bool {
	return r.Status == "success"
}

// Client talks to the co-located face-swap HTTP service
type Client struct {
	baseURL    string
	httpc      *http.Client
	retryCount int
	log        *logger.Logger
}

// NewClient creates a face-swap service client
func NewClient(baseURL string, timeout time.Duration, retryCount int, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpc:      &http.Client{Timeout: timeout},
		retryCount: retryCount,
		log:        log,
	}
}

// BaseURL returns the configured service address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CheckHealth probes the service's /health endpoint
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Debug("face-swap health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// Process submits a swap job and waits for its result. Transport errors
// and timeouts retry with exponential backoff; a well-formed failure
// response is returned without retrying.
func (c *Client) Process(ctx context.Context, pr ProcessRequest) (*ProcessResponse, error) {
	body, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode process request: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(500*time.Millisecond),
		), uint64(c.retryCount-1)),
		ctx,
	)

	var result *ProcessResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			c.log.Warn("face-swap process call failed, retrying", "error", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("face-swap service returned status %d", resp.StatusCode)
		}

		var parsed ProcessResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid face-swap response: %w", err))
		}
		result = &parsed
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// FileURL resolves a service-relative output path against the base URL
func (c *Client) FileURL(outputPath string) string {
	if strings.HasPrefix(outputPath, "http://") || strings.HasPrefix(outputPath, "https://") {
		return outputPath
	}
	return c.baseURL + "/" + strings.TrimLeft(outputPath, "/")
}
