package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lyzr/gpu-agent/common/logger"
)

const (
	healthTimeout    = 2 * time.Second
	handshakeTimeout = 10 * time.Second

	// Submit/connect retry schedule. Connection refused means the engine
	// is still coming up, so all attempts use the short delay.
	maxAttempts = 3
)

var retrySchedule = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// ProgressFunc receives coarse execution progress from the engine
type ProgressFunc func(value, max int)

// Client talks to one engine instance on behalf of one workflow name. It
// owns at most one WebSocket connection, kept alive between jobs and
// revalidated only by the next read failing.
type Client struct {
	workflow string
	baseURL  string
	clientID string
	httpc    *http.Client
	log      *logger.Logger

	conn       *websocket.Conn
	reuseCount int
}

// NewClient creates a client for the given workflow against the engine
// base URL
func NewClient(workflow, baseURL string, log *logger.Logger) *Client {
	return &Client{
		workflow: workflow,
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: uuid.New().String(),
		httpc:    &http.Client{},
		log:      log.WithWorkflow(workflow),
	}
}

// ClientID returns the stable id carried on submits and the WebSocket URL
func (c *Client) ClientID() string {
	return c.clientID
}

// ReuseCount reports how many jobs have reused the current connection
func (c *Client) ReuseCount() int {
	return c.reuseCount
}

// CheckHealth probes /system_stats; any 2xx means the engine is up
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Debug("health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SubmitPrompt posts the graph to /prompt and returns the engine-assigned
// prompt id
func (c *Client) SubmitPrompt(ctx context.Context, graph map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}

	var promptID string
	err = c.withRetry(ctx, "submit", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("engine rejected prompt: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}

		var parsed struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("invalid prompt response: %w", err)
		}
		if parsed.PromptID == "" {
			return fmt.Errorf("prompt response missing prompt_id")
		}
		promptID = parsed.PromptID
		return nil
	})
	if err != nil {
		return "", err
	}

	c.log.Info("prompt submitted", "prompt_id", promptID)
	return promptID, nil
}

// History fetches the per-node output mapping for a finished prompt
func (c *Client) History(ctx context.Context, promptID string) (map[string]any, error) {
	var payload map[string]struct {
		Outputs map[string]any `json:"outputs"`
	}
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), &payload); err != nil {
		return nil, err
	}

	entry, ok := payload[promptID]
	if !ok {
		return map[string]any{}, nil
	}
	return entry.Outputs, nil
}

// View fetches an artifact's raw bytes from the engine's filesystem
func (c *Client) View(ctx context.Context, filename, subfolder, folderType string) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", filename)
	q.Set("subfolder", subfolder)
	q.Set("type", folderType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("view request failed for %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("view returned status %d for %s", resp.StatusCode, filename)
	}
	return io.ReadAll(resp.Body)
}

// QueueStatus fetches the engine's pending/running queue snapshot
func (c *Client) QueueStatus(ctx context.Context) (map[string]any, error) {
	var payload map[string]any
	if err := c.getJSON(ctx, "/queue", &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// SystemStats fetches the engine's device and version report
func (c *Client) SystemStats(ctx context.Context) (map[string]any, error) {
	var payload map[string]any
	if err := c.getJSON(ctx, "/system_stats", &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// QueueHistory fetches recent finished prompts
func (c *Client) QueueHistory(ctx context.Context, maxItems int) (map[string]any, error) {
	var payload map[string]any
	if err := c.getJSON(ctx, fmt.Sprintf("/history?max_items=%d", maxItems), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Interrupt asks the engine to abort the currently executing prompt
func (c *Client) Interrupt(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interrupt", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("interrupt request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("interrupt returned status %d", resp.StatusCode)
	}
	return nil
}

// WaitForReady blocks until the health probe succeeds or the retry budget
// runs out. Used once before the consumer loop starts draining jobs.
func (c *Client) WaitForReady(ctx context.Context, interval time.Duration, retries int) error {
	for attempt := 0; attempt < retries; attempt++ {
		if c.CheckHealth(ctx) {
			c.log.Info("engine ready", "attempts", attempt+1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return &UnavailableError{Workflow: c.workflow, Reason: "engine never became ready"}
}

// event is the engine's WebSocket envelope
type event struct {
	Type string `json:"type"`
	Data struct {
		PromptID string  `json:"prompt_id"`
		Node     *string `json:"node"`
		Value    int     `json:"value"`
		Max      int     `json:"max"`
	} `json:"data"`
}

// WaitForCompletion consumes WebSocket events until the terminal marker
// for promptID arrives: an executing event with matching prompt_id and a
// null node. Progress events are forwarded to onProgress. One reconnect
// is attempted on a read failure; a second failure releases the job as
// UNAVAILABLE. The context deadline bounds the whole wait and expiry is
// terminal.
func (c *Client) WaitForCompletion(ctx context.Context, promptID string, timeout time.Duration, onProgress ProgressFunc) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	c.conn.SetReadDeadline(deadline)
	reconnected := false

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if time.Now().After(deadline) || ctx.Err() != nil {
				c.closeConn()
				return &TimeoutError{Workflow: c.workflow, After: timeout}
			}
			if reconnected {
				c.closeConn()
				return &UnavailableError{Workflow: c.workflow, Reason: "websocket read failed after reconnect", Err: err}
			}

			c.log.Warn("websocket read failed, reconnecting", "error", err)
			c.closeConn()
			if err := c.ensureConnected(ctx); err != nil {
				return err
			}
			c.conn.SetReadDeadline(deadline)
			reconnected = true
			continue
		}

		var ev event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Debug("malformed engine event", "error", err)
			continue
		}

		switch ev.Type {
		case "executing":
			if ev.Data.PromptID != promptID {
				continue
			}
			if ev.Data.Node == nil {
				c.log.Info("execution finished", "prompt_id", promptID, "reuse_count", c.reuseCount)
				return nil
			}
			c.log.Debug("executing node", "prompt_id", promptID, "node", *ev.Data.Node)
		case "progress":
			if onProgress != nil {
				onProgress(ev.Data.Value, ev.Data.Max)
			}
		default:
			c.log.Debug("ignoring engine event", "type", ev.Type)
		}
	}
}

// ensureConnected dials the WebSocket if no live connection exists. An
// existing connection is reused without validation; the next read detects
// a break.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.conn != nil {
		c.reuseCount++
		return nil
	}

	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws?clientId=" + c.clientID
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	err := c.withRetry(ctx, "connect", func() error {
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return err
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return &UnavailableError{Workflow: c.workflow, Reason: "websocket connect failed", Err: err}
	}

	c.reuseCount = 0
	c.log.Info("websocket connected", "client_id", c.clientID)
	return nil
}

// Close tears down the WebSocket connection
func (c *Client) Close() {
	c.closeConn()
}

func (c *Client) closeConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// withRetry runs op up to maxAttempts times on the submit/connect
// schedule. Connection refused keeps the short first delay for every
// attempt: the engine is still booting and longer waits gain nothing.
func (c *Client) withRetry(ctx context.Context, what string, op func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := retrySchedule[attempt]
		if strings.Contains(err.Error(), "connection refused") {
			delay = retrySchedule[0]
		}
		c.log.Debug("retrying engine operation", "op", what, "attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, maxAttempts, err)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("engine request failed for %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("engine returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
