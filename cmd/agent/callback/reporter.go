package callback

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

	"golang.org/x/time/rate"

	"github.com/lyzr/gpu-agent/cmd/agent/task"
	"github.com/lyzr/gpu-agent/common/clients"
	"github.com/lyzr/gpu-agent/common/config"
	"github.com/lyzr/gpu-agent/common/logger"
)

// Status values published to producers
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// updatePath is appended to producer base URLs
const updatePath = "/api/comm/task/update"

// legacyTimeLayout is the second timestamp shape some producers still
// parse; both shapes are sent on every callback
const legacyTimeLayout = "2006-01-02 15:04:05"

// Progress callbacks are throttled to one per interval per job, except
// near completion where every update goes through.
const (
	progressInterval = 3 * time.Second
	progressOverride = 90 // percent
	maxTrackedJobs   = 1024
)

// Reporter publishes per-job state transitions to the producer. Callbacks
// are best-effort: failures are logged and never fail the job.
type Reporter struct {
	cfg  config.CallbackConfig
	http *clients.HTTPClient
	log  *logger.Logger

	mu       sync.Mutex
	started  map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewReporter creates a status reporter
func NewReporter(cfg config.CallbackConfig, httpClient *clients.HTTPClient, log *logger.Logger) *Reporter {
	return &Reporter{
		cfg:      cfg,
		http:     httpClient,
		log:      log,
		started:  make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
}

// resolveURL picks the callback endpoint for a job. Returns ok=false when
// no endpoint applies, in which case the callback is silently skipped.
func (r *Reporter) resolveURL(j *task.Job) (string, bool) {
	if j.CallbackURL != "" {
		return j.CallbackURL, true
	}
	if strings.HasPrefix(j.SourceChannel, "http://") || strings.HasPrefix(j.SourceChannel, "https://") {
		return strings.TrimRight(j.SourceChannel, "/") + updatePath, true
	}
	if j.SourceChannel == task.SourceRedisQueue {
		if r.cfg.DefaultURL == "" {
			return "", false
		}
		return r.cfg.DefaultURL, true
	}
	if r.cfg.TaskAPIBase != "" {
		return strings.TrimRight(r.cfg.TaskAPIBase, "/") + updatePath, true
	}
	return "", false
}

// ReportProcessing marks the job started and records its start time for
// later duration computation
func (r *Reporter) ReportProcessing(ctx context.Context, j *task.Job) {
	now := time.Now()

	r.mu.Lock()
	// Bound the map: a crashed terminal path must not leak entries forever
	if len(r.started) >= maxTrackedJobs {
		for id := range r.started {
			delete(r.started, id)
			delete(r.limiters, id)
			break
		}
	}
	r.started[j.TaskID] = now
	r.limiters[j.TaskID] = rate.NewLimiter(rate.Every(progressInterval), 1)
	r.mu.Unlock()

	payload := r.basePayload(j, StatusProcessing)
	payload["started_at"] = now.UTC().Format(time.RFC3339)
	payload["start_time"] = now.Format(legacyTimeLayout)

	r.send(ctx, j, payload)
}

// ReportProgress forwards an engine progress event, rate-limited to one
// callback per 3s per job. Updates at or past 90% always go through.
func (r *Reporter) ReportProgress(ctx context.Context, j *task.Job, value, max int) {
	if max <= 0 {
		return
	}
	pct := value * 100 / max

	r.mu.Lock()
	limiter := r.limiters[j.TaskID]
	r.mu.Unlock()

	if pct < progressOverride && limiter != nil && !limiter.Allow() {
		return
	}

	payload := r.basePayload(j, StatusProcessing)
	payload["task_message"] = fmt.Sprintf("Processing: %d%%", pct)
	r.send(ctx, j, payload)
}

// ReportCompleted publishes the terminal success state with result URLs
func (r *Reporter) ReportCompleted(ctx context.Context, j *task.Job, urls []string, results []map[string]any) {
	payload := r.terminalPayload(j, StatusCompleted)
	outputData := map[string]any{"urls": urls}
	if len(results) > 0 {
		outputData["results"] = results
	}
	payload["output_data"] = outputData
	r.send(ctx, j, payload)
}

// ReportFailed publishes the terminal failure state
func (r *Reporter) ReportFailed(ctx context.Context, j *task.Job, message string) {
	payload := r.terminalPayload(j, StatusFailed)
	payload["task_message"] = message
	r.send(ctx, j, payload)
}

func (r *Reporter) basePayload(j *task.Job, status string) map[string]any {
	payload := map[string]any{
		"taskId":   j.TaskID,
		"status":   status,
		"priority": j.Priority,
	}
	if j.SourceChannel == task.SourceRedisQueue {
		payload["queue"] = "gpu:tasks:" + j.Priority
	}
	if j.QueuedAt != "" {
		payload["queued_at"] = j.QueuedAt
	}
	return payload
}

// terminalPayload pops the start-time entry and computes duration
func (r *Reporter) terminalPayload(j *task.Job, status string) map[string]any {
	now := time.Now()

	r.mu.Lock()
	startedAt, tracked := r.started[j.TaskID]
	delete(r.started, j.TaskID)
	delete(r.limiters, j.TaskID)
	r.mu.Unlock()

	payload := r.basePayload(j, status)
	payload["finished_at"] = now.UTC().Format(time.RFC3339)
	payload["end_time"] = now.Format(legacyTimeLayout)
	if tracked {
		payload["started_at"] = startedAt.UTC().Format(time.RFC3339)
		payload["start_time"] = startedAt.Format(legacyTimeLayout)
		payload["duration_ms"] = now.Sub(startedAt).Milliseconds()
	}
	return payload
}

// send posts the payload with the shared retry policy. Any failure is
// logged and swallowed.
func (r *Reporter) send(ctx context.Context, j *task.Job, payload map[string]any) {
	url, ok := r.resolveURL(j)
	if !ok {
		r.log.Debug("no callback URL for job, skipping", "task_id", j.TaskID)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("failed to encode callback payload", "task_id", j.TaskID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.http.DoWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		r.log.Warn("status callback failed", "task_id", j.TaskID, "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.log.Warn("status callback rejected", "task_id", j.TaskID, "url", url, "status", resp.StatusCode)
		return
	}
	r.log.Debug("status callback delivered", "task_id", j.TaskID, "status", payload["status"])
}
