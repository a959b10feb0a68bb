package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lyzr/gpu-agent/cmd/agent/filter"
	"github.com/lyzr/gpu-agent/cmd/agent/task"
	"github.com/lyzr/gpu-agent/common/logger"
)

// Priority lanes drained oldest-first, highest lane first
const queuePrefix = "gpu:tasks:"

var lanes = []string{task.PriorityVIP, task.PriorityNormal, task.PriorityGuest}

// QueueName returns the Redis list for a priority lane
func QueueName(priority string) string {
	return queuePrefix + priority
}

// Source yields the next job from wherever this worker pulls work.
// ok=false means every upstream was empty this tick.
type Source interface {
	Next(ctx context.Context) (*task.Job, bool, error)
}

// queueClient is the slice of the Redis wrapper the source needs
type queueClient interface {
	PopOldest(ctx context.Context, queue string) (string, bool, error)
	QueueLength(ctx context.Context, queue string) (int64, error)
}

// RedisSource drains the three priority lists. The pop is atomic, so a
// job is delivered to at most one worker.
type RedisSource struct {
	client queueClient
	log    *logger.Logger
}

// NewRedisSource creates a Redis-backed source
func NewRedisSource(client queueClient, log *logger.Logger) *RedisSource {
	return &RedisSource{client: client, log: log}
}

// Next tries vip, then normal, then guest. The winning lane overrides the
// job's priority field.
func (s *RedisSource) Next(ctx context.Context) (*task.Job, bool, error) {
	for _, lane := range lanes {
		payload, ok, err := s.client.PopOldest(ctx, QueueName(lane))
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}

		j, err := task.Parse([]byte(payload), task.SourceRedisQueue)
		if err != nil {
			s.log.Warn("discarding malformed queue entry", "queue", QueueName(lane), "error", err)
			continue
		}
		j.Priority = lane
		return j, true, nil
	}
	return nil, false, nil
}

// QueueLengths reports the pending depth of each priority lane
func (s *RedisSource) QueueLengths(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(lanes))
	for _, lane := range lanes {
		n, err := s.client.QueueLength(ctx, QueueName(lane))
		if err != nil {
			return nil, err
		}
		out[lane] = n
	}
	return out, nil
}

// fetchResponse is the producer's poll envelope. success defaults to
// code == 200 when absent.
type fetchResponse struct {
	Success *bool          `json:"success"`
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (r *fetchResponse) ok() bool {
	if r.Success != nil {
		return *r.Success
	}
	return r.Code == 200
}

// HTTPSource polls an ordered list of producer base URLs; the first one
// returning a job wins and becomes the job's source channel.
type HTTPSource struct {
	bases  []string
	filter *filter.Workflow
	httpc  *http.Client
	log    *logger.Logger
}

// NewHTTPSource creates an HTTP pull source
func NewHTTPSource(bases []string, f *filter.Workflow, httpc *http.Client, log *logger.Logger) *HTTPSource {
	trimmed := make([]string, 0, len(bases))
	for _, b := range bases {
		trimmed = append(trimmed, strings.TrimRight(b, "/"))
	}
	return &HTTPSource{bases: trimmed, filter: f, httpc: httpc, log: log}
}

// Next polls each producer in order. Transport errors are logged at debug
// and skip to the next producer; they never terminate the loop.
func (s *HTTPSource) Next(ctx context.Context) (*task.Job, bool, error) {
	for _, base := range s.bases {
		j, ok := s.fetchOne(ctx, base)
		if ok {
			return j, true, nil
		}
	}
	return nil, false, nil
}

func (s *HTTPSource) fetchOne(ctx context.Context, base string) (*task.Job, bool) {
	fetchURL := base + "/api/comm/task/fetch"
	if !s.filter.AllowAll() {
		q := url.Values{}
		for _, name := range s.filter.Patterns() {
			q.Add("workflow_names", name)
		}
		fetchURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, false
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		s.log.Debug("producer poll failed", "base", base, "error", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		s.log.Debug("producer poll returned status", "base", base, "status", resp.StatusCode)
		return nil, false
	}

	var parsed fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		s.log.Debug("malformed producer response", "base", base, "error", err)
		return nil, false
	}
	if !parsed.ok() || parsed.Data == nil {
		return nil, false
	}

	j, err := task.Normalize(parsed.Data, base)
	if err != nil {
		s.log.Warn("discarding malformed producer job", "base", base, "error", err)
		return nil, false
	}
	return j, true
}

// String names the source for startup logging
func (s *HTTPSource) String() string {
	return fmt.Sprintf("http producers %v", s.bases)
}
