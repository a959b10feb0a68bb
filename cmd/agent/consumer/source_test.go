package consumer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/gpu-agent/cmd/agent/filter"
	"github.com/lyzr/gpu-agent/cmd/agent/task"
	"github.com/lyzr/gpu-agent/common/logger"
)

// fakeQueues is an in-memory stand-in for the Redis lists
type fakeQueues struct {
	lists map[string][]string
}

func (f *fakeQueues) PopOldest(ctx context.Context, queue string) (string, bool, error) {
	list := f.lists[queue]
	if len(list) == 0 {
		return "", false, nil
	}
	// Oldest element is at the tail: producers LPUSH, consumers RPOP
	val := list[len(list)-1]
	f.lists[queue] = list[:len(list)-1]
	return val, true, nil
}

func (f *fakeQueues) QueueLength(ctx context.Context, queue string) (int64, error) {
	return int64(len(f.lists[queue])), nil
}

func enqueue(f *fakeQueues, lane, taskID string) {
	payload, _ := json.Marshal(map[string]any{"task_id": taskID, "workflow_name": "comfyui_basic"})
	f.lists[QueueName(lane)] = append([]string{string(payload)}, f.lists[QueueName(lane)]...)
}

func TestRedisSourcePriorityOrdering(t *testing.T) {
	q := &fakeQueues{lists: map[string][]string{}}
	enqueue(q, task.PriorityGuest, "j_guest")
	enqueue(q, task.PriorityNormal, "j_normal")
	enqueue(q, task.PriorityVIP, "j_vip")

	s := NewRedisSource(q, logger.New("error", "text"))
	ctx := context.Background()

	var order []string
	for {
		j, ok, err := s.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, j.TaskID)
	}

	assert.Equal(t, []string{"j_vip", "j_normal", "j_guest"}, order)
}

func TestRedisSourceSetsLaneAndChannel(t *testing.T) {
	q := &fakeQueues{lists: map[string][]string{}}
	enqueue(q, task.PriorityVIP, "j1")

	s := NewRedisSource(q, logger.New("error", "text"))
	j, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, task.PriorityVIP, j.Priority)
	assert.Equal(t, task.SourceRedisQueue, j.SourceChannel)
}

func TestRedisSourceSkipsMalformedEntries(t *testing.T) {
	q := &fakeQueues{lists: map[string][]string{
		QueueName(task.PriorityVIP): {"{not json"},
	}}
	enqueue(q, task.PriorityNormal, "j1")

	s := NewRedisSource(q, logger.New("error", "text"))
	j, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j1", j.TaskID)
}

func TestRedisSourceQueueLengths(t *testing.T) {
	q := &fakeQueues{lists: map[string][]string{}}
	enqueue(q, task.PriorityVIP, "a")
	enqueue(q, task.PriorityVIP, "b")

	s := NewRedisSource(q, logger.New("error", "text"))
	lengths, err := s.QueueLengths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), lengths[task.PriorityVIP])
	assert.Equal(t, int64(0), lengths[task.PriorityGuest])
}

func TestHTTPSourceFirstProducerWins(t *testing.T) {
	log := logger.New("error", "text")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": nil})
	}))
	defer empty.Close()

	full := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/comm/task/fetch", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"task_id": "h1", "workflow_name": "comfyui_basic"},
		})
	}))
	defer full.Close()

	f := filter.New([]string{"*"}, log)
	s := NewHTTPSource([]string{empty.URL, full.URL}, f, &http.Client{}, log)

	j, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h1", j.TaskID)
	assert.Equal(t, full.URL, j.SourceChannel)
}

func TestHTTPSourceSendsWorkflowNames(t *testing.T) {
	log := logger.New("error", "text")

	var gotNames []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotNames = r.URL.Query()["workflow_names"]
		json.NewEncoder(w).Encode(map[string]any{"code": 200})
	}))
	defer srv.Close()

	f := filter.New([]string{"comfyui_*", "faceswap"}, log)
	s := NewHTTPSource([]string{srv.URL}, f, &http.Client{}, log)

	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"comfyui_*", "faceswap"}, gotNames)
}

func TestHTTPSourceWildcardSendsNoFilter(t *testing.T) {
	log := logger.New("error", "text")

	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{"code": 200})
	}))
	defer srv.Close()

	f := filter.New([]string{"*"}, log)
	s := NewHTTPSource([]string{srv.URL}, f, &http.Client{}, log)

	_, _, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, query)
}

func TestHTTPSourceProducerErrorsAreNonFatal(t *testing.T) {
	log := logger.New("error", "text")

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer malformed.Close()

	f := filter.New([]string{"*"}, log)
	s := NewHTTPSource([]string{broken.URL, malformed.URL, "http://127.0.0.1:1"}, f, &http.Client{}, log)

	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchResponseSuccessDefaulting(t *testing.T) {
	r := &fetchResponse{Code: 200}
	assert.True(t, r.ok())

	r = &fetchResponse{Code: 404}
	assert.False(t, r.ok())

	no := false
	r = &fetchResponse{Success: &no, Code: 200}
	assert.False(t, r.ok())
}
