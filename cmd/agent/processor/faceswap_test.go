package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/gpu-agent/cmd/agent/callback"
	"github.com/lyzr/gpu-agent/cmd/agent/faceswap"
	"github.com/lyzr/gpu-agent/cmd/agent/task"
	"github.com/lyzr/gpu-agent/common/clients"
	"github.com/lyzr/gpu-agent/common/config"
	"github.com/lyzr/gpu-agent/common/logger"
	"github.com/lyzr/gpu-agent/common/storage"
)

type faceSwapFixture struct {
	proc  *FaceSwap
	cap   *statusCapture
	store *fakeProvider
}

// newFaceSwapFixture wires the processor against a fake swap service that
// serves /health, /process and the output files themselves
func newFaceSwapFixture(t *testing.T, process http.HandlerFunc) *faceSwapFixture {
	t.Helper()
	log := logger.New("error", "text")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/process", process)
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("swap-output"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cap := &statusCapture{}
	capSrv := cap.server()
	t.Cleanup(capSrv.Close)

	httpc := clients.NewHTTPClient(&http.Client{}, log)
	provider := &fakeProvider{}
	store := storage.NewManager(log)
	store.Register("fake", provider, true)

	reporter := callback.NewReporter(config.CallbackConfig{DefaultURL: capSrv.URL, Timeout: 5 * time.Second}, httpc, log)
	service := faceswap.NewClient(srv.URL, 10*time.Second, 3, log)

	return &faceSwapFixture{
		proc:  NewFaceSwap(service, store, reporter, httpc, log),
		cap:   cap,
		store: provider,
	}
}

func faceSwapJob(params map[string]any) *task.Job {
	return &task.Job{
		TaskID:        "t1",
		WorkflowName:  "faceswap",
		Priority:      "normal",
		SourceChannel: task.SourceRedisQueue,
		Params:        map[string]any{"input_data": map[string]any{"wf_json": params}},
	}
}

func TestFaceSwapHappyPathWithSecondaryFormats(t *testing.T) {
	fx := newFaceSwapFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req faceswap.ProcessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "1024x1024", req.Resolution) // default applied

		json.NewEncoder(w).Encode(faceswap.ProcessResponse{
			Status:     "success",
			OutputPath: "/files/out.mp4",
			Metadata:   map[string]string{"gif_url": "/files/out.gif"},
		})
	})

	outcome := fx.proc.Process(context.Background(), faceSwapJob(map[string]any{
		"source_url": "https://x.test/s.jpg",
		"target_url": "https://x.test/t.mp4",
		"media_type": "video",
	}))

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, []string{callback.StatusProcessing, callback.StatusCompleted}, fx.cap.terminalStatuses())

	last := fx.cap.payloads[len(fx.cap.payloads)-1]
	urls := last["output_data"].(map[string]any)["urls"].([]any)
	require.Len(t, urls, 2)
	// Primary mp4 first, then the gif
	assert.Contains(t, urls[0], ".mp4")
	assert.Contains(t, urls[1], ".gif")
}

func TestFaceSwapServiceFailure(t *testing.T) {
	fx := newFaceSwapFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(faceswap.ProcessResponse{Status: "failed", Error: "no face detected"})
	})

	outcome := fx.proc.Process(context.Background(), faceSwapJob(map[string]any{
		"source_url": "https://x.test/s.jpg",
		"target_url": "https://x.test/t.mp4",
	}))

	assert.Equal(t, OutcomeFailed, outcome)
	last := fx.cap.payloads[len(fx.cap.payloads)-1]
	assert.Equal(t, "no face detected", last["task_message"])
}

func TestFaceSwapRejectsNonHTTPURLs(t *testing.T) {
	fx := newFaceSwapFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("process must not be called")
	})

	outcome := fx.proc.Process(context.Background(), faceSwapJob(map[string]any{
		"source_url": "file:///etc/passwd",
		"target_url": "https://x.test/t.mp4",
	}))

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, []string{callback.StatusFailed}, fx.cap.terminalStatuses())
}

func TestRegistryRouting(t *testing.T) {
	log := logger.New("error", "text")
	wf := &Workflow{}
	fs := &FaceSwap{}
	r := NewRegistry(wf, fs, log)

	assert.Same(t, Processor(fs), r.For("faceswap"))
	assert.Same(t, Processor(fs), r.For("face_swap"))
	assert.Same(t, Processor(wf), r.For("comfyui_basic"))
	assert.Same(t, Processor(wf), r.For("text_to_image"))
	assert.Same(t, Processor(wf), r.For("something_else"))
	assert.Same(t, Processor(wf), r.For(""))
}
