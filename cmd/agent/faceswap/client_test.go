package faceswap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/gpu-agent/common/logger"
)

func newTestClient(url string) *Client {
	return NewClient(url, 10*time.Second, 3, logger.New("error", "text"))
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	assert.True(t, newTestClient(srv.URL).CheckHealth(context.Background()))
	assert.False(t, newTestClient("http://127.0.0.1:1").CheckHealth(context.Background()))
}

func TestProcessSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/process", r.URL.Path)

		var req ProcessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://x.test/s.jpg", req.SourceURL)

		json.NewEncoder(w).Encode(ProcessResponse{
			Status:     "success",
			OutputPath: "/files/out.mp4",
			Metadata:   map[string]string{"gif_url": "/files/out.gif"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.Process(context.Background(), ProcessRequest{
		SourceURL:  "https://x.test/s.jpg",
		TargetURL:  "https://x.test/t.mp4",
		Resolution: "1024x1024",
	})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, "/files/out.mp4", resp.OutputPath)
	assert.Equal(t, "/files/out.gif", resp.Metadata["gif_url"])
}

func TestProcessFailureResponseNotRetried(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(ProcessResponse{Status: "failed", Error: "no face detected"})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Process(context.Background(), ProcessRequest{})
	require.NoError(t, err)
	assert.False(t, resp.Succeeded())
	assert.Equal(t, "no face detected", resp.Error)
	assert.Equal(t, 1, hits)
}

func TestProcessRetriesServerErrors(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(ProcessResponse{Status: "success", OutputPath: "/files/out.jpg"})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Process(context.Background(), ProcessRequest{})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, 3, hits)
}

func TestFileURL(t *testing.T) {
	c := newTestClient("http://fs.test")

	assert.Equal(t, "http://fs.test/files/out.mp4", c.FileURL("/files/out.mp4"))
	assert.Equal(t, "http://fs.test/files/out.mp4", c.FileURL("files/out.mp4"))
	assert.Equal(t, "https://cdn.test/x.mp4", c.FileURL("https://cdn.test/x.mp4"))
}
