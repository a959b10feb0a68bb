package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/gpu-agent/common/clients"
	"github.com/lyzr/gpu-agent/common/logger"
)

func newFetcher(t *testing.T) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	log := logger.New("error", "text")
	f := NewFetcher(dir, clients.NewHTTPClient(&http.Client{}, log), log)
	return f, dir
}

func TestIsRemoteURL(t *testing.T) {
	assert.True(t, IsRemoteURL("http://x.test/a.png"))
	assert.True(t, IsRemoteURL("https://x.test/a.png"))
	assert.False(t, IsRemoteURL("a.png"))
	assert.False(t, IsRemoteURL("/local/path/a.png"))
	assert.False(t, IsRemoteURL("ftp://x.test/a.png"))
}

func TestDownloadWritesUniqueFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	f, dir := newFetcher(t)

	name, err := f.Download(context.Background(), srv.URL+"/assets/a.png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "a_"))
	assert.True(t, strings.HasSuffix(name, ".png"))

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
}

func TestDownloadDefaultsExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	f, _ := newFetcher(t)

	name, err := f.Download(context.Background(), srv.URL+"/asset")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".png"))
}

func TestDownloadNotFoundFailsFast(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, _ := newFetcher(t)

	_, err := f.Download(context.Background(), srv.URL+"/missing.png")
	assert.Error(t, err)
	assert.Equal(t, 1, hits) // 404 is not retried
}

func TestDownloadRetriesTransientStatus(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, _ := newFetcher(t)

	name, err := f.Download(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.NotEmpty(t, name)
	assert.Equal(t, 3, hits)
}

func TestDownloadBatchPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	f, _ := newFetcher(t)

	good := srv.URL + "/good.png"
	bad := srv.URL + "/bad.png"

	results, err := f.DownloadBatch(context.Background(), []string{good, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
	assert.Contains(t, results, good)
	assert.NotContains(t, results, bad)
}

func TestDownloadBatchAllSucceed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	f, _ := newFetcher(t)

	urls := []string{srv.URL + "/a.png", srv.URL + "/b.png", srv.URL + "/c.png"}
	results, err := f.DownloadBatch(context.Background(), urls)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestKindFor(t *testing.T) {
	assert.Equal(t, KindImage, KindFor("a.png"))
	assert.Equal(t, KindVideo, KindFor("a.mp4"))
	assert.Equal(t, KindAudio, KindFor("a.wav"))
	assert.Equal(t, KindImage, KindFor("a.unknown"))
}
