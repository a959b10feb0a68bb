package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lyzr/gpu-agent/common/clients"
	"github.com/lyzr/gpu-agent/common/logger"
)

// maxConcurrentDownloads bounds a single batch
const maxConcurrentDownloads = 10

// IsRemoteURL reports whether s is an http(s) URL
func IsRemoteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Fetcher downloads remote assets into the engine's input directory
type Fetcher struct {
	inputDir string
	http     *clients.HTTPClient
	log      *logger.Logger
}

// NewFetcher creates a fetcher writing into inputDir
func NewFetcher(inputDir string, httpClient *clients.HTTPClient, log *logger.Logger) *Fetcher {
	return &Fetcher{
		inputDir: inputDir,
		http:     httpClient,
		log:      log,
	}
}

// localName derives a unique local filename from the URL basename: a
// millisecond timestamp is appended so repeated downloads of the same
// asset never collide. Extension defaults to .png when the URL has none.
func localName(rawURL string) string {
	base := path.Base(strings.SplitN(rawURL, "?", 2)[0])
	ext := path.Ext(base)
	if ext == "" {
		ext = ".png"
	} else {
		base = strings.TrimSuffix(base, ext)
	}
	return fmt.Sprintf("%s_%d%s", base, time.Now().UnixMilli(), ext)
}

// Download fetches one URL into the input directory and returns the local
// filename (not the full path; the engine resolves names against its own
// input directory). Transient failures retry up to 3 times; 4xx other
// than 408/429 fail immediately.
func (f *Fetcher) Download(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.http.DoWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return "", fmt.Errorf("download failed for %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("download failed for %s: status %d", rawURL, resp.StatusCode)
	}

	name := localName(rawURL)
	dest := filepath.Join(f.inputDir, name)

	// Write to a temp file first so the engine never sees a partial asset
	tmp, err := os.CreateTemp(f.inputDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download failed for %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	f.log.Debug("downloaded asset", "url", rawURL, "file", name)
	return name, nil
}

// DownloadBatch fetches all URLs concurrently (bounded) and returns a
// url → local filename mapping. On failure the partial mapping is
// returned together with an error naming the URLs that could not be
// fetched; callers must treat a gap as fatal for the job.
func (f *Fetcher) DownloadBatch(ctx context.Context, urls []string) (map[string]string, error) {
	results := make(map[string]string, len(urls))
	var failed []string
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)

	for _, u := range urls {
		u := u
		g.Go(func() error {
			name, err := f.Download(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.log.Warn("batch download entry failed", "url", u, "error", err)
				failed = append(failed, u)
				return nil
			}
			results[u] = name
			return nil
		})
	}
	g.Wait()

	if len(failed) > 0 {
		return results, fmt.Errorf("failed to download: %s", strings.Join(failed, ", "))
	}
	return results, nil
}
