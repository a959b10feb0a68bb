package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/lyzr/gpu-agent/cmd/agent/callback"
	"github.com/lyzr/gpu-agent/cmd/agent/faceswap"
	"github.com/lyzr/gpu-agent/cmd/agent/media"
	"github.com/lyzr/gpu-agent/cmd/agent/task"
	"github.com/lyzr/gpu-agent/common/clients"
	"github.com/lyzr/gpu-agent/common/logger"
	"github.com/lyzr/gpu-agent/common/storage"
)

// defaultResolution when the job does not specify one
const defaultResolution = "1024x1024"

// secondaryFormatKeys are metadata entries carrying extra output formats,
// in the order their URLs are reported
var secondaryFormatKeys = []string{"gif_url", "webp_url"}

// FaceSwap delegates a job to the co-located face-swap service, then
// moves its outputs to object storage.
type FaceSwap struct {
	service  *faceswap.Client
	storage  *storage.Manager
	reporter *callback.Reporter
	http     *clients.HTTPClient
	log      *logger.Logger
}

// NewFaceSwap creates the face-swap processor
func NewFaceSwap(
	service *faceswap.Client,
	store *storage.Manager,
	reporter *callback.Reporter,
	httpClient *clients.HTTPClient,
	log *logger.Logger,
) *FaceSwap {
	return &FaceSwap{
		service:  service,
		storage:  store,
		reporter: reporter,
		http:     httpClient,
		log:      log,
	}
}

// Process runs one face-swap job
func (f *FaceSwap) Process(ctx context.Context, j *task.Job) Outcome {
	log := f.log.WithTaskID(j.TaskID)

	params, ok := j.WFJSON()
	if !ok {
		w := j.InputData()
		if w == nil {
			f.reporter.ReportFailed(ctx, j, "No face swap parameters provided")
			return OutcomeFailed
		}
		params = w
	}

	req, err := buildProcessRequest(params)
	if err != nil {
		log.Error("invalid face-swap parameters", "error", err)
		f.reporter.ReportFailed(ctx, j, err.Error())
		return OutcomeFailed
	}

	if !f.service.CheckHealth(ctx) {
		log.Error("face-swap service not reachable")
		f.reporter.ReportFailed(ctx, j, "Face swap service is not available")
		return OutcomeFailed
	}

	f.reporter.ReportProcessing(ctx, j)

	resp, err := f.service.Process(ctx, req)
	if err != nil {
		log.Error("face-swap call failed", "error", err)
		f.reporter.ReportFailed(ctx, j, err.Error())
		return OutcomeFailed
	}
	if !resp.Succeeded() {
		msg := resp.Error
		if msg == "" {
			msg = "Face swap failed"
		}
		log.Error("face-swap rejected job", "error", msg)
		f.reporter.ReportFailed(ctx, j, msg)
		return OutcomeFailed
	}

	urls, err := f.collectOutputs(ctx, j.TaskID, resp)
	if err != nil {
		log.Error("failed to store face-swap outputs", "error", err)
		f.reporter.ReportFailed(ctx, j, err.Error())
		return OutcomeFailed
	}
	if len(urls) == 0 {
		f.reporter.ReportFailed(ctx, j, noResultsMessage)
		return OutcomeFailed
	}

	log.Info("face-swap job completed", "artifacts", len(urls))
	f.reporter.ReportCompleted(ctx, j, urls, nil)
	return OutcomeCompleted
}

// buildProcessRequest validates and extracts the parameter block
func buildProcessRequest(params map[string]any) (faceswap.ProcessRequest, error) {
	source, _ := params["source_url"].(string)
	target, _ := params["target_url"].(string)

	if !media.IsRemoteURL(source) {
		return faceswap.ProcessRequest{}, fmt.Errorf("source_url must be an http(s) URL")
	}
	if !media.IsRemoteURL(target) {
		return faceswap.ProcessRequest{}, fmt.Errorf("target_url must be an http(s) URL")
	}

	resolution, _ := params["resolution"].(string)
	if resolution == "" {
		resolution = defaultResolution
	}
	model, _ := params["model"].(string)

	return faceswap.ProcessRequest{
		SourceURL:  source,
		TargetURL:  target,
		Resolution: resolution,
		Model:      model,
	}, nil
}

// collectOutputs downloads the service's primary output plus any declared
// secondary formats and uploads each to storage. URL order is primary
// first, then secondaries in declaration order.
func (f *FaceSwap) collectOutputs(ctx context.Context, taskID string, resp *faceswap.ProcessResponse) ([]string, error) {
	paths := []string{resp.OutputPath}
	for _, key := range secondaryFormatKeys {
		if p, ok := resp.Metadata[key]; ok && p != "" {
			paths = append(paths, p)
		}
	}

	datePrefix := time.Now().Format("20060102")
	var urls []string
	for seq, outputPath := range paths {
		data, err := f.download(ctx, f.service.FileURL(outputPath))
		if err != nil {
			return nil, err
		}

		ext := path.Ext(strings.SplitN(outputPath, "?", 2)[0])
		dest := fmt.Sprintf("%s/%s_%d%s", datePrefix, taskID, seq, ext)
		url, err := f.storage.UploadBinary(ctx, data, dest, "")
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (f *FaceSwap) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.http.DoWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("download of %s returned status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
