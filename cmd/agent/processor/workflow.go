package processor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lyzr/gpu-agent/cmd/agent/callback"
	"github.com/lyzr/gpu-agent/cmd/agent/engine"
	"github.com/lyzr/gpu-agent/cmd/agent/lora"
	"github.com/lyzr/gpu-agent/cmd/agent/media"
	"github.com/lyzr/gpu-agent/cmd/agent/nodes"
	"github.com/lyzr/gpu-agent/cmd/agent/task"
	"github.com/lyzr/gpu-agent/common/logger"
	"github.com/lyzr/gpu-agent/common/storage"
)

// uploadWorkers bounds concurrent artifact uploads per job
const uploadWorkers = 4

// noResultsMessage is the exact failure text producers match on
const noResultsMessage = "No results generated."

// Workflow drives one engine job end to end: liveness gate, graph
// pre-processing, submit, event wait, artifact harvest, upload, terminal
// status.
type Workflow struct {
	engines  *engine.Cache
	registry *nodes.Registry
	fetcher  *media.Fetcher
	lora     *lora.Service
	storage  *storage.Manager
	reporter *callback.Reporter
	timeout  time.Duration
	log      *logger.Logger
}

// NewWorkflow creates the workflow processor
func NewWorkflow(
	engines *engine.Cache,
	registry *nodes.Registry,
	fetcher *media.Fetcher,
	loraSvc *lora.Service,
	store *storage.Manager,
	reporter *callback.Reporter,
	timeout time.Duration,
	log *logger.Logger,
) *Workflow {
	return &Workflow{
		engines:  engines,
		registry: registry,
		fetcher:  fetcher,
		lora:     loraSvc,
		storage:  store,
		reporter: reporter,
		timeout:  timeout,
		log:      log,
	}
}

// Process runs one job. UNAVAILABLE is returned without any status
// callback so the job stays retryable; every other path ends in exactly
// one COMPLETED or FAILED callback.
func (w *Workflow) Process(ctx context.Context, j *task.Job) Outcome {
	log := w.log.WithTaskID(j.TaskID).WithWorkflow(j.WorkflowName)

	graph, ok := j.WFJSON()
	if !ok {
		log.Error("job carries no workflow graph")
		w.reporter.ReportFailed(ctx, j, "No workflow JSON provided")
		return OutcomeFailed
	}

	client := w.engines.Get(j.WorkflowName)

	// Liveness gate: a booting engine releases the job instead of
	// failing it
	if !client.CheckHealth(ctx) {
		log.Warn("engine not reachable, releasing job")
		w.engines.Evict(j.WorkflowName)
		return OutcomeUnavailable
	}

	w.reporter.ReportProcessing(ctx, j)

	if err := w.preprocess(ctx, graph, log); err != nil {
		log.Error("graph pre-processing failed", "error", err)
		w.reporter.ReportFailed(ctx, j, err.Error())
		return OutcomeFailed
	}

	promptID, err := client.SubmitPrompt(ctx, graph)
	if err != nil {
		return w.classify(ctx, j, err, log)
	}

	err = client.WaitForCompletion(ctx, promptID, w.timeout, func(value, max int) {
		w.reporter.ReportProgress(ctx, j, value, max)
	})
	if err != nil {
		return w.classify(ctx, j, err, log)
	}

	outputs, err := client.History(ctx, promptID)
	if err != nil {
		return w.classify(ctx, j, err, log)
	}

	tasks := w.registry.Harvest(j.TaskID, outputs, graph, time.Now())
	if len(tasks) == 0 {
		log.Warn("no artifacts harvested")
		w.reporter.ReportFailed(ctx, j, noResultsMessage)
		return OutcomeFailed
	}

	urls, results, err := w.uploadAll(ctx, client, tasks)
	if err != nil {
		log.Error("artifact upload failed", "error", err)
		w.reporter.ReportFailed(ctx, j, err.Error())
		return OutcomeFailed
	}

	log.Info("job completed", "artifacts", len(urls))
	w.reporter.ReportCompleted(ctx, j, urls, results)
	return OutcomeCompleted
}

// preprocess collects remote URL inputs, repairs LoRA paths, downloads
// the referenced assets and rewrites the graph in place. A download gap
// is fatal; the error names the unresolved URLs.
func (w *Workflow) preprocess(ctx context.Context, graph map[string]any, log *logger.Logger) error {
	w.lora.Repair(ctx, graph)

	refs := w.registry.CollectRemoteRefs(graph)
	if len(refs) == 0 {
		return nil
	}

	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		urls = append(urls, ref.URL)
	}
	log.Info("downloading remote inputs", "count", len(urls))

	files, err := w.fetcher.DownloadBatch(ctx, urls)
	if err != nil {
		return err
	}

	nodes.RewriteInputs(graph, refs, files)
	return nil
}

// uploadAll fetches each artifact's bytes sequentially via /view, then
// uploads them concurrently. URL order matches harvest order.
func (w *Workflow) uploadAll(ctx context.Context, client *engine.Client, tasks []nodes.UploadTask) ([]string, []map[string]any, error) {
	bodies := make([][]byte, len(tasks))
	for i, ut := range tasks {
		data, err := client.View(ctx, ut.Filename, ut.Subfolder, ut.FolderType)
		if err != nil {
			return nil, nil, err
		}
		bodies[i] = data
	}

	urls := make([]string, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadWorkers)
	for i := range tasks {
		i := i
		g.Go(func() error {
			url, err := w.storage.UploadBinary(gctx, bodies[i], tasks[i].DestinationPath, "")
			if err != nil {
				return err
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	results := make([]map[string]any, len(tasks))
	for i, ut := range tasks {
		results[i] = map[string]any{
			"url":        urls[i],
			"kind":       ut.Kind,
			"filename":   ut.Filename,
			"node_id":    ut.SourceNodeID,
			"size_bytes": len(bodies[i]),
		}
	}
	return urls, results, nil
}

// classify routes an execution error: deadline expiry and graph errors
// are terminal, connection-class errors evict the client and release the
// job without a callback.
func (w *Workflow) classify(ctx context.Context, j *task.Job, err error, log *logger.Logger) Outcome {
	if engine.IsTimeout(err) {
		log.Error("job timed out", "error", err)
		w.reporter.ReportFailed(ctx, j, err.Error())
		return OutcomeFailed
	}
	if engine.IsConnectionError(err) {
		log.Warn("connection-class failure, releasing job", "error", err)
		w.engines.Evict(j.WorkflowName)
		return OutcomeUnavailable
	}
	log.Error("job failed", "error", err)
	w.reporter.ReportFailed(ctx, j, err.Error())
	return OutcomeFailed
}
