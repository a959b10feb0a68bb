package consumer

import (
	"context"
	"time"

	"github.com/lyzr/gpu-agent/cmd/agent/callback"
	"github.com/lyzr/gpu-agent/cmd/agent/engine"
	"github.com/lyzr/gpu-agent/cmd/agent/filter"
	"github.com/lyzr/gpu-agent/cmd/agent/processor"
	"github.com/lyzr/gpu-agent/cmd/agent/task"
	"github.com/lyzr/gpu-agent/common/config"
	"github.com/lyzr/gpu-agent/common/logger"
)

// Consumer is the outer dispatcher loop: pull a job, gate it through the
// workflow filter, route it to a processor, repeat. One job is in flight
// at any instant.
type Consumer struct {
	source    Source
	filter    *filter.Workflow
	registry  *processor.Registry
	reporter  *callback.Reporter
	engines   *engine.Cache
	cfg       config.ConsumerConfig
	engineCfg config.EngineConfig
	log       *logger.Logger
}

// New creates the dispatcher
func New(
	source Source,
	f *filter.Workflow,
	registry *processor.Registry,
	reporter *callback.Reporter,
	engines *engine.Cache,
	cfg config.ConsumerConfig,
	engineCfg config.EngineConfig,
	log *logger.Logger,
) *Consumer {
	return &Consumer{
		source:    source,
		filter:    f,
		registry:  registry,
		reporter:  reporter,
		engines:   engines,
		cfg:       cfg,
		engineCfg: engineCfg,
		log:       log,
	}
}

// Start blocks until the context is cancelled. The engine must pass its
// readiness gate before the first job is drained; a worker that pops jobs
// against a dead engine would leak them in Redis mode.
func (c *Consumer) Start(ctx context.Context) error {
	gate := c.engines.Get("default")
	if err := gate.WaitForReady(ctx, c.engineCfg.ReadyInterval, c.engineCfg.ReadyRetries); err != nil {
		return err
	}

	c.log.Info("consumer started",
		"mode", c.cfg.Mode,
		"poll_interval", c.cfg.PollInterval,
	)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopping")
			return nil
		default:
		}

		j, ok, err := c.source.Next(ctx)
		if err != nil {
			c.log.Debug("source error", "error", err)
			c.sleep(ctx)
			continue
		}
		if !ok {
			c.sleep(ctx)
			continue
		}

		c.dispatch(ctx, j)
	}
}

// dispatch runs one admitted job through its processor
func (c *Consumer) dispatch(ctx context.Context, j *task.Job) {
	log := c.log.WithTaskID(j.TaskID).WithWorkflow(j.WorkflowName)

	if c.cfg.TestTaskShortcut && j.IsTest() {
		log.Info("test task short-circuit, skipping processors")
		c.reporter.ReportProcessing(ctx, j)
		c.reporter.ReportCompleted(ctx, j, []string{}, []map[string]any{{"test": true}})
		return
	}

	// Admission gate: a disallowed job is skipped without any status
	// update so a capable worker can pick it up
	if !c.filter.Allows(j.WorkflowName) {
		if c.cfg.LogFilteredTasks {
			log.Info("workflow not allowed on this worker, skipping")
		}
		return
	}

	started := time.Now()
	outcome := c.registry.For(j.WorkflowName).Process(ctx, j)
	log.Info("job dispatched",
		"outcome", outcome.String(),
		"priority", j.Priority,
		"duration", time.Since(started),
	)

	// Give a booting engine a moment before draining the next job
	if outcome == processor.OutcomeUnavailable {
		c.sleep(ctx)
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.PollInterval):
	}
}
