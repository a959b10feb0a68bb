package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lyzr/gpu-agent/cmd/agent/api"
	"github.com/lyzr/gpu-agent/cmd/agent/callback"
	"github.com/lyzr/gpu-agent/cmd/agent/consumer"
	"github.com/lyzr/gpu-agent/cmd/agent/engine"
	"github.com/lyzr/gpu-agent/cmd/agent/faceswap"
	"github.com/lyzr/gpu-agent/cmd/agent/filter"
	"github.com/lyzr/gpu-agent/cmd/agent/lora"
	"github.com/lyzr/gpu-agent/cmd/agent/media"
	"github.com/lyzr/gpu-agent/cmd/agent/nodes"
	"github.com/lyzr/gpu-agent/cmd/agent/processor"
	"github.com/lyzr/gpu-agent/common/bootstrap"
	"github.com/lyzr/gpu-agent/common/clients"
	"github.com/lyzr/gpu-agent/common/config"
	"github.com/lyzr/gpu-agent/common/server"
)

const serviceName = "gpu-agent"

func main() {
	mode := "run"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	switch mode {
	case "api", "consumer", "run":
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [api|consumer|run]\n", os.Args[0])
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// HTTP pull mode never touches the Redis queues
	opts := []bootstrap.Option{bootstrap.WithCustomConfig(cfg)}
	if cfg.Consumer.Mode == config.ModeHTTP {
		opts = append(opts, bootstrap.WithoutRedis())
	}

	components, err := bootstrap.Setup(ctx, serviceName, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap %s: %v\n", serviceName, err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	log := components.Logger

	httpc := clients.NewHTTPClient(&http.Client{Timeout: cfg.Callback.Timeout}, log)
	engines := engine.NewCache(cfg.Engine.URL, log)
	wfFilter := filter.New(cfg.Consumer.AllowedWorkflows, log)
	reporter := callback.NewReporter(cfg.Callback, httpc, log)

	workflowProc := processor.NewWorkflow(
		engines,
		nodes.NewRegistry(log),
		media.NewFetcher(cfg.Engine.InputDir, httpc, log),
		lora.NewService(cfg.Engine.URL, httpc, cfg.Engine.LoraCacheEnabled, log),
		components.Storage,
		reporter,
		cfg.Engine.TaskTimeout,
		log,
	)
	faceSwapProc := processor.NewFaceSwap(
		faceswap.NewClient(cfg.FaceSwap.APIURL, cfg.FaceSwap.Timeout, cfg.FaceSwap.RetryCount, log),
		components.Storage,
		reporter,
		httpc,
		log,
	)
	registry := processor.NewRegistry(workflowProc, faceSwapProc, log)

	var source consumer.Source
	if cfg.Consumer.Mode == config.ModeHTTP {
		source = consumer.NewHTTPSource(cfg.Consumer.TaskAPIURLs, wfFilter, &http.Client{Timeout: cfg.Callback.Timeout}, log)
	} else {
		source = consumer.NewRedisSource(components.Redis, log)
	}

	worker := consumer.New(source, wfFilter, registry, reporter, engines, cfg.Consumer, cfg.Engine, log)
	host := server.New(serviceName, cfg.Service.Port, api.NewServer(engines, components.Redis, log).Echo(), log)

	var runErr error
	switch mode {
	case "api":
		runErr = host.Start(ctx)
	case "consumer":
		runErr = worker.Start(ctx)
	case "run":
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return worker.Start(gctx) })
		g.Go(func() error { return host.Start(gctx) })
		runErr = g.Wait()
	}

	if runErr != nil {
		log.Error("agent exited with error", "mode", mode, "error", runErr)
		components.Shutdown(ctx)
		os.Exit(1)
	}
	log.Info("agent stopped", "mode", mode)
}
