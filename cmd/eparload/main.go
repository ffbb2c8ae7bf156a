// Package main provides the EPAR dataset loader CLI.
//
// One invocation runs one load by default; --schedule keeps the process
// alive and runs the pipeline on a cron expression, never overlapping runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/epar-io/eparload/internal/blob"
	"github.com/epar-io/eparload/internal/config"
	"github.com/epar-io/eparload/internal/docs"
	"github.com/epar-io/eparload/internal/epar"
	"github.com/epar-io/eparload/internal/etl"
	"github.com/epar-io/eparload/internal/extract"
	"github.com/epar-io/eparload/internal/load"
	"github.com/epar-io/eparload/internal/notify"
	"github.com/epar-io/eparload/internal/spor"
	"github.com/epar-io/eparload/internal/storage"
)

// Version information.
const (
	version = "1.0.0"
	name    = "eparload"
)

// Exit codes. Ambiguous means the data transaction committed but the ledger
// entry could not be resolved; the run needs manual reconciliation.
const (
	exitOK        = 0
	exitRunFailed = 1
	exitConfig    = 2
	exitAmbiguous = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		versionFlag  = flag.Bool("version", false, "show version information")
		strategyFlag = flag.String("strategy", config.GetEnvStr("LOAD_STRATEGY", "DELTA"), "load strategy: FULL or DELTA")
		scheduleFlag = flag.String("schedule", config.GetEnvStr("LOAD_SCHEDULE", ""), "cron expression for scheduled mode (empty: run once)")
	)

	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)

		return exitOK
	}

	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	if err := config.ApplyOverlayFromEnv(); err != nil {
		logger.Error("failed to apply configuration overlay", slog.String("error", err.Error()))

		return exitConfig
	}

	strategy, err := load.ParseStrategy(*strategyFlag)
	if err != nil {
		logger.Error("invalid load strategy", slog.String("strategy", *strategyFlag))

		return exitConfig
	}

	logger.Info("starting loader",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("strategy", strategy.String()),
	)

	orchestrator, cleanup, code := buildPipeline(strategy, logger)
	if code != exitOK {
		return code
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *scheduleFlag == "" {
		return runOnce(ctx, orchestrator, logger)
	}

	return runScheduled(ctx, *scheduleFlag, orchestrator, logger)
}

// buildPipeline wires configuration into the orchestrator and its ports. The
// notifier rides along as the orchestrator's lifecycle observer.
// Configuration problems return exitConfig; an unreachable database returns
// exitRunFailed.
func buildPipeline(strategy load.Strategy, logger *slog.Logger) (*load.Orchestrator, func(), int) {
	noop := func() {}

	extractConfig := extract.LoadConfig()
	if err := extractConfig.Validate(); err != nil {
		logger.Error("invalid extractor configuration", slog.String("error", err.Error()))

		return nil, noop, exitConfig
	}

	docsConfig := docs.LoadConfig()
	if err := docsConfig.Validate(); err != nil {
		logger.Error("invalid document pipeline configuration", slog.String("error", err.Error()))

		return nil, noop, exitConfig
	}

	blobConfig := blob.LoadConfig()
	if err := blobConfig.Validate(); err != nil {
		logger.Error("invalid document storage configuration", slog.String("error", err.Error()))

		return nil, noop, exitConfig
	}

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))

		return nil, noop, exitConfig
	}

	notifier, err := notify.NewNotifier(notify.LoadConfig(), logger)
	if err != nil {
		logger.Error("invalid notifier configuration", slog.String("error", err.Error()))

		return nil, noop, exitConfig
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)

		return nil, noop, exitRunFailed
	}

	cleanup := func() {
		_ = notifier.Close()
		_ = conn.Close()
	}

	logger.Info("database connected",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
	)

	registry := load.NewRegistry()
	if err := registry.Register("postgres", func() (load.Adapter, error) {
		return storage.NewAdapter(conn, logger), nil
	}); err != nil {
		cleanup()
		logger.Error("adapter registration failed", slog.String("error", err.Error()))

		return nil, noop, exitConfig
	}

	adapter, err := registry.New(config.GetEnvStr("DATABASE_ADAPTER", "postgres"))
	if err != nil {
		cleanup()
		logger.Error("adapter selection failed", slog.String("error", err.Error()))

		return nil, noop, exitConfig
	}

	var sporClient *spor.Client

	sporConfig := spor.LoadConfig()
	if config.GetEnvBool("SPOR_ENRICHMENT_ENABLED", true) {
		sporClient, err = spor.NewClient(sporConfig, nil, logger)
		if err != nil {
			cleanup()
			logger.Error("invalid SPOR configuration", slog.String("error", err.Error()))

			return nil, noop, exitConfig
		}
	} else {
		logger.Warn("SPOR enrichment disabled, records load un-enriched")
	}

	var processor *docs.Processor

	if config.GetEnvBool("DOCUMENT_PIPELINE_ENABLED", false) {
		store, err := blob.New(blobConfig)
		if err != nil {
			cleanup()
			logger.Error("document storage setup failed", slog.String("error", err.Error()))

			return nil, noop, exitConfig
		}

		downloader := docs.NewDownloader(docsConfig, nil, store, logger)
		processor = docs.NewProcessor(docsConfig, downloader, logger)
	}

	feed := etl.NewFeed(
		extract.NewFetcher(extractConfig, nil, logger),
		etl.NewTransformer(sporClient, logger),
		processor,
		extractConfig.BatchSize,
		extractConfig.SourceURL,
		logger,
	)

	orchestrator, err := load.NewOrchestrator(
		storage.NewLedger(conn, logger),
		adapter,
		feed,
		epar.IndexSpec(),
		strategy,
		notifier,
		logger,
	)
	if err != nil {
		cleanup()
		logger.Error("orchestrator setup failed", slog.String("error", err.Error()))

		return nil, noop, exitConfig
	}

	return orchestrator, cleanup, exitOK
}

// runOnce executes a single load and maps its outcome to an exit code.
func runOnce(ctx context.Context, orchestrator *load.Orchestrator, logger *slog.Logger) int {
	_, err := orchestrator.Run(ctx)
	if err != nil {
		if errors.Is(err, load.ErrAmbiguousRun) {
			logger.Error("run is ambiguous: data committed, ledger unresolved",
				slog.String("error", err.Error()),
			)

			return exitAmbiguous
		}

		return exitRunFailed
	}

	return exitOK
}

// runScheduled runs the pipeline on a cron schedule until the process is
// signalled. Overlapping runs are skipped; a failed run is logged and the
// schedule continues. The worst single-run exit code is returned.
func runScheduled(ctx context.Context, schedule string, orchestrator *load.Orchestrator, logger *slog.Logger) int {
	cronLogger := cron.PrintfLogger(slogPrinter{logger})

	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
	))

	// Written from cron goroutines, read after shutdown.
	var worst atomic.Int64

	_, err := scheduler.AddFunc(schedule, func() {
		code := int64(runOnce(ctx, orchestrator, logger))
		for {
			seen := worst.Load()
			if code <= seen || worst.CompareAndSwap(seen, code) {
				break
			}
		}
	})
	if err != nil {
		logger.Error("invalid cron schedule",
			slog.String("schedule", schedule),
			slog.String("error", err.Error()),
		)

		return exitConfig
	}

	logger.Info("scheduled mode active", slog.String("schedule", schedule))
	scheduler.Start()

	<-ctx.Done()

	logger.Info("shutting down scheduler")
	<-scheduler.Stop().Done()

	return int(worst.Load())
}

// slogPrinter adapts slog to cron's printf-style logger.
type slogPrinter struct {
	logger *slog.Logger
}

func (p slogPrinter) Printf(format string, args ...any) {
	p.logger.Info(fmt.Sprintf(format, args...))
}
