package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ligustah/cdnmirror/internal/config"
	"github.com/ligustah/cdnmirror/internal/downloader"
	"github.com/ligustah/cdnmirror/internal/filter"
	mirrorhttp "github.com/ligustah/cdnmirror/internal/http"
	"github.com/ligustah/cdnmirror/internal/logging"
	"github.com/ligustah/cdnmirror/internal/manifest"
	"github.com/ligustah/cdnmirror/internal/progress"
	"github.com/ligustah/cdnmirror/internal/storage"
)

// mirror resolves the manifest, selects resources and downloads them into
// cfg.Output. Startup and resolution errors abort before any download.
func mirror(ctx context.Context, cfg config.Config, dryRun bool, stdout, stderr io.Writer) int {
	runID := zap.String("run_id", uuid.NewString())
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	logger = logger.With(runID)
	defer logger.Sync()

	predicate, err := filter.Load(cfg.FileList)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	httpOpts := mirrorhttp.DefaultOptions()
	httpOpts.Timeout = cfg.Timeout
	httpOpts.UserAgent = cfg.UserAgent
	if cfg.Concurrency*2 > httpOpts.MaxIdleConnsPerHost {
		httpOpts.MaxIdleConnsPerHost = cfg.Concurrency * 2
	}
	client := mirrorhttp.NewClient(httpOpts)

	logger.Info("resolving manifest", zap.String("index_url", cfg.IndexURL))
	resolved, err := manifest.NewResolver(client).Resolve(ctx, cfg.IndexURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitResolveFailed
	}

	fmt.Fprintf(stdout, "Version: %s\n", resolved.Version)
	fmt.Fprintf(stdout, "Resources: %d\n", len(resolved.Resources))

	var selected []manifest.Resource
	var totalSize int64
	for _, res := range resolved.Resources {
		if predicate.Match(res.Dest) {
			selected = append(selected, res)
			totalSize += res.Size
		}
	}
	targets := downloader.Plan(downloader.Descriptors(selected), resolved.BaseURL)

	logger.Info("manifest resolved",
		zap.String("version", resolved.Version),
		zap.String("manifest_url", resolved.ManifestURL),
		zap.Int("resources", len(resolved.Resources)),
		zap.Int("selected", len(targets)),
		zap.Int64("bytes", totalSize),
	)

	sink, err := storage.Open(ctx, cfg.Output)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening output: %v\n", err)
		return ExitStorageError
	}
	defer sink.Close()

	if dryRun {
		for _, t := range targets {
			fmt.Fprintf(stdout, "%s -> %s (%s)\n", t.URL, sink.Location(t.Path), progress.FormatBytes(t.Size))
		}
		return ExitSuccess
	}

	if local, ok := sink.(*storage.Local); ok {
		if err := local.CheckWritable(); err != nil {
			fmt.Fprintf(stderr, "Error: output not writable: %v\n", err)
			return ExitStorageError
		}
	}

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalSize:  totalSize,
			TotalFiles: len(targets),
			Workers:    cfg.Concurrency,
			Output:     stderr,
		})
		reporter.Start()

		// Logs go through the reporter while bars are live.
		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat, reporter.Writer())
		if err != nil {
			reporter.Stop()
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
		logger = logger.With(runID)
	}

	start := time.Now()
	results := downloader.Run(ctx, targets, sink, downloader.Options{
		Concurrency: cfg.Concurrency,
		BufferSize:  int(cfg.BufferSize),
		Client:      client,
		Progress:    reporter,
		Logger:      logger,
	})
	if reporter != nil {
		reporter.Stop()
	}

	summary := downloader.Summarize(results)
	logger.Info("mirror finished",
		zap.Int("files", summary.Files),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int64("bytes", summary.Bytes),
		zap.Duration("elapsed", time.Since(start)),
	)

	if summary.OK() {
		return ExitSuccess
	}

	fmt.Fprintf(stderr, "[cdnmirror] %d of %d downloads failed:\n", summary.Failed, summary.Files)
	for _, r := range summary.Failures {
		fmt.Fprintf(stderr, "  %s: %v\n", r.Target.URL, r.Err)
	}
	if cfg.AllowFailures {
		return ExitSuccess
	}
	return ExitDownloadFailed
}
