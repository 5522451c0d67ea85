// Command reindex migrates indices from a source Elasticsearch cluster into a
// target cluster using server-side reindex tasks, then republishes aliases.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/catalog"
	"github.com/getpup/reindex-orchestrator/config"
	"github.com/getpup/reindex-orchestrator/coordinator"
	"github.com/getpup/reindex-orchestrator/logging"
	"github.com/getpup/reindex-orchestrator/metrics"
	"github.com/getpup/reindex-orchestrator/migrate"
	"github.com/getpup/reindex-orchestrator/notify"
	"github.com/getpup/reindex-orchestrator/progress"
	"github.com/getpup/reindex-orchestrator/remote/elastic"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
)

const (
	exitOK          = 0
	exitUnitsFailed = 1
	exitError       = 2
)

func main() {
	opts, err := config.Load(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(exitOK)
		}
		os.Exit(exitError)
	}

	logger, err := logging.New(logging.Options{Level: opts.Ops.LogLevel, Format: logging.Format(opts.Ops.LogFormat)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, opts, logger)
	if err != nil {
		logger.Error(ctx, "migration aborted", "error", err)
		stop()
		os.Exit(exitError)
	}
	if !summary.Succeeded() {
		stop()
		os.Exit(exitUnitsFailed)
	}
}

func run(ctx context.Context, opts *config.Options, logger logging.Logger) (orchestrator.Summary, error) {
	if err := opts.Validate(); err != nil {
		return orchestrator.Summary{}, err
	}
	cutoff, err := opts.CutoffTime()
	if err != nil {
		return orchestrator.Summary{}, err
	}

	es, err := elastic.NewES(opts.Target.URLs, opts.Target.Username, opts.Target.Password)
	if err != nil {
		return orchestrator.Summary{}, err
	}
	client := elastic.New(elastic.Config{
		ES: es,
		Source: elastic.RemoteSource{
			Host:     opts.Source.URL,
			Username: opts.Source.Username,
			Password: opts.Source.Password,
		},
		BatchSize: opts.Target.BatchSize,
	})

	ledger, closeLedger, err := openLedger(ctx, opts.Ledger)
	if err != nil {
		return orchestrator.Summary{}, err
	}
	defer closeLedger()

	publisher := notify.Nop()
	if opts.Notify.KafkaBrokers != "" {
		k, err := notify.NewKafka(notify.KafkaConfig{Brokers: opts.Notify.KafkaBrokers, Topic: opts.Notify.KafkaTopic})
		if err != nil {
			return orchestrator.Summary{}, err
		}
		publisher = k
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn(ctx, "failed to close publisher", "error", err)
		}
	}()

	cat, err := loadCatalog(opts.Job.Catalog)
	if err != nil {
		return orchestrator.Summary{}, err
	}

	build := catalog.BuildConfig{
		SourceScope:   opts.Source.Scope,
		Scope:         opts.Target.Scope,
		RetentionDays: opts.Job.RetentionDays,
		IndexCreator:  client,
	}
	if opts.Job.Resume {
		done, err := coordinator.New(coordinator.Config{Store: ledger, Logger: logger}, opts.Job.Name).CompletedTargets(ctx)
		if err != nil {
			return orchestrator.Summary{}, err
		}
		build.Skip = done
	}

	cache := elastic.NewAliasCache()
	metricsEnabled := opts.MetricsEnabled()
	reporter := progress.New(progress.Config{Interval: opts.Policy.ReportInterval, Logger: logger})

	job := migrate.New(migrate.Config{
		Client:         client,
		Items:          cat.Build(build),
		Cutoff:         cutoff,
		Cache:          cache,
		Aliases:        elastic.NewAliasMaintainer(client, cat.AliasPlan(build), cache),
		Ledger:         ledger,
		Publisher:      publisher,
		Reporter:       reporter,
		JobName:        opts.Job.Name,
		MaxConcurrency: opts.Policy.MaxConcurrency,
		MaxAttempts:    opts.Policy.MaxAttempts,
		MaxErrors:      opts.Policy.MaxErrors,
		ThrottleDelay:  opts.Policy.ThrottleDelay,
		RetryBackoff:   opts.Policy.RetryBackoff,
		PollInterval:   opts.Policy.PollInterval,
		ReportInterval: opts.Policy.ReportInterval,
		Logger:         logger,
		MetricsEnabled: &metricsEnabled,
	})

	g, gctx := errgroup.WithContext(ctx)
	jobDone := make(chan struct{})

	var summary orchestrator.Summary
	g.Go(func() error {
		defer close(jobDone)
		s, err := job.Run(gctx)
		summary = s
		return err
	})

	if metricsEnabled {
		server := metrics.NewServer(opts.Ops.MetricsAddr, reporter)
		server.Start()
		g.Go(func() error {
			return superviseServer(gctx, server, jobDone)
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

// superviseServer shuts server down once the job is done and fails the group if the server dies.
func superviseServer(ctx context.Context, server *metrics.Server, jobDone <-chan struct{}) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}

	for {
		select {
		case <-jobDone:
			return shutdown()
		case <-ctx.Done():
			return shutdown()
		case <-ticker.C:
			if err := server.Err(); err != nil {
				_ = shutdown()
				return fmt.Errorf("metrics server failed: %w", err)
			}
		}
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	c, err := catalog.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("catalog %s does not exist", path)
	}
	return c, err
}
