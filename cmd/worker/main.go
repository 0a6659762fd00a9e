package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	api "distributed-compressor/internal/api"
	"distributed-compressor/internal/config"
	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/job"
	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/queue"
	workerproc "distributed-compressor/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flagSet := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "status API address (empty disables)")
	flagSet.IntVar(&cfg.WorkerConcurrency, "concurrency", cfg.WorkerConcurrency, "jobs processed at once")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile, Service: "worker"})
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := coord.NewRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	coordinator, hub, err := job.FromConfig(cfg, coord.NewRedisStore(client), log)
	if err != nil {
		return err
	}
	q := queue.NewRedisQueue(client, cfg)

	workerID := cfg.WorkerID
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}
	processor := workerproc.NewProcessor(cfg, q, coordinator, workerID, log)

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{Addr: cfg.HTTPAddr, Handler: api.New(q, hub, log).Router()}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("status api stopped")
			}
		}()
	}

	log.WithFields(logger.Fields{
		"visibility":      cfg.VisibilityTimeout.String(),
		"lease_ttl":       cfg.LeaseTTL.String(),
		"backoff_initial": cfg.BackoffInitial.String(),
		"concurrency":     cfg.WorkerConcurrency,
		"verify":          cfg.VerifyMode,
	}).Info("worker started")
	err = processor.Run(ctx)

	if httpServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	log.Info("worker stopped")
	return nil
}
