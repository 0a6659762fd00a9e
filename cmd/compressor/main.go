// compressor runs the whole pipeline in one process: it follows an event
// source and compresses closed files with at most MAX_CONCURRENT jobs at
// once, coordinating through an in-memory store instead of Redis.
//
//	compressor [flags] <event-source>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"distributed-compressor/internal/config"
	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/events"
	"distributed-compressor/internal/job"
	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/models"
	"distributed-compressor/internal/scheduler"
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

	flagSet := pflag.NewFlagSet("compressor", pflag.ContinueOnError)
	flagSet.IntVarP(&cfg.MaxConcurrent, "max-concurrent", "k", cfg.MaxConcurrent, "jobs running at once")
	flagSet.Int64Var(&cfg.MinFileSize, "min-size", cfg.MinFileSize, "ignore closed files smaller than this many bytes (0 disables)")
	flagSet.BoolVar(&cfg.TailFromStart, "from-start", cfg.TailFromStart, "read the event source from the beginning instead of its end")
	printLogs := flagSet.Bool("print-logs", true, "print log channel messages to stdout")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: compressor [flags] <event-source>\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return fmt.Errorf("expected exactly one event source, got %d arguments", flagSet.NArg())
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}
	source := flagSet.Arg(0)

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile, Service: "compressor"})
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := coord.NewMemoryStore()
	coordinator, hub, err := job.FromConfig(cfg, store, log)
	if err != nil {
		return err
	}
	if *printLogs {
		go func() {
			_ = hub.Listen(ctx, func(msg string) { fmt.Println(msg) })
		}()
	}

	dispatcher := scheduler.NewDispatcher(ctx, cfg.MaxConcurrent, coordinator, log)

	tailer := events.NewTailer(source, log)
	tailer.FromStart = cfg.TailFromStart
	tailer.PollMin = cfg.TailPollMin
	tailer.PollMax = cfg.TailPollMax

	log.WithFields(logger.Fields{"source": source, "max_concurrent": cfg.MaxConcurrent}).Info("compressor started")
	err = tailer.Follow(ctx, events.Filter{MinSize: cfg.MinFileSize}, func(ev events.Event) error {
		path, err := filepath.Abs(ev.Path)
		if err != nil {
			log.WithError(err).WithField("path", ev.Path).Warn("cannot resolve path, skipping")
			return nil
		}
		dispatcher.Submit(models.Job{Path: path, DiscoveredAt: time.Now(), Size: ev.Size})
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return err
	}

	log.Info("waiting for running jobs")
	dispatcher.Scheduler().Wait()
	log.Info("compressor stopped")
	return nil
}
