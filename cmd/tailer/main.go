// tailer follows a live event source and submits every closed file it
// reports to the shared compression queue.
//
//	tailer [flags] <event-source>
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"distributed-compressor/internal/config"
	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/events"
	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/queue"
	"distributed-compressor/internal/ratelimit"
	"distributed-compressor/internal/telemetry"
)

const dispatchKey = "rl:dispatch"

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

	flagSet := pflag.NewFlagSet("tailer", pflag.ContinueOnError)
	fromStart := flagSet.Bool("from-start", cfg.TailFromStart, "read the event source from the beginning instead of its end")
	minSize := flagSet.Int64("min-size", cfg.MinFileSize, "ignore closed files smaller than this many bytes (0 disables)")
	metricsAddr := flagSet.String("metrics-addr", "", "serve /metrics on this address")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: tailer [flags] <event-source>\n")
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
	source := flagSet.Arg(0)

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile, Service: "tailer"})
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := coord.NewRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	q := queue.NewRedisQueue(client, cfg)

	var bucket *ratelimit.TokenBucket
	if cfg.DispatchRateCapacity > 0 {
		bucket = ratelimit.NewTokenBucket(client, cfg.DispatchRateCapacity, cfg.DispatchRateRefill, time.Hour)
	}

	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, telemetry.Handler()); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	tailer := events.NewTailer(source, log)
	tailer.FromStart = *fromStart
	tailer.PollMin = cfg.TailPollMin
	tailer.PollMax = cfg.TailPollMax

	log.WithFields(logger.Fields{"source": source, "min_size": *minSize}).Info("tailer started")
	err = tailer.Follow(ctx, events.Filter{MinSize: *minSize}, func(ev events.Event) error {
		path, err := filepath.Abs(ev.Path)
		if err != nil {
			log.WithError(err).WithField("path", ev.Path).Warn("cannot resolve path, skipping")
			return nil
		}
		if bucket != nil {
			if err := bucket.Wait(ctx, dispatchKey, telemetry.RateLimitRejects.Inc); err != nil {
				return err
			}
		}
		if err := q.Submit(ctx, path, ev.Size, time.Now()); err != nil {
			return fmt.Errorf("submit %s: %w", path, err)
		}
		telemetry.SubmitCounter.Inc()
		log.WithFields(logger.Fields{"path": path, "size": ev.Size}).Info("job submitted")
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("tailer stopped")
	return nil
}
