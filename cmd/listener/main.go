// listener prints every message published on the compression log channel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"distributed-compressor/internal/config"
	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/progress"
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
	flagSet := pflag.NewFlagSet("listener", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.LogChannel, "channel", cfg.LogChannel, "channel to subscribe to")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr, Service: "listener"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := coord.NewRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	hub := progress.NewHub(coord.NewRedisStore(client), cfg.LogChannel, cfg.ProgressPrefix, cfg.ProgressHistory, log)
	log.WithField("channel", cfg.LogChannel).Info("listening")
	err = hub.Listen(ctx, func(msg string) { fmt.Println(msg) })
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
