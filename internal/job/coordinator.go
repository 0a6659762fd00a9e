package job

import (
	"context"
	"errors"

	"distributed-compressor/internal/lease"
	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/models"
	"distributed-compressor/internal/pipeline"
	"distributed-compressor/internal/progress"
)

// replayOnDeny is how many progress entries are republished when another
// worker holds the lease.
const replayOnDeny = 2

// Coordinator is the per-file unit of work. It holds no per-job state, so one
// instance serves any number of concurrent jobs.
type Coordinator struct {
	leases   *lease.Manager
	pipeline *pipeline.Pipeline
	hub      *progress.Hub
	backoff  Backoff
	owner    string
	log      *logger.Logger
}

// NewCoordinator wires the lease guard, pipeline and progress hub.
func NewCoordinator(leases *lease.Manager, p *pipeline.Pipeline, hub *progress.Hub, backoff Backoff, owner string, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	return &Coordinator{leases: leases, pipeline: p, hub: hub, backoff: backoff, owner: owner, log: log}
}

// Owner is the token this coordinator writes into every lease it takes.
func (c *Coordinator) Owner() string { return c.owner }

// Run processes j once and classifies the result.
func (c *Coordinator) Run(ctx context.Context, j models.Job) Result {
	log := c.log.WithFields(logger.Fields{"path": j.Path, "owner": c.owner, "attempt": j.Attempts + 1})
	rep := c.hub.For(j.Path, log)

	done, err := c.pipeline.Done(j.Path)
	if err != nil {
		return c.classify(ctx, j, rep, log, err, false)
	}
	if done {
		rep.Log(ctx, "Already processed and removed")
		return Result{Kind: Skipped}
	}

	var outcome pipeline.Outcome
	var lost bool
	acquired, err := c.leases.Hold(ctx, c.leases.Key(j.Path), c.owner, func(ctx context.Context, l *lease.Lease) error {
		log.Debug("lease acquired")
		var runErr error
		outcome, runErr = c.pipeline.Run(ctx, j.Path, rep, func() bool { return !l.IsLost() })
		lost = l.IsLost()
		return runErr
	})
	if !acquired {
		if err != nil {
			return c.retry(j, log, ReasonStore, err)
		}
		rep.Log(ctx, "Already being processed, checking progress...")
		rep.Replay(ctx, replayOnDeny)
		return c.retry(j, log, ReasonLeaseDenied, nil)
	}
	if err != nil || lost {
		return c.classify(ctx, j, rep, log, err, lost)
	}
	if outcome == pipeline.AlreadyDone {
		return Result{Kind: Skipped}
	}
	log.Info("compressed and verified")
	return Result{Kind: Succeeded}
}

func (c *Coordinator) classify(ctx context.Context, j models.Job, rep *progress.Reporter, log *logger.Logger, err error, lost bool) Result {
	switch {
	case pipeline.IsIntegrity(err):
		log.WithError(err).Error("integrity failure, original preserved")
		rep.Log(ctx, "INTEGRITY FAILURE: "+err.Error())
		return Result{Kind: Fatal, Reason: ReasonHashMismatch, Err: err}
	case errors.Is(err, pipeline.ErrSourceMissing):
		log.WithError(err).Error("nothing to compress")
		return Result{Kind: Fatal, Reason: ReasonSourceGone, Err: err}
	case lost || errors.Is(err, pipeline.ErrLeaseLost):
		if err == nil {
			err = pipeline.ErrLeaseLost
		}
		log.WithError(err).Error("lease lost mid-job, result discarded")
		rep.Log(ctx, "Lease lost, abandoning attempt")
		return c.retry(j, log, ReasonLeaseLost, err)
	default:
		return c.retry(j, log, ReasonCompression, err)
	}
}

func (c *Coordinator) retry(j models.Job, log *logger.Logger, reason string, err error) Result {
	delay := c.backoff.Delay(j.Attempts + 1)
	entry := log.WithFields(logger.Fields{"reason": reason, "delay": delay.String()})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("retry scheduled")
	return Result{Kind: Retry, Reason: reason, Err: err, Delay: delay}
}
