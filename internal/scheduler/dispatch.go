package scheduler

import (
	"context"
	"time"

	"distributed-compressor/internal/job"
	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/models"
	"distributed-compressor/internal/telemetry"
)

// Runner executes one attempt of a compression job.
type Runner interface {
	Run(ctx context.Context, j models.Job) job.Result
}

// Dispatcher feeds jobs through a Scheduler and resubmits retryable results
// after their backoff delay. It stands in for the broker when a single
// process does all the work.
type Dispatcher struct {
	ctx    context.Context
	sched  *Scheduler
	runner Runner
	log    *logger.Logger

	// OnResult, when set, observes every finished attempt.
	OnResult func(models.Job, job.Result)
	// After schedules a retry; defaults to time.AfterFunc.
	After func(d time.Duration, f func())
}

// NewDispatcher admits at most limit concurrent jobs.
func NewDispatcher(ctx context.Context, limit int, runner Runner, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Discard()
	}
	d := &Dispatcher{
		ctx:    ctx,
		runner: runner,
		log:    log,
		After:  func(dl time.Duration, f func()) { time.AfterFunc(dl, f) },
	}
	d.sched = New(ctx, limit, Hooks{
		OnStart: publishCounts,
		OnDone:  publishCounts,
	})
	return d
}

func publishCounts(running, waiting int) {
	telemetry.InFlightGauge.Set(float64(running))
	telemetry.WaitingGauge.Set(float64(waiting))
}

// Submit queues j for admission.
func (d *Dispatcher) Submit(j models.Job) {
	if d.ctx.Err() != nil {
		return
	}
	telemetry.SubmitCounter.Inc()
	d.sched.Submit(func(ctx context.Context) { d.run(ctx, j) })
}

// Scheduler exposes the underlying admission scheduler.
func (d *Dispatcher) Scheduler() *Scheduler { return d.sched }

func (d *Dispatcher) run(ctx context.Context, j models.Job) {
	start := time.Now()
	res := d.runner.Run(ctx, j)
	telemetry.ObserveResult(res.Kind.String(), res.Reason, time.Since(start).Seconds())
	if d.OnResult != nil {
		d.OnResult(j, res)
	}

	log := d.log.WithFields(logger.Fields{"path": j.Path, "result": res.Kind.String()})
	switch res.Kind {
	case job.Retry:
		if ctx.Err() != nil {
			return
		}
		next := j
		next.Attempts++
		if res.Err != nil {
			msg := res.Err.Error()
			next.LastError = &msg
		}
		log.WithFields(logger.Fields{"reason": res.Reason, "delay": res.Delay.String()}).Debug("resubmitting after delay")
		d.After(res.Delay, func() { d.Submit(next) })
	case job.Fatal:
		log.WithField("reason", res.Reason).WithError(res.Err).Error("job failed permanently")
	default:
		log.Debug("job finished")
	}
}
