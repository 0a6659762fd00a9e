package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"distributed-compressor/internal/config"
	"distributed-compressor/internal/job"
	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/models"
	"distributed-compressor/internal/queue"
	"distributed-compressor/internal/telemetry"
)

// Runner executes one attempt of a compression job. Owner is the lease
// owner token recorded on the job while it runs.
type Runner interface {
	Run(ctx context.Context, j models.Job) job.Result
	Owner() string
}

// Processor drives the worker execution loop.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	runner   Runner
	workerID string
	log      *logger.Logger
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, runner Runner, workerID string, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Discard()
	}
	return &Processor{
		cfg:      cfg,
		queue:    q,
		runner:   runner,
		workerID: workerID,
		log:      log.WithField("worker_id", workerID),
	}
}

// Run starts the maintenance loop and WORKER_CONCURRENCY consumers, and
// blocks until ctx is cancelled or one of them fails.
func (p *Processor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.maintain(ctx) })
	n := p.cfg.WorkerConcurrency
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		g.Go(func() error { return p.consume(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// maintain promotes due retries, reclaims expired in-flight jobs and
// publishes the queue depth.
func (p *Processor) maintain(ctx context.Context) error {
	interval := p.cfg.WorkerPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p.Tick(ctx, time.Now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one maintenance pass as of now.
func (p *Processor) Tick(ctx context.Context, now time.Time) {
	batch := int64(p.cfg.ScheduledBatchSize)
	if batch <= 0 {
		batch = 100
	}
	if n, err := p.queue.PromoteScheduled(ctx, now, batch); err != nil {
		p.log.WithError(err).Warn("promote scheduled failed")
	} else if n > 0 {
		p.log.WithField("count", n).Debug("promoted due retries")
	}
	reclaimed, err := p.queue.RequeueExpired(ctx, now, batch)
	if err != nil {
		p.log.WithError(err).Warn("requeue expired failed")
	}
	for _, path := range reclaimed {
		p.log.WithField("path", path).Warn("visibility expired, job redelivered")
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
}

func (p *Processor) consume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := p.queue.DequeueWithLease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.WithError(err).Warn("dequeue failed")
		}
		if err != nil || d.Path == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}
		p.Process(ctx, d)
	}
}

// Process runs one dequeued job and settles it on the queue: done jobs are
// acked, retries are rescheduled after the suggested delay and fatal ones
// are dead-lettered. A settle write that fails leaves the delivery in flight
// so visibility expiry redelivers it.
func (p *Processor) Process(ctx context.Context, d queue.Delivery) job.Result {
	path := d.Path
	log := p.log.WithField("path", path)
	j, found, err := p.queue.Get(ctx, path)
	if err != nil {
		log.WithError(err).Warn("load job metadata failed")
	}
	if !found {
		j = models.Job{Path: path, Size: -1, DiscoveredAt: time.Now()}
	}
	if err := p.queue.MarkRunning(ctx, path, p.runner.Owner()); err != nil {
		log.WithError(err).Warn("mark running failed")
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	stop := p.heartbeat(ctx, d)
	start := time.Now()
	res := p.runner.Run(ctx, j)
	stop()
	telemetry.ObserveResult(res.Kind.String(), res.Reason, time.Since(start).Seconds())

	if ctx.Err() != nil {
		// Shutting down: leave the job in flight so visibility expiry redelivers it.
		log.Info("shutdown during job, leaving for redelivery")
		return res
	}
	p.settle(ctx, d, j, res, log)
	return res
}

func (p *Processor) settle(ctx context.Context, d queue.Delivery, j models.Job, res job.Result, log *logger.Logger) {
	switch res.Kind {
	case job.Succeeded, job.Skipped:
		status := models.StatusSucceeded
		if res.Kind == job.Skipped {
			status = models.StatusSkipped
		}
		if err := p.queue.Ack(ctx, d); err != nil {
			log.WithError(err).Warn("ack failed")
		}
		if err := p.queue.MarkDone(ctx, j.Path, status); err != nil {
			log.WithError(err).Warn("mark done failed")
		}
		log.WithField("status", status).Info("job finished")
	case job.Retry:
		attempts := j.Attempts + 1
		msg := res.Reason
		if res.Err != nil {
			msg = res.Err.Error()
		}
		_ = p.queue.RecordAttempt(ctx, j.Path, attempts, msg)
		if p.cfg.MaxAttempts > 0 && attempts >= p.cfg.MaxAttempts {
			p.deadLetter(ctx, d, "max attempts exhausted: "+msg, log)
			return
		}
		nextRun := time.Now().Add(res.Delay)
		if err := p.queue.Retry(ctx, d, nextRun); err != nil {
			log.WithError(err).Error("schedule retry failed")
			return
		}
		log.WithFields(logger.Fields{"attempts": attempts, "next_run": nextRun.UTC().Format(time.RFC3339)}).Info("retry scheduled")
	case job.Fatal:
		msg := res.Reason
		if res.Err != nil {
			msg = res.Reason + ": " + res.Err.Error()
		}
		p.deadLetter(ctx, d, msg, log)
	}
}

func (p *Processor) deadLetter(ctx context.Context, d queue.Delivery, reason string, log *logger.Logger) {
	if err := p.queue.DeadLetter(ctx, d, reason); err != nil {
		log.WithError(err).Error("dead letter failed")
		return
	}
	log.WithField("reason", reason).Error("job dead-lettered")
}

// heartbeat keeps the in-flight entry visible while a job runs. The returned
// func stops it and waits for the goroutine to exit.
func (p *Processor) heartbeat(ctx context.Context, d queue.Delivery) func() {
	visibility := p.queue.Visibility()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(visibility / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.queue.ExtendVisibility(ctx, d, visibility); err != nil && ctx.Err() == nil {
					p.log.WithError(err).WithField("path", d.Path).Warn("extend visibility failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
