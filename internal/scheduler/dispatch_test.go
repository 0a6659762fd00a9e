package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-compressor/internal/job"
	"distributed-compressor/internal/models"
)

// scriptedRunner returns the queued results for a path in order, then Succeeded.
type scriptedRunner struct {
	mu       sync.Mutex
	script   map[string][]job.Result
	attempts map[string][]int
}

func (r *scriptedRunner) Run(_ context.Context, j models.Job) job.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[j.Path] = append(r.attempts[j.Path], j.Attempts)
	if queued := r.script[j.Path]; len(queued) > 0 {
		r.script[j.Path] = queued[1:]
		return queued[0]
	}
	return job.Result{Kind: job.Succeeded}
}

func (r *scriptedRunner) seen(path string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.attempts[path]...)
}

func TestDispatcherResubmitsRetries(t *testing.T) {
	runner := &scriptedRunner{
		script: map[string][]job.Result{
			"/data/a": {
				{Kind: job.Retry, Reason: job.ReasonLeaseDenied, Delay: time.Second},
				{Kind: job.Retry, Reason: job.ReasonCompression, Delay: 2 * time.Second},
			},
		},
		attempts: map[string][]int{},
	}
	d := NewDispatcher(context.Background(), 2, runner, nil)
	var mu sync.Mutex
	var delays []time.Duration
	d.After = func(dl time.Duration, f func()) {
		mu.Lock()
		delays = append(delays, dl)
		mu.Unlock()
		go f()
	}

	d.Submit(models.Job{Path: "/data/a"})
	require.Eventually(t, func() bool { return len(runner.seen("/data/a")) == 3 }, time.Second, time.Millisecond)
	d.Scheduler().Wait()

	assert.Equal(t, []int{0, 1, 2}, runner.seen("/data/a"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDispatcherDoesNotRetryFatal(t *testing.T) {
	runner := &scriptedRunner{
		script: map[string][]job.Result{
			"/data/bad": {{Kind: job.Fatal, Reason: job.ReasonHashMismatch}},
		},
		attempts: map[string][]int{},
	}
	d := NewDispatcher(context.Background(), 1, runner, nil)
	retried := false
	d.After = func(time.Duration, func()) { retried = true }
	results := make(chan job.Result, 1)
	d.OnResult = func(_ models.Job, res job.Result) { results <- res }

	d.Submit(models.Job{Path: "/data/bad"})
	res := <-results
	d.Scheduler().Wait()

	assert.Equal(t, job.Fatal, res.Kind)
	assert.False(t, retried)
	assert.Len(t, runner.seen("/data/bad"), 1)
}

func TestDispatcherStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &scriptedRunner{script: map[string][]job.Result{}, attempts: map[string][]int{}}
	d := NewDispatcher(ctx, 1, runner, nil)
	cancel()

	d.Submit(models.Job{Path: "/data/a"})
	d.Scheduler().Wait()
	assert.Empty(t, runner.seen("/data/a"))
}
