// Package scheduler bounds how many jobs run at once in a single process,
// promoting waiting jobs in arrival order.
package scheduler

import (
	"container/list"
	"context"
	"sync"
)

// Task is a unit of work admitted by the scheduler.
type Task func(ctx context.Context)

// Hooks observe admission and completion. All fields are optional and are
// called without the scheduler lock held.
type Hooks struct {
	OnStart func(running, waiting int)
	OnDone  func(running, waiting int)
}

// Scheduler runs at most Limit tasks concurrently; the rest wait FIFO.
type Scheduler struct {
	ctx   context.Context
	limit int
	hooks Hooks

	mu      sync.Mutex
	running int
	waiting *list.List
	idle    *sync.Cond
}

// New builds a scheduler; tasks receive ctx.
func New(ctx context.Context, limit int, hooks Hooks) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	s := &Scheduler{ctx: ctx, limit: limit, hooks: hooks, waiting: list.New()}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Submit starts task now if a slot is free, otherwise queues it.
func (s *Scheduler) Submit(task Task) {
	s.mu.Lock()
	if s.running >= s.limit {
		s.waiting.PushBack(task)
		s.mu.Unlock()
		return
	}
	s.running++
	running, waiting := s.running, s.waiting.Len()
	s.mu.Unlock()
	s.start(task, running, waiting)
}

func (s *Scheduler) start(task Task, running, waiting int) {
	if s.hooks.OnStart != nil {
		s.hooks.OnStart(running, waiting)
	}
	go s.run(task)
}

func (s *Scheduler) run(task Task) {
	defer s.complete()
	task(s.ctx)
}

// complete frees the slot, or hands it straight to the oldest waiter so the
// running count never exceeds the limit.
func (s *Scheduler) complete() {
	s.mu.Lock()
	var next Task
	if front := s.waiting.Front(); front != nil {
		next = s.waiting.Remove(front).(Task)
	} else {
		s.running--
	}
	running, waiting := s.running, s.waiting.Len()
	if running == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()

	if s.hooks.OnDone != nil {
		s.hooks.OnDone(running, waiting)
	}
	if next != nil {
		s.start(next, running, waiting)
	}
}

// Counts returns the number of running and waiting tasks.
func (s *Scheduler) Counts() (running, waiting int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.waiting.Len()
}

// Wait blocks until no task is running or waiting.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.running > 0 || s.waiting.Len() > 0 {
		s.idle.Wait()
	}
}
