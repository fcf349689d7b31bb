package editor

import (
	"context"
	"sync"
	"time"
)

type task struct {
	timer *time.Timer
	fn    func()
}

// Scheduler runs at most one delayed task per key. Scheduling again before the
// task fires replaces it; a task that already fired runs to completion.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*task
	active  int
	idle    chan struct{}
	stopped bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[string]*task)}
}

// Schedule arms fn for key after delay. It returns false once the scheduler is stopped.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if prev, ok := s.pending[key]; ok && prev.timer.Stop() {
		s.finishLocked()
	}
	t := &task{fn: fn}
	s.beginLocked()
	s.pending[key] = t
	t.timer = time.AfterFunc(delay, func() { s.fire(key, t) })
	return true
}

func (s *Scheduler) fire(key string, t *task) {
	s.mu.Lock()
	if s.pending[key] == t {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	defer s.done()
	t.fn()
}

// Cancel drops the unfired task for key. It reports whether one was dropped.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[key]
	if !ok {
		return false
	}
	delete(s.pending, key)
	if t.timer.Stop() {
		s.finishLocked()
		return true
	}
	return false
}

// Pending reports whether key has a task that has not fired yet.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// FireAll runs every unfired task now instead of waiting for its delay.
func (s *Scheduler) FireAll() {
	s.mu.Lock()
	var due []*task
	for key, t := range s.pending {
		delete(s.pending, key)
		if t.timer.Stop() {
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		go func(t *task) {
			defer s.done()
			t.fn()
		}(t)
	}
}

// Wait blocks until no task is armed or running.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.active == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drops unfired tasks and rejects new ones. Running tasks are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.pending {
		delete(s.pending, key)
		if t.timer.Stop() {
			s.finishLocked()
		}
	}
}

func (s *Scheduler) beginLocked() {
	if s.active == 0 {
		s.idle = make(chan struct{})
	}
	s.active++
}

func (s *Scheduler) finishLocked() {
	s.active--
	if s.active == 0 {
		close(s.idle)
	}
}

func (s *Scheduler) done() {
	s.mu.Lock()
	s.finishLocked()
	s.mu.Unlock()
}
