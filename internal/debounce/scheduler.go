// Package debounce coalesces bursts of calls into a single deferred commit.
package debounce

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultDelay is the quiet period a pending job must survive before it commits.
const DefaultDelay = 1000 * time.Millisecond

// queueSize bounds jobs whose quiet period has closed but which have not been
// committed yet. A job closing while the queue is full is dropped.
const queueSize = 64

// Scheduler holds at most one pending job. Scheduling a new job cancels and
// replaces the pending one; a job commits only after the quiet period elapses
// without another Schedule call on the same Scheduler.
//
// Committed jobs are handed to a single worker goroutine, so commits run one
// at a time in the order their quiet periods closed.
type Scheduler[T any] struct {
	commit func(T)
	timer  *time.Timer
	queue  chan T
	done   chan struct{}
	delay   time.Duration
	dropped uint64
	token   uuid.UUID
	mu      sync.Mutex
	closed  bool
}

// New creates a Scheduler that calls commit with the last scheduled job once
// delay has passed quietly. A non-positive delay uses DefaultDelay.
func New[T any](delay time.Duration, commit func(T)) *Scheduler[T] {
	if delay <= 0 {
		delay = DefaultDelay
	}
	s := &Scheduler[T]{
		commit: commit,
		queue:  make(chan T, queueSize),
		done:   make(chan struct{}),
		delay:  delay,
	}
	go s.run()
	return s
}

// Schedule records job as the pending write, cancelling any earlier pending
// job. It returns false if the scheduler has been shut down.
func (s *Scheduler[T]) Schedule(job T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if s.timer != nil {
		s.timer.Stop()
		log.Debug().
			Str("token", s.token.String()).
			Msg("Pending job superseded")
	}

	token := uuid.New()
	s.token = token
	s.timer = time.AfterFunc(s.delay, func() {
		s.fire(token, job)
	})
	return true
}

// Pending reports whether a job is waiting for its quiet period.
func (s *Scheduler[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != uuid.Nil
}

// Delay returns the configured quiet period.
func (s *Scheduler[T]) Delay() time.Duration {
	return s.delay
}

// Dropped returns how many closed jobs were discarded because the commit
// worker was too far behind.
func (s *Scheduler[T]) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// fire hands the job to the commit worker if its token is still current.
// A timer whose Stop lost the race still runs; the token check drops it.
// The send never blocks, so a slow commit cannot stall Schedule or Shutdown.
func (s *Scheduler[T]) fire(token uuid.UUID, job T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.token != token {
		return
	}
	s.token = uuid.Nil
	s.timer = nil

	select {
	case s.queue <- job:
	default:
		s.dropped++
		log.Warn().
			Str("token", token.String()).
			Int("queued", len(s.queue)).
			Msg("Commit queue full, job dropped")
	}
}

// run commits queued jobs sequentially until the queue is closed.
func (s *Scheduler[T]) run() {
	defer close(s.done)
	for job := range s.queue {
		s.commit(job)
	}
}

// Shutdown cancels the pending job without committing it, rejects further
// Schedule calls, and waits until already-queued jobs have been committed.
// It is safe to call more than once.
func (s *Scheduler[T]) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		log.Debug().
			Str("token", s.token.String()).
			Msg("Pending job cancelled by shutdown")
	}
	s.token = uuid.Nil
	close(s.queue)
	s.mu.Unlock()

	<-s.done
}
