// Package scheduler is the Scheduler of SPEC_FULL §4.4: a FIFO queue
// plus an admission ceiling. It admits jobs up to maxConcurrent,
// transitions queued-and-canceled jobs out of the queue, and drains
// as running jobs finish.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/queuectl/jobrunner/internal/job"
	"github.com/queuectl/jobrunner/internal/store"
)

// Executor runs one job to terminal status. Run blocks the calling
// goroutine until the job reaches a terminal state.
type Executor interface {
	Run(ctx context.Context, handle *job.Handle, script job.Script)
}

type entry struct {
	handle *job.Handle
	script job.Script
}

// Scheduler serializes all mutation of the queue and admission state
// behind its own mutex, per the "all mutations... are serialized"
// requirement of spec.md §5.
type Scheduler struct {
	mu    sync.Mutex
	queue []entry
	sem   *semaphore.Weighted

	exec   Executor
	store  *store.Store
	logger *zap.Logger
}

// New builds a Scheduler that admits at most maxConcurrent jobs at
// once, handing admitted jobs to exec.
func New(maxConcurrent int, exec Executor, st *store.Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		exec:   exec,
		store:  st,
		logger: logger,
	}
}

// Enqueue appends (handle, script) to the FIFO queue and attempts to
// drain immediately.
func (s *Scheduler) Enqueue(handle *job.Handle, script job.Script) {
	s.mu.Lock()
	s.queue = append(s.queue, entry{handle: handle, script: script})
	s.mu.Unlock()
	s.drain()
}

// drain never blocks on external I/O: semaphore admission is a
// non-blocking TryAcquire, and persistence is the Job Store's own
// best-effort write.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}

		head := s.queue[0]
		if head.handle.IsCancelRequested() {
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.finalizeQueuedCancel(head.handle)
			continue
		}

		if !s.sem.TryAcquire(1) {
			s.mu.Unlock()
			return
		}

		s.queue = s.queue[1:]
		s.mu.Unlock()

		now := time.Now().UTC()
		snapshot := head.handle.Mutate(func(r *job.Record) {
			r.Status = job.StatusRunning
			r.StartedAt = &now
		})
		s.store.Update(snapshot)

		go s.run(head)
	}
}

func (s *Scheduler) finalizeQueuedCancel(h *job.Handle) {
	now := time.Now().UTC()
	var zero int64
	_, snapshot := h.TryFinish(func(r *job.Record) {
		r.Status = job.StatusCanceled
		code := -1
		r.Code = &code
		r.StartedAt = nil
		r.EndedAt = &now
		r.DurationMs = &zero
	})
	if snapshot != nil {
		s.store.Update(snapshot)
	}
}

func (s *Scheduler) run(e entry) {
	s.exec.Run(context.Background(), e.handle, e.script)
	s.onJobDone()
}

func (s *Scheduler) onJobDone() {
	s.sem.Release(1)
	s.drain()
}
