package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuectl/jobrunner/internal/job"
	"github.com/queuectl/jobrunner/internal/store"
)

// fakeExecutor completes every job immediately as succeeded, after
// optionally blocking until released, so tests can control exactly
// when a job finishes.
type fakeExecutor struct {
	mu      sync.Mutex
	release map[string]chan struct{}
	started chan string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{release: make(map[string]chan struct{}), started: make(chan string, 16)}
}

func (f *fakeExecutor) hold(jobID string) {
	f.mu.Lock()
	f.release[jobID] = make(chan struct{})
	f.mu.Unlock()
}

func (f *fakeExecutor) unblock(jobID string) {
	f.mu.Lock()
	ch := f.release[jobID]
	f.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (f *fakeExecutor) Run(ctx context.Context, h *job.Handle, script job.Script) {
	snap := h.Snapshot()
	f.started <- snap.JobID

	f.mu.Lock()
	ch := f.release[snap.JobID]
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}

	h.TryFinish(func(r *job.Record) {
		r.Status = job.StatusSucceeded
		zero := 0
		r.Code = &zero
	})
}

func newTestScheduler(t *testing.T, maxConcurrent int, exec Executor) *Scheduler {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "jobstore.json"), nil)
	require.NoError(t, err)
	return New(maxConcurrent, exec, st, nil)
}

func newQueuedHandle(id string) *job.Handle {
	return job.NewHandle(&job.Record{JobID: id, Status: job.StatusQueued, CreatedAt: time.Now().UTC()})
}

func TestAdmitsUpToMaxConcurrent(t *testing.T) {
	exec := newFakeExecutor()
	exec.hold("a")
	exec.hold("b")
	exec.hold("c")
	sched := newTestScheduler(t, 2, exec)

	sched.Enqueue(newQueuedHandle("a"), job.Script{ID: "s"})
	sched.Enqueue(newQueuedHandle("b"), job.Script{ID: "s"})
	sched.Enqueue(newQueuedHandle("c"), job.Script{ID: "s"})

	started := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-exec.started:
			started[id] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for admission")
		}
	}
	assert.Len(t, started, 2)
	assert.False(t, started["c"], "third job must not start before a slot frees")

	exec.unblock("a")
	select {
	case id := <-exec.started:
		assert.Equal(t, "c", id)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drained admission")
	}
	exec.unblock("b")
	exec.unblock("c")
}

func TestQueuedCancelNeverRuns(t *testing.T) {
	exec := newFakeExecutor()
	exec.hold("running")
	sched := newTestScheduler(t, 1, exec)

	sched.Enqueue(newQueuedHandle("running"), job.Script{ID: "s"})
	select {
	case <-exec.started:
	case <-time.After(time.Second):
		t.Fatal("first job never started")
	}

	queuedHandle := newQueuedHandle("queued")
	sched.Enqueue(queuedHandle, job.Script{ID: "s"})
	snap, _ := queuedHandle.RequestCancel()
	assert.Equal(t, job.StatusQueued, snap.Status, "cancel on a still-queued job only flags it")

	exec.unblock("running")
	// Give the scheduler a moment to drain the canceled head.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := queuedHandle.Snapshot(); s.Status == job.StatusCanceled {
			assert.Nil(t, s.StartedAt)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queued job was never transitioned to canceled")
}
