// Package runner composes the Validator, Job Store, Log Sink,
// Scheduler, and Executor behind the four operations of SPEC_FULL
// §6.1 — the only surface the HTTP adapter depends on.
package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/queuectl/jobrunner/internal/config"
	"github.com/queuectl/jobrunner/internal/executor"
	"github.com/queuectl/jobrunner/internal/job"
	"github.com/queuectl/jobrunner/internal/logsink"
	"github.com/queuectl/jobrunner/internal/registry"
	"github.com/queuectl/jobrunner/internal/scheduler"
	"github.com/queuectl/jobrunner/internal/store"
	"github.com/queuectl/jobrunner/internal/validator"
)

// Error codes surfaced to the HTTP adapter, matching spec.md §6/§7.
const (
	CodeScriptNotFound = validator.CodeScriptNotFound
	CodeInvalidArgs    = validator.CodeInvalidArgs
	CodeJobNotFound    = "JOB_NOT_FOUND"
)

// Error is a typed runner-level failure the adapter translates into
// the HTTP error envelope; it never leaks a raw Go error string.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// SubmitResult is the outcome of SubmitRun.
type SubmitResult struct {
	Async bool
	Job   *job.Record
}

// LogsResult is the outcome of GetJobLogs.
type LogsResult struct {
	JobID      string
	Stream     job.Stream
	Offset     int64
	NextOffset int64
	TotalSize  int64
	Truncated  bool
	Data       string
}

// Runner is the facade described by SPEC_FULL §4.6.
type Runner struct {
	mu      sync.Mutex
	handles map[string]*job.Handle

	registry    *registry.Registry
	store       *store.Store
	sink        *logsink.Sink
	scheduler   *scheduler.Scheduler
	defaultMode job.Mode
	logger      *zap.Logger
}

// New wires all five components from cfg.
func New(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg, err := registry.New(cfg.Scripts)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	st, err := store.New(cfg.Runner.JobStoreFile, logger)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	sink, err := logsink.New(cfg.Runner.LogsDir, cfg.Runner.MaxLogBytesPerStream, cfg.Runner.PreviewMaxBytes, logger)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	exec := executor.New(sink, st, logger)
	sched := scheduler.New(cfg.Runner.MaxConcurrent, exec, st, logger)

	return &Runner{
		handles:     make(map[string]*job.Handle),
		registry:    reg,
		store:       st,
		sink:        sink,
		scheduler:   sched,
		defaultMode: job.Mode(cfg.Runner.DefaultMode),
		logger:      logger,
	}, nil
}

// SubmitRun validates the request, creates and enqueues a job, and
// either returns immediately (async) or blocks for the terminal
// snapshot (sync), per spec.md §6.1.
func (r *Runner) SubmitRun(scriptID string, args []string, mode job.Mode) (*SubmitResult, *Error) {
	script, verr := validator.Validate(r.registry, scriptID, args)
	if verr != nil {
		return nil, &Error{Code: verr.Code, Message: verr.Message}
	}

	m := mode
	if m == "" {
		m = script.Mode
	}
	if m == "" {
		m = r.defaultMode
	}

	now := time.Now().UTC()
	jobID := uuid.NewString()
	rec := &job.Record{
		JobID:     jobID,
		ScriptID:  script.ID,
		Args:      append([]string(nil), args...),
		Mode:      m,
		Status:    job.StatusQueued,
		CreatedAt: now,
		StdoutRef: jobID + ".stdout.log",
		StderrRef: jobID + ".stderr.log",
	}
	handle := job.NewHandle(rec)

	r.mu.Lock()
	r.handles[jobID] = handle
	r.mu.Unlock()

	r.store.Insert(rec.Clone())

	var waitCh <-chan *job.Record
	if m == job.ModeSync {
		waitCh = handle.AwaitCompletion()
	}

	r.scheduler.Enqueue(handle, script)

	if waitCh != nil {
		final := <-waitCh
		return &SubmitResult{Async: false, Job: final}, nil
	}
	return &SubmitResult{Async: true, Job: handle.Snapshot()}, nil
}

// GetJob returns the current snapshot for jobID, or nil if unknown.
func (r *Runner) GetJob(jobID string) *job.Record {
	r.mu.Lock()
	h, ok := r.handles[jobID]
	r.mu.Unlock()
	if ok {
		return h.Snapshot()
	}
	rec, ok := r.store.Get(jobID)
	if !ok {
		return nil
	}
	return rec
}

// GetJobLogs performs the random-access log read of spec.md §4.3.
func (r *Runner) GetJobLogs(jobID string, stream job.Stream, offset, limit int64) (*LogsResult, *Error) {
	if stream != job.StreamStdout && stream != job.StreamStderr {
		return nil, &Error{Code: CodeInvalidArgs, Message: fmt.Sprintf("unknown stream %q", stream)}
	}
	if offset < 0 {
		return nil, &Error{Code: CodeInvalidArgs, Message: "offset must be >= 0"}
	}
	if limit <= 0 {
		return nil, &Error{Code: CodeInvalidArgs, Message: "limit must be > 0"}
	}
	if limit > logsink.MaxReadLimit {
		limit = logsink.MaxReadLimit
	}

	rec := r.GetJob(jobID)
	if rec == nil {
		return nil, &Error{Code: CodeJobNotFound, Message: fmt.Sprintf("job %q not found", jobID)}
	}

	res, err := r.sink.Read(jobID, stream, offset, limit)
	if err != nil {
		r.logger.Error("log read failed", zap.String("jobId", jobID), zap.Error(err))
		return nil, &Error{Code: CodeInvalidArgs, Message: "failed to read log"}
	}

	truncated := rec.StdoutTruncated
	if stream == job.StreamStderr {
		truncated = rec.StderrTruncated
	}

	return &LogsResult{
		JobID:      jobID,
		Stream:     stream,
		Offset:     res.Offset,
		NextOffset: res.NextOffset,
		TotalSize:  res.TotalSize,
		Truncated:  truncated,
		Data:       res.Data,
	}, nil
}

// CancelJob is synchronous and idempotent per spec.md §5.
func (r *Runner) CancelJob(jobID string) (*job.Record, *Error) {
	r.mu.Lock()
	h, ok := r.handles[jobID]
	r.mu.Unlock()

	if !ok {
		rec, ok := r.store.Get(jobID)
		if !ok {
			return nil, &Error{Code: CodeJobNotFound, Message: fmt.Sprintf("job %q not found", jobID)}
		}
		return rec, nil
	}

	snapshot, _ := h.RequestCancel()
	return snapshot, nil
}

// StoreHealthy reports whether the Job Store's last persist attempt
// succeeded, backing the /healthz job-store check (SPEC_FULL §7).
func (r *Runner) StoreHealthy() error {
	return r.store.LastPersistError()
}
