// Package executor is the Executor of SPEC_FULL §4.5: it spawns a
// registered script as a detached process group, pipes its output to
// the Log Sink, arms a timeout, watches for cancellation, and reports
// the single terminal transition for the job.
package executor

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/queuectl/jobrunner/internal/job"
	"github.com/queuectl/jobrunner/internal/logsink"
	"github.com/queuectl/jobrunner/internal/store"
)

// Executor runs jobs to terminal status on behalf of the Scheduler.
type Executor struct {
	sink   *logsink.Sink
	store  *store.Store
	logger *zap.Logger
}

// New builds an Executor writing captured output through sink and
// persisting terminal transitions through st.
func New(sink *logsink.Sink, st *store.Store, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{sink: sink, store: st, logger: logger}
}

// Run executes one job and blocks until it reaches a terminal status.
// It never returns an error: every failure mode is recorded on the
// job record instead, per spec.md §7.
func (e *Executor) Run(ctx context.Context, h *job.Handle, script job.Script) {
	snap := h.Snapshot()
	jobID := snap.JobID

	writer, err := e.sink.Open(jobID)
	if err != nil {
		e.logger.Error("failed to open log sink", zap.String("jobId", jobID), zap.Error(err))
		e.finishWithSpawnError(h, jobID, err)
		return
	}

	cmd := exec.Command("/bin/sh", "-c", buildCommandLine(script.Path, snap.Args))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.abortAfterOpen(h, writer, jobID, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.abortAfterOpen(h, writer, jobID, err)
		return
	}

	if err := cmd.Start(); err != nil {
		e.abortAfterOpen(h, writer, jobID, err)
		return
	}

	h.SetTerminate(func() { terminateProcessGroup(cmd, e.logger) })
	// A cancel that arrived before the terminate hook was installed found
	// nothing to signal; deliver it now.
	if h.IsCancelRequested() {
		terminateProcessGroup(cmd, e.logger)
	}

	var copyWG sync.WaitGroup
	copyWG.Add(2)
	go func() { defer copyWG.Done(); io.Copy(writer.StdoutWriter(), stdout) }()
	go func() { defer copyWG.Done(); io.Copy(writer.StderrWriter(), stderr) }()

	waitCh := make(chan error, 1)
	go func() {
		copyWG.Wait()
		waitCh <- cmd.Wait()
	}()

	var timedOut atomic.Bool
	var timer *time.Timer
	if script.TimeoutSec > 0 {
		timer = time.AfterFunc(time.Duration(script.TimeoutSec)*time.Second, func() {
			timedOut.Store(true)
			terminateProcessGroup(cmd, e.logger)
		})
	}

	waitErr := <-waitCh
	if timer != nil {
		timer.Stop()
	}
	h.SetTerminate(nil)

	stdoutRes, stderrRes := writer.Close()

	// Read the cancel flag before TryFinish: TryFinish holds the Handle's
	// mutex while mutate runs, and IsCancelRequested takes that mutex.
	cancelRequested := h.IsCancelRequested()
	finished, snapshot := h.TryFinish(func(r *job.Record) {
		now := time.Now().UTC()
		r.EndedAt = &now
		if r.StartedAt != nil {
			d := now.Sub(*r.StartedAt).Milliseconds()
			r.DurationMs = &d
		}
		r.StdoutRef = jobID + "." + string(job.StreamStdout) + ".log"
		r.StderrRef = jobID + "." + string(job.StreamStderr) + ".log"
		r.StdoutSize, r.StdoutTruncated, r.StdoutPreview = stdoutRes.Size, stdoutRes.Truncated, stdoutRes.Preview
		r.StderrSize, r.StderrTruncated, r.StderrPreview = stderrRes.Size, stderrRes.Truncated, stderrRes.Preview

		classify(r, cancelRequested, timedOut.Load(), waitErr)
	})
	if finished {
		e.store.Update(snapshot)
	}
}

// classify applies the exact priority order of spec.md §4.5.
func classify(r *job.Record, cancelRequested bool, timedOut bool, waitErr error) {
	switch {
	case timedOut:
		r.Status = job.StatusTimedOut
		code := -1
		r.Code = &code
	case cancelRequested:
		r.Status = job.StatusCanceled
		code := -1
		r.Code = &code
	default:
		classifyExit(r, waitErr)
	}
}

func classifyExit(r *job.Record, waitErr error) {
	if waitErr == nil {
		r.Status = job.StatusSucceeded
		zero := 0
		r.Code = &zero
		return
	}

	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		r.Status = job.StatusFailed
		code := -1
		r.Code = &code
		return
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		r.Status = job.StatusFailed
		code := -1
		r.Code = &code
		return
	}

	ec := exitErr.ExitCode()
	if ec == 0 {
		r.Status = job.StatusSucceeded
		r.Code = &ec
		return
	}
	r.Status = job.StatusFailed
	if ec < 0 {
		ec = -1
	}
	r.Code = &ec
}

// abortAfterOpen handles a pipe-setup or spawn failure after the log
// files are already open: close them, note the diagnostic, and finish
// the job as failed.
func (e *Executor) abortAfterOpen(h *job.Handle, w *logsink.Writer, jobID string, spawnErr error) {
	w.AppendStderrDiagnostic("spawn error: " + spawnErr.Error())
	stdoutRes, stderrRes := w.Close()

	finished, snapshot := h.TryFinish(func(r *job.Record) {
		now := time.Now().UTC()
		r.EndedAt = &now
		if r.StartedAt != nil {
			d := now.Sub(*r.StartedAt).Milliseconds()
			r.DurationMs = &d
		}
		code := -1
		r.Status = job.StatusFailed
		r.Code = &code
		r.StdoutRef = jobID + ".stdout.log"
		r.StderrRef = jobID + ".stderr.log"
		r.StdoutSize, r.StdoutTruncated, r.StdoutPreview = stdoutRes.Size, stdoutRes.Truncated, stdoutRes.Preview
		r.StderrSize, r.StderrTruncated, r.StderrPreview = stderrRes.Size, stderrRes.Truncated, stderrRes.Preview
	})
	if finished {
		e.store.Update(snapshot)
	}
}

// finishWithSpawnError handles a failure before any log file could
// even be opened.
func (e *Executor) finishWithSpawnError(h *job.Handle, jobID string, spawnErr error) {
	finished, snapshot := h.TryFinish(func(r *job.Record) {
		now := time.Now().UTC()
		r.EndedAt = &now
		if r.StartedAt != nil {
			d := now.Sub(*r.StartedAt).Milliseconds()
			r.DurationMs = &d
		}
		code := -1
		r.Status = job.StatusFailed
		r.Code = &code
		r.StderrPreview = "spawn error: " + spawnErr.Error()
	})
	if finished {
		e.store.Update(snapshot)
	}
}

// terminateProcessGroup sends SIGTERM to the child's process group so
// shell-spawned subprocesses die too, falling back to signaling the
// direct child if the OS denies group signaling.
func terminateProcessGroup(cmd *exec.Cmd, logger *zap.Logger) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		logger.Warn("process group signal failed, falling back to direct pid", zap.Int("pid", pid), zap.Error(err))
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			logger.Warn("direct pid signal failed", zap.Int("pid", pid), zap.Error(err))
		}
	}
}

// buildCommandLine shell-quotes path and each arg and joins them with
// spaces, per spec.md §4.5.
func buildCommandLine(path string, args []string) string {
	parts := make([]string, 0, 1+len(args))
	parts = append(parts, shellQuote(path))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
