// Package logsink is the Log Sink of SPEC_FULL §4.3: per-job,
// per-stream append-only log files with a byte cap, a truncation
// flag, and a rolling tail buffer kept in memory for previews, plus
// the random-access read used by GET /jobs/:id/logs.
package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/queuectl/jobrunner/internal/job"
)

// MaxReadLimit is the hard cap on a single random-access read,
// per spec.md §4.3 ("capped at 1 MiB").
const MaxReadLimit = 1 << 20

// Sink owns the logs directory and the per-stream policy (byte cap,
// preview size) shared by every job.
type Sink struct {
	dir        string
	capBytes   int64
	previewMax int
	logger     *zap.Logger
}

// New ensures dir exists and returns a Sink bound to it.
func New(dir string, capBytes int64, previewMax int, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: create dir %s: %w", dir, err)
	}
	return &Sink{dir: dir, capBytes: capBytes, previewMax: previewMax, logger: logger}, nil
}

func (s *Sink) pathFor(jobID string, stream job.Stream) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%s.log", jobID, stream))
}

// StreamResult is the finalized size/truncation/preview state for one
// stream, produced by Writer.Close.
type StreamResult struct {
	Size      int64
	Truncated bool
	Preview   string
}

// Writer captures one job's stdout and stderr while it runs, and owns
// the two underlying file handles.
type Writer struct {
	sink  *Sink
	jobID string

	mu     sync.Mutex
	stdout *streamState
	stderr *streamState
}

type streamState struct {
	file      *os.File
	size      int64
	truncated bool
	tail      *ring
}

// Open creates the stdout/stderr log files for jobID and returns a
// Writer bound to them.
func (s *Sink) Open(jobID string) (*Writer, error) {
	outState, err := s.openStream(jobID, job.StreamStdout)
	if err != nil {
		return nil, err
	}
	errState, err := s.openStream(jobID, job.StreamStderr)
	if err != nil {
		outState.file.Close()
		return nil, err
	}
	return &Writer{sink: s, jobID: jobID, stdout: outState, stderr: errState}, nil
}

func (s *Sink) openStream(jobID string, stream job.Stream) (*streamState, error) {
	f, err := os.Create(s.pathFor(jobID, stream))
	if err != nil {
		return nil, fmt.Errorf("logsink: create %s log for %s: %w", stream, jobID, err)
	}
	return &streamState{file: f, tail: newRing(s.previewMax)}, nil
}

// StdoutWriter returns an io.Writer that appends to the stdout
// stream, applying the byte cap and feeding the preview ring.
func (w *Writer) StdoutWriter() *streamWriter { return &streamWriter{w: w, st: w.stdout} }

// StderrWriter is the stderr counterpart of StdoutWriter.
func (w *Writer) StderrWriter() *streamWriter { return &streamWriter{w: w, st: w.stderr} }

// AppendStderrDiagnostic appends a diagnostic line to stderr without
// going through the pipe, used when a write or spawn error occurs and
// must still be visible to the caller per spec.md §4.5/§7.
func (w *Writer) AppendStderrDiagnostic(msg string) {
	w.StderrWriter().Write([]byte(msg + "\n"))
}

type streamWriter struct {
	w  *Writer
	st *streamState
}

// Write implements io.Writer, applying the cap-then-discard and
// tail-buffer rules of spec.md §4.3 step 1-3.
func (sw *streamWriter) Write(p []byte) (int, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	st := sw.st
	capBytes := sw.w.sink.capBytes
	remaining := capBytes - st.size
	if remaining <= 0 {
		if len(p) > 0 {
			st.truncated = true
		}
		st.tail.Append(p)
		return len(p), nil
	}

	toWrite := p
	if int64(len(p)) > remaining {
		st.truncated = true
		toWrite = p[:remaining]
	}

	if len(toWrite) > 0 {
		if _, err := st.file.Write(toWrite); err != nil {
			sw.w.sink.logger.Error("logsink write failed", zap.Error(err), zap.String("jobId", sw.w.jobID))
			sw.w.stderr.tail.Append([]byte("log write error: " + err.Error() + "\n"))
			return len(p), nil
		}
		st.size += int64(len(toWrite))
	}
	st.tail.Append(p)
	return len(p), nil
}

// Close flushes and closes both files and returns the finalized
// size/truncation/preview for each stream. It is safe to call exactly
// once and must be called on every terminal path (success, error,
// timeout, cancel) per spec.md §4.3.
func (w *Writer) Close() (stdout, stderr StreamResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	stdout = finalize(w.stdout)
	stderr = finalize(w.stderr)
	return stdout, stderr
}

func finalize(st *streamState) StreamResult {
	st.file.Close()
	return StreamResult{
		Size:      st.size,
		Truncated: st.truncated,
		Preview:   strings.ToValidUTF8(string(st.tail.Bytes()), "�"),
	}
}

// ReadResult is the random-access read response of spec.md §4.3.
type ReadResult struct {
	Offset     int64
	NextOffset int64
	TotalSize  int64
	Data       string
}

// Read satisfies GET /jobs/:id/logs. It never errors on a missing
// file (the job may still be queued); it returns an empty result
// instead.
func (s *Sink) Read(jobID string, stream job.Stream, offset, limit int64) (ReadResult, error) {
	if limit > MaxReadLimit {
		limit = MaxReadLimit
	}
	path := s.pathFor(jobID, stream)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadResult{Offset: offset, NextOffset: offset}, nil
		}
		return ReadResult{}, fmt.Errorf("logsink: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ReadResult{}, fmt.Errorf("logsink: stat %s: %w", path, err)
	}
	total := info.Size()

	if offset >= total {
		return ReadResult{Offset: offset, NextOffset: offset, TotalSize: total}, nil
	}

	buf := make([]byte, limit)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return ReadResult{}, fmt.Errorf("logsink: read %s: %w", path, err)
	}

	return ReadResult{
		Offset:     offset,
		NextOffset: offset + int64(n),
		TotalSize:  total,
		Data:       strings.ToValidUTF8(string(buf[:n]), "�"),
	}, nil
}
