package runner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuectl/jobrunner/internal/config"
	"github.com/queuectl/jobrunner/internal/job"
)

func newTestRunner(t *testing.T, scripts []job.Script) *Runner {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Runner: config.RunnerConfig{
			MaxConcurrent:        2,
			DefaultMode:          "sync",
			MaxLogBytesPerStream: 1 << 20,
			PreviewMaxBytes:      4096,
			JobStoreFile:         filepath.Join(dir, "jobstore.json"),
			LogsDir:              filepath.Join(dir, "logs"),
		},
		Scripts: scripts,
	}
	r, err := New(cfg, nil)
	require.NoError(t, err)
	return r
}

func echoScript() job.Script {
	return job.Script{
		ID:   "ok",
		Path: "/bin/echo",
		Mode: job.ModeSync,
		Args: job.ArgsConstraint{MaxItems: 4, ItemPattern: "^[a-zA-Z0-9._-]+$", ItemMaxLength: 64},
	}
}

func TestSubmitRunSyncSuccess(t *testing.T) {
	r := newTestRunner(t, []job.Script{echoScript()})

	res, err := r.SubmitRun("ok", []string{"hello", "world"}, "")
	require.Nil(t, err)
	require.False(t, res.Async)
	assert.Equal(t, job.StatusSucceeded, res.Job.Status)
	require.NotNil(t, res.Job.Code)
	assert.Equal(t, 0, *res.Job.Code)
	assert.Contains(t, res.Job.StdoutPreview, "hello world")
}

func TestSubmitRunValidationRejectsUnknownScript(t *testing.T) {
	r := newTestRunner(t, []job.Script{echoScript()})

	res, err := r.SubmitRun("nope", nil, "")
	assert.Nil(t, res)
	require.NotNil(t, err)
	assert.Equal(t, CodeScriptNotFound, err.Code)
}

func TestSubmitRunValidationRejectsBadArgs(t *testing.T) {
	r := newTestRunner(t, []job.Script{echoScript()})

	res, err := r.SubmitRun("ok", []string{"bad/slash"}, "")
	assert.Nil(t, res)
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidArgs, err.Code)
}

func TestSubmitRunAsyncReturnsImmediately(t *testing.T) {
	r := newTestRunner(t, []job.Script{
		{ID: "slow", Path: "/bin/sleep", Mode: job.ModeAsync, Args: job.ArgsConstraint{MaxItems: 2, ItemPattern: "^[0-9]+$", ItemMaxLength: 8}},
	})

	res, err := r.SubmitRun("slow", []string{"1"}, job.ModeAsync)
	require.Nil(t, err)
	require.True(t, res.Async)
	assert.Contains(t, []job.Status{job.StatusQueued, job.StatusRunning}, res.Job.Status)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got := r.GetJob(res.Job.JobID)
		require.NotNil(t, got)
		if got.Status.IsTerminal() {
			assert.Equal(t, job.StatusSucceeded, got.Status)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("async job never reached a terminal state")
}

func TestGetJobUnknownReturnsNil(t *testing.T) {
	r := newTestRunner(t, []job.Script{echoScript()})
	assert.Nil(t, r.GetJob("missing"))
}

func TestCancelJobUnknownIsJobNotFound(t *testing.T) {
	r := newTestRunner(t, []job.Script{echoScript()})
	rec, err := r.CancelJob("missing")
	assert.Nil(t, rec)
	require.NotNil(t, err)
	assert.Equal(t, CodeJobNotFound, err.Code)
}

func TestCancelJobIsIdempotent(t *testing.T) {
	r := newTestRunner(t, []job.Script{
		{ID: "slow", Path: "/bin/sleep", Mode: job.ModeAsync, Args: job.ArgsConstraint{MaxItems: 2, ItemPattern: "^[0-9]+$", ItemMaxLength: 8}},
	})

	res, err := r.SubmitRun("slow", []string{"10"}, job.ModeAsync)
	require.Nil(t, err)

	first, cErr := r.CancelJob(res.Job.JobID)
	require.Nil(t, cErr)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.GetJob(res.Job.JobID).Status.IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	second, cErr2 := r.CancelJob(res.Job.JobID)
	require.Nil(t, cErr2)
	assert.Equal(t, first.JobID, second.JobID)

	final := r.GetJob(res.Job.JobID)
	assert.Equal(t, job.StatusCanceled, final.Status)
}

func TestGetJobLogsValidatesStream(t *testing.T) {
	r := newTestRunner(t, []job.Script{echoScript()})
	res, err := r.SubmitRun("ok", []string{"x"}, "")
	require.Nil(t, err)

	_, lerr := r.GetJobLogs(res.Job.JobID, "bogus", 0, 100)
	require.NotNil(t, lerr)
	assert.Equal(t, CodeInvalidArgs, lerr.Code)
}

func TestGetJobLogsReadsCapturedStdout(t *testing.T) {
	r := newTestRunner(t, []job.Script{echoScript()})
	res, err := r.SubmitRun("ok", []string{"hi"}, "")
	require.Nil(t, err)

	logs, lerr := r.GetJobLogs(res.Job.JobID, job.StreamStdout, 0, 4096)
	require.Nil(t, lerr)
	assert.Contains(t, logs.Data, "hi")
	assert.EqualValues(t, logs.TotalSize, logs.NextOffset)
}
