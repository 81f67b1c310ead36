package logsink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuectl/jobrunner/internal/job"
)

func newTestSink(t *testing.T, capBytes int64, previewMax int) *Sink {
	t.Helper()
	s, err := New(t.TempDir(), capBytes, previewMax, nil)
	require.NoError(t, err)
	return s
}

func TestWriteUnderCapIsNotTruncated(t *testing.T) {
	s := newTestSink(t, 1024, 64)
	w, err := s.Open("job-1")
	require.NoError(t, err)

	_, err = w.StdoutWriter().Write([]byte("hello world"))
	require.NoError(t, err)

	stdout, _ := w.Close()
	assert.EqualValues(t, 11, stdout.Size)
	assert.False(t, stdout.Truncated)
	assert.Equal(t, "hello world", stdout.Preview)
}

func TestWriteOverCapTruncates(t *testing.T) {
	s := newTestSink(t, 5, 64)
	w, err := s.Open("job-2")
	require.NoError(t, err)

	_, err = w.StdoutWriter().Write([]byte("hello world"))
	require.NoError(t, err)

	stdout, _ := w.Close()
	assert.EqualValues(t, 5, stdout.Size)
	assert.True(t, stdout.Truncated)
}

func TestZeroCapDiscardsEverythingAndStillTruncates(t *testing.T) {
	s := newTestSink(t, 0, 64)
	w, err := s.Open("job-3")
	require.NoError(t, err)

	_, err = w.StdoutWriter().Write([]byte("x"))
	require.NoError(t, err)

	stdout, _ := w.Close()
	assert.EqualValues(t, 0, stdout.Size)
	assert.True(t, stdout.Truncated)
}

func TestPreviewKeepsOnlyTheLastBytes(t *testing.T) {
	s := newTestSink(t, 1024, 4)
	w, err := s.Open("job-4")
	require.NoError(t, err)

	_, err = w.StdoutWriter().Write([]byte("abcdefgh"))
	require.NoError(t, err)

	stdout, _ := w.Close()
	assert.Equal(t, "efgh", stdout.Preview)
}

func TestReadPaginationConcatenatesToWhatWasWritten(t *testing.T) {
	s := newTestSink(t, 1<<20, 64)
	w, err := s.Open("job-5")
	require.NoError(t, err)

	var want bytes.Buffer
	sw := w.StdoutWriter()
	for i := 0; i < 500; i++ {
		line := []byte("line-data-chunk\n")
		want.Write(line)
		_, err := sw.Write(line)
		require.NoError(t, err)
	}
	w.Close()

	var got bytes.Buffer
	var offset int64
	for {
		res, err := s.Read("job-5", job.StreamStdout, offset, 37)
		require.NoError(t, err)
		got.WriteString(res.Data)
		if res.NextOffset == offset {
			break
		}
		offset = res.NextOffset
		if offset >= res.TotalSize {
			break
		}
	}
	assert.Equal(t, want.String(), got.String())
}

func TestReadMissingFileReturnsEmpty(t *testing.T) {
	s := newTestSink(t, 1024, 64)
	res, err := s.Read("never-started", job.StreamStdout, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "", res.Data)
	assert.EqualValues(t, 0, res.NextOffset)
}

func TestReadPastEndOfFileReturnsEmptyWithStableOffset(t *testing.T) {
	s := newTestSink(t, 1024, 64)
	w, err := s.Open("job-6")
	require.NoError(t, err)
	_, _ = w.StdoutWriter().Write([]byte("short"))
	w.Close()

	res, err := s.Read("job-6", job.StreamStdout, 1000, 100)
	require.NoError(t, err)
	assert.Equal(t, "", res.Data)
	assert.EqualValues(t, 1000, res.NextOffset)
	assert.EqualValues(t, 5, res.TotalSize)
}

func TestReadLimitIsCappedAt1MiB(t *testing.T) {
	s := newTestSink(t, 2<<20, 64)
	w, err := s.Open("job-7")
	require.NoError(t, err)
	_, err = w.StdoutWriter().Write(bytes.Repeat([]byte("x"), 1<<20+10))
	require.NoError(t, err)
	w.Close()

	res, err := s.Read("job-7", job.StreamStdout, 0, 10<<20)
	require.NoError(t, err)
	assert.EqualValues(t, 1<<20, res.NextOffset)
	assert.EqualValues(t, 1<<20+10, res.TotalSize)
}
