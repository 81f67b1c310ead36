// Package httpapi is the thin net/http/chi adapter over the Runner
// facade (SPEC_FULL §6.4): request parsing, JSON framing, and status
// code selection live here and nowhere else.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/queuectl/jobrunner/internal/job"
	"github.com/queuectl/jobrunner/internal/runner"
)

type api struct {
	runner *runner.Runner
}

type runRequest struct {
	ScriptID string   `json:"scriptId"`
	Args     []string `json:"args"`
	Mode     string   `json:"mode,omitempty"`
}

func (a *api) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, runner.CodeInvalidArgs, "malformed JSON body")
		return
	}

	res, rerr := a.runner.SubmitRun(req.ScriptID, req.Args, job.Mode(req.Mode))
	if rerr != nil {
		writeError(w, http.StatusBadRequest, rerr.Code, rerr.Message)
		return
	}

	status := http.StatusOK
	if res.Async {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"ok":    true,
		"async": res.Async,
		"job":   res.Job,
	})
}

func (a *api) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec := a.runner.GetJob(id)
	if rec == nil {
		writeError(w, http.StatusNotFound, runner.CodeJobNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) handleGetJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	stream := job.Stream(q.Get("stream"))
	if stream == "" {
		stream = job.StreamStdout
	}

	offset, err := parseInt64(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, runner.CodeInvalidArgs, "invalid offset")
		return
	}
	limit, err := parseInt64(q.Get("limit"), 1<<16)
	if err != nil {
		writeError(w, http.StatusBadRequest, runner.CodeInvalidArgs, "invalid limit")
		return
	}

	res, rerr := a.runner.GetJobLogs(id, stream, offset, limit)
	if rerr != nil {
		status := http.StatusBadRequest
		if rerr.Code == runner.CodeJobNotFound {
			status = http.StatusNotFound
		}
		writeError(w, status, rerr.Code, rerr.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"jobId":      res.JobID,
		"stream":     res.Stream,
		"offset":     res.Offset,
		"nextOffset": res.NextOffset,
		"totalSize":  res.TotalSize,
		"truncated":  res.Truncated,
		"data":       res.Data,
	})
}

func (a *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, rerr := a.runner.CancelJob(id)
	if rerr != nil {
		writeError(w, http.StatusNotFound, rerr.Code, rerr.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": rec})
}

func parseInt64(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
