package httpapi

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// httpErrorResponder is the pluggable hook respondWithError dispatches
// through, overridable in tests via SetHTTPErrorResponder.
var httpErrorResponder = defaultErrorResponder

// SetHTTPErrorResponder overrides how respondWithError renders an
// error. Passing nil resets to the default responder.
func SetHTTPErrorResponder(fn func(w http.ResponseWriter, r *http.Request, err error)) {
	if fn == nil {
		ResetHTTPErrorResponder()
		return
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	if he, ok := err.(*healthError); ok {
		status := http.StatusServiceUnavailable
		writeJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    "SERVICE_UNAVAILABLE",
				"message": "service " + he.status,
				"details": map[string]any{"checks": he.checks},
			},
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
}
