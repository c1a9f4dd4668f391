package middleware

import (
	"context"
	"net/http"
)

// statusRecorder captures what a handler wrote. Logging and HTTPMetrics each
// wrap the writer with one.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool

	// ctx is the innermost handler context, handed back via
	// UpdateResponseContext.
	ctx context.Context
}

func record(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.wroteHeader {
		return
	}
	sr.status = code
	sr.wroteHeader = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// UpdateResponseContext hands a handler's context back to every recorder
// wrapping w, so values set late in the chain (error code, operator) reach
// the request log. It is a no-op for unwrapped writers.
func UpdateResponseContext(w http.ResponseWriter, ctx context.Context) {
	for w != nil {
		if sr, ok := w.(*statusRecorder); ok {
			sr.ctx = ctx
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return
		}
		w = u.Unwrap()
	}
}

// context returns the latest known context for r.
func (sr *statusRecorder) context(r *http.Request) context.Context {
	if sr.ctx != nil {
		return sr.ctx
	}
	return r.Context()
}
