// Package httpapi implements the three HTTP surfaces spec.md §6 describes:
// the client-facing router API, the router-internal protocol endpoints, and
// the worker admission API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// requestID wraps a handler, attaching a fresh request id to the context and
// logging method/path/latency/status on completion.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		logrus.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     sw.status,
			"latency_ms": time.Since(start).Milliseconds(),
		}).Info("httpapi: request handled")
	})
}

// recoverer converts a panic in a downstream handler into a 500 instead of
// crashing the process — the invariant-violation case spec.md §7 describes
// is reported structurally, but unrelated bugs should not take the process
// down.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logrus.WithField("panic", err).Error("httpapi: recovered from panic")
				writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
