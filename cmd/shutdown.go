package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// shutdownGrace bounds how long Shutdown waits for in-flight requests to
// drain before the process exits anyway.
const shutdownGrace = 5 * time.Second

// notifyContext returns a context cancelled on SIGINT/SIGTERM, shared by a
// process's HTTP server and its background ticker loops so every component
// drains off the same signal (spec.md §5, §9; SPEC_FULL.md §10).
func notifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServerUntil runs srv until ctx is cancelled, then drains it via
// http.Server.Shutdown within shutdownGrace. Blocks until the server has
// either exited on its own (bind failure) or finished draining.
func runServerUntil(ctx context.Context, name string, srv *http.Server) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("%s: server exited: %v", name, err)
		}
	case <-ctx.Done():
		logrus.Infof("%s: shutdown signal received, draining", name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("%s: forced close after shutdown grace period: %v", name, err)
		}
	}
}

// runLoop ticks fn every interval until ctx is cancelled, then returns —
// the cancellable-background-task shape spec.md §5 and §9 require of the
// heartbeat, sync, and stale-reap loops. Registered on wg so callers can
// join every loop deterministically before exiting.
func runLoop(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}
