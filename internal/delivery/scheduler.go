// Package delivery holds the echo delivery pipeline: the scheduler that
// turns an echo's delivery time into a delayed job, and the worker that
// fans the notification out to the owner's devices when the job fires.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"echopush/internal/jobstore"
	"echopush/internal/observability"
)

const dedupPrefix = "echo-"

// DedupKey derives the delayed-job key for an echo. It depends on nothing
// but the echo id, so scheduling the same echo twice can never produce two
// live jobs.
func DedupKey(echoID string) string { return dedupPrefix + echoID }

// JobStore is the slice of the delayed job store the scheduler needs.
type JobStore interface {
	Enqueue(ctx context.Context, key string, payload jobstore.Payload, delay time.Duration) error
	Remove(ctx context.Context, key string) (bool, error)
}

type Scheduler struct {
	Jobs JobStore

	// Timeout bounds each synchronous call against the job store.
	Timeout time.Duration

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Schedule enqueues the delivery job for an echo and returns its job key.
// A deliverAt already in the past clamps the delay to zero: an overdue echo
// still fires as soon as the worker pool can take it, it is never dropped.
func (s *Scheduler) Schedule(ctx context.Context, echoID, userID string, deliverAt time.Time) (string, error) {
	delay := deliverAt.Sub(s.now())
	if delay < 0 {
		slog.Info("echo deliver time already passed, firing immediately", "echo_id", echoID)
		delay = 0
	}

	key := DedupKey(echoID)
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	err := s.Jobs.Enqueue(callCtx, key, jobstore.Payload{EchoID: echoID, UserID: userID}, delay)
	if err != nil {
		observability.Scheduled.WithLabelValues("error").Inc()
		return "", err
	}
	observability.Scheduled.WithLabelValues("ok").Inc()
	slog.Info("echo delivery scheduled", "echo_id", echoID, "key", key, "delay", delay)
	return key, nil
}

// Cancel removes the pending job for an echo. Returns false when no job is
// pending, including the benign race where the job already fired; that is
// not an error.
func (s *Scheduler) Cancel(ctx context.Context, echoID string) (bool, error) {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	removed, err := s.Jobs.Remove(callCtx, DedupKey(echoID))
	if err != nil {
		observability.Cancelled.WithLabelValues("error").Inc()
		return false, err
	}
	if removed {
		observability.Cancelled.WithLabelValues("removed").Inc()
		slog.Info("echo delivery cancelled", "echo_id", echoID)
	} else {
		observability.Cancelled.WithLabelValues("not_found").Inc()
	}
	return removed, nil
}
