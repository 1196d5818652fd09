package jobstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"echopush/internal/observability"
)

// staleSweepInterval paces the reclaim of jobs whose claimant died.
const staleSweepInterval = 30 * time.Second

// Dispatcher polls the queue for due jobs and hands them to the handler on a
// bounded worker pool. Independently of the pool size, StartLimiter caps how
// many executions begin per unit time so a burst of simultaneously-due jobs
// does not hammer the transport.
type Dispatcher struct {
	Queue   *Queue
	Handler Handler

	Concurrency  int
	StartLimiter *rate.Limiter
	MaxAttempts  int
	BackoffBase  time.Duration
	PollInterval time.Duration
	Reporter     AbandonReporter
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return 3
}

func (d *Dispatcher) backoffBase() time.Duration {
	if d.BackoffBase > 0 {
		return d.BackoffBase
	}
	return 2 * time.Second
}

func (d *Dispatcher) pollInterval() time.Duration {
	if d.PollInterval > 0 {
		return d.PollInterval
	}
	return 500 * time.Millisecond
}

// Run blocks until ctx is canceled. In-flight jobs finish before it returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	workers := d.Concurrency
	if workers <= 0 {
		workers = 5
	}

	jobs := make(chan Job, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if d.StartLimiter != nil {
					if err := d.StartLimiter.Wait(ctx); err != nil {
						// shutting down: put the job back untouched
						_ = d.Queue.release(context.Background(), job, time.Now())
						continue
					}
				}
				d.dispatch(ctx, job)
			}
		}()
	}

	// Claim loop. Claims stay bounded by pool capacity so a slow handler
	// backpressures the queue instead of piling up in memory.
	var loopErr error
	var lastSweep time.Time
claim:
	for {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}

		// Jobs claimed by a worker that died keep their processing entry;
		// sweep the expired ones back so they run somewhere else.
		if time.Since(lastSweep) >= staleSweepInterval {
			lastSweep = time.Now()
			if n, err := d.Queue.reclaimStale(ctx, lastSweep); err != nil {
				slog.Error("stale job sweep failed", "err", err)
			} else if n > 0 {
				slog.Warn("reclaimed stalled jobs", "count", n)
			}
		}

		due, err := d.Queue.claimDue(ctx, time.Now(), int64(workers))
		if err != nil {
			d.Queue.setState(StateDegraded)
			slog.Error("job store claim failed", "err", err)
			select {
			case <-ctx.Done():
				loopErr = ctx.Err()
				break claim
			case <-time.After(d.pollInterval()):
			}
			continue
		}
		d.Queue.setState(StateReady)

		if len(due) == 0 {
			select {
			case <-ctx.Done():
				loopErr = ctx.Err()
				break claim
			case <-time.After(d.pollInterval()):
			}
			continue
		}

		for _, job := range due {
			select {
			case jobs <- job:
			case <-ctx.Done():
				_ = d.Queue.release(context.Background(), job, time.Now())
				loopErr = ctx.Err()
				break claim
			}
		}
	}

	close(jobs)
	wg.Wait()
	return loopErr
}

func (d *Dispatcher) dispatch(ctx context.Context, job Job) {
	start := time.Now()
	res := d.Handler(ctx, job)
	slog.Info("job finished",
		"key", job.Key,
		"echo_id", job.Payload.EchoID,
		"attempt", job.Attempt,
		"result", res.String(),
		"duration", time.Since(start),
	)

	// Bookkeeping must survive ctx cancellation mid-shutdown.
	bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch res {
	case ResultOK, ResultDrop:
		d.Queue.complete(bgCtx, job)
	case ResultRetry:
		if job.Attempt >= d.maxAttempts() {
			d.abandon(bgCtx, job)
			return
		}
		notBefore := time.Now().Add(backoffDelay(d.backoffBase(), job.Attempt))
		if err := d.Queue.release(bgCtx, job, notBefore); err != nil {
			slog.Error("job release failed, job will be lost until re-scheduled",
				"key", job.Key, "err", err)
		}
	}
}

func (d *Dispatcher) abandon(ctx context.Context, job Job) {
	observability.JobsAbandoned.Inc()
	slog.Error("job abandoned after retry exhaustion",
		"key", job.Key, "echo_id", job.Payload.EchoID, "attempts", job.Attempt)

	if err := d.Queue.bury(ctx, job, time.Now()); err != nil {
		slog.Error("job bury failed", "key", job.Key, "err", err)
	}
	if d.Reporter != nil {
		if err := d.Reporter.ReportAbandoned(ctx, job, "retry attempts exhausted"); err != nil {
			slog.Error("abandoned job report failed", "key", job.Key, "err", err)
		}
	}
}

// backoffDelay is exponential: base, 2*base, 4*base, ... capped at 5 minutes.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > 5*time.Minute || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
