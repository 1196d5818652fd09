package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q := NewQueue(mr.Addr(), "", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestEnqueueClaimRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "echo-e1", Payload{EchoID: "e1", UserID: "u1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs, err := q.claimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	job := jobs[0]
	if job.Key != "echo-e1" || job.Payload.EchoID != "e1" || job.Attempt != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}

	again, err := q.claimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed job must not be claimable again, got %d", len(again))
	}
}

func TestEnqueueSameKeyReplaces(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "echo-e1", Payload{EchoID: "e1", UserID: "u1"}, time.Hour); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "echo-e1", Payload{EchoID: "e1", UserID: "u1"}, 0); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	jobs, err := q.claimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("re-enqueued key must yield exactly one job, got %d", len(jobs))
	}
}

// A worker that dies between claim and completion must not lose the job:
// its processing entry expires and the sweep puts it back as due.
func TestCrashedClaimIsReclaimable(t *testing.T) {
	q, _ := newTestQueue(t)
	q.VisibilityTimeout = time.Minute
	ctx := context.Background()
	now := time.Now()

	if err := q.Enqueue(ctx, "echo-e1", Payload{EchoID: "e1", UserID: "u1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := q.claimDue(ctx, now, 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(jobs))
	}
	// no complete/release: the claimant is gone

	n, err := q.reclaimStale(ctx, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("job inside its visibility window must not be reclaimed, got %d", n)
	}

	later := now.Add(2 * time.Minute)
	n, err = q.reclaimStale(ctx, later)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one reclaimed job, got %d", n)
	}

	jobs, err = q.claimDue(ctx, later, 10)
	if err != nil {
		t.Fatalf("reclaim claim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Key != "echo-e1" {
		t.Fatalf("reclaimed job not claimable: %+v", jobs)
	}
	if jobs[0].Attempt != 2 {
		t.Fatalf("attempt counter should survive the reclaim, got %d", jobs[0].Attempt)
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "echo-e1", Payload{EchoID: "e1", UserID: "u1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := q.claimDue(ctx, time.Now(), 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(jobs))
	}
	q.complete(ctx, jobs[0])

	n, err := q.reclaimStale(ctx, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("completed job must not be reclaimed, got %d", n)
	}
	if mr.Exists(jobKey("echo-e1")) {
		t.Fatal("completed job hash should be deleted")
	}
}

func TestReleaseDefersJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	if err := q.Enqueue(ctx, "echo-e1", Payload{EchoID: "e1", UserID: "u1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := q.claimDue(ctx, now, 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(jobs))
	}
	if err := q.release(ctx, jobs[0], now.Add(time.Hour)); err != nil {
		t.Fatalf("release: %v", err)
	}

	early, err := q.claimDue(ctx, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("early claim: %v", err)
	}
	if len(early) != 0 {
		t.Fatalf("released job must wait for its backoff, got %d", len(early))
	}

	lateJobs, err := q.claimDue(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("late claim: %v", err)
	}
	if len(lateJobs) != 1 || lateJobs[0].Attempt != 2 {
		t.Fatalf("unexpected claim after backoff: %+v", lateJobs)
	}

	n, err := q.reclaimStale(ctx, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("only the live claim should be in processing, reclaimed %d", n)
	}
}

func TestBuryLeavesNothingClaimable(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "echo-e1", Payload{EchoID: "e1", UserID: "u1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := q.claimDue(ctx, time.Now(), 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(jobs))
	}
	if err := q.bury(ctx, jobs[0], time.Now()); err != nil {
		t.Fatalf("bury: %v", err)
	}

	n, err := q.reclaimStale(ctx, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("buried job must not be reclaimed, got %d", n)
	}

	dead, err := mr.ZMembers(deadKey)
	if err != nil || len(dead) != 1 || dead[0] != "echo-e1" {
		t.Fatalf("dead set wrong: %v (%v)", dead, err)
	}
}

func TestRemoveOnlyCancelsPendingJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "echo-pending", Payload{EchoID: "e1", UserID: "u1"}, time.Hour); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	removed, err := q.Remove(ctx, "echo-pending")
	if err != nil || !removed {
		t.Fatalf("pending job should be removable: %v %v", removed, err)
	}

	if err := q.Enqueue(ctx, "echo-running", Payload{EchoID: "e2", UserID: "u1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.claimDue(ctx, time.Now(), 10); err != nil {
		t.Fatalf("claim: %v", err)
	}

	removed, err = q.Remove(ctx, "echo-running")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed {
		t.Fatal("a claimed job must not report as cancelled")
	}
}
