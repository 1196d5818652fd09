package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"echopush/internal/domain"
	"echopush/internal/jobstore"
)

type enqueueCall struct {
	key     string
	payload jobstore.Payload
	delay   time.Duration
}

type fakeJobStore struct {
	enqueues   []enqueueCall
	enqueueErr error

	removed      []string
	removeResult bool
	removeErr    error
}

func (f *fakeJobStore) Enqueue(_ context.Context, key string, payload jobstore.Payload, delay time.Duration) error {
	f.enqueues = append(f.enqueues, enqueueCall{key: key, payload: payload, delay: delay})
	return f.enqueueErr
}

func (f *fakeJobStore) Remove(_ context.Context, key string) (bool, error) {
	f.removed = append(f.removed, key)
	return f.removeResult, f.removeErr
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestScheduleComputesDelay(t *testing.T) {
	js := &fakeJobStore{}
	s := &Scheduler{Jobs: js, Now: fixedNow}

	key, err := s.Schedule(context.Background(), "echo_1", "user_1", fixedNow().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "echo-echo_1" {
		t.Fatalf("got key %q", key)
	}
	if len(js.enqueues) != 1 {
		t.Fatalf("got %d enqueues", len(js.enqueues))
	}
	call := js.enqueues[0]
	if call.delay != time.Hour {
		t.Fatalf("got delay %v, want 1h", call.delay)
	}
	if call.payload != (jobstore.Payload{EchoID: "echo_1", UserID: "user_1"}) {
		t.Fatalf("bad payload: %+v", call.payload)
	}
}

func TestSchedulePastDueClampsToZero(t *testing.T) {
	js := &fakeJobStore{}
	s := &Scheduler{Jobs: js, Now: fixedNow}

	if _, err := s.Schedule(context.Background(), "echo_1", "user_1", fixedNow().Add(-3*time.Hour)); err != nil {
		t.Fatalf("past-due schedule must not fail: %v", err)
	}
	if got := js.enqueues[0].delay; got != 0 {
		t.Fatalf("got delay %v, want 0", got)
	}
}

func TestScheduleTwiceUsesSameKey(t *testing.T) {
	js := &fakeJobStore{}
	s := &Scheduler{Jobs: js, Now: fixedNow}

	_, _ = s.Schedule(context.Background(), "echo_1", "user_1", fixedNow().Add(time.Hour))
	_, _ = s.Schedule(context.Background(), "echo_1", "user_1", fixedNow().Add(2*time.Hour))

	if js.enqueues[0].key != js.enqueues[1].key {
		t.Fatalf("retried schedule produced a different key: %q vs %q",
			js.enqueues[0].key, js.enqueues[1].key)
	}
}

func TestScheduleSurfacesStoreUnavailable(t *testing.T) {
	js := &fakeJobStore{enqueueErr: domain.ErrJobStoreUnavailable}
	s := &Scheduler{Jobs: js, Now: fixedNow}

	_, err := s.Schedule(context.Background(), "echo_1", "user_1", fixedNow().Add(time.Hour))
	if !errors.Is(err, domain.ErrJobStoreUnavailable) {
		t.Fatalf("got %v, want ErrJobStoreUnavailable", err)
	}
}

func TestCancelRemovesPendingJob(t *testing.T) {
	js := &fakeJobStore{removeResult: true}
	s := &Scheduler{Jobs: js}

	removed, err := s.Cancel(context.Background(), "echo_1")
	if err != nil || !removed {
		t.Fatalf("got removed=%v err=%v", removed, err)
	}
	if js.removed[0] != "echo-echo_1" {
		t.Fatalf("cancelled wrong key %q", js.removed[0])
	}
}

func TestCancelMissingJobIsNotAnError(t *testing.T) {
	js := &fakeJobStore{removeResult: false}
	s := &Scheduler{Jobs: js}

	removed, err := s.Cancel(context.Background(), "echo_gone")
	if err != nil {
		t.Fatalf("cancel of absent job must not error: %v", err)
	}
	if removed {
		t.Fatal("nothing should have been removed")
	}
}
