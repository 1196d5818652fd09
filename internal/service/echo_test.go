package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"echopush/internal/domain"
	"echopush/internal/store"
)

type fakeStore struct {
	inserts   []store.EchoInsert
	insertErr error
	deletes   []string
	deleteHit bool
	deleteErr error
	upserts   []store.DeviceUpsert
	echo      domain.Echo
	echoErr   error
	summaries []store.EchoSummary
}

func (f *fakeStore) InsertEcho(_ context.Context, in store.EchoInsert) error {
	f.inserts = append(f.inserts, in)
	return f.insertErr
}

func (f *fakeStore) DeleteEcho(_ context.Context, echoID, userID string) (bool, error) {
	f.deletes = append(f.deletes, echoID)
	return f.deleteHit, f.deleteErr
}

func (f *fakeStore) GetEchoWithParts(_ context.Context, echoID string) (domain.Echo, error) {
	return f.echo, f.echoErr
}

func (f *fakeStore) ListEchoes(_ context.Context, userID string) ([]store.EchoSummary, error) {
	return f.summaries, nil
}

func (f *fakeStore) UpsertDevice(_ context.Context, in store.DeviceUpsert) error {
	f.upserts = append(f.upserts, in)
	return nil
}

type fakeScheduler struct {
	scheduled   []string
	scheduleErr error
	cancelled   []string
	cancelHit   bool
}

func (f *fakeScheduler) Schedule(_ context.Context, echoID, userID string, deliverAt time.Time) (string, error) {
	f.scheduled = append(f.scheduled, echoID)
	return "echo-" + echoID, f.scheduleErr
}

func (f *fakeScheduler) Cancel(_ context.Context, echoID string) (bool, error) {
	f.cancelled = append(f.cancelled, echoID)
	return f.cancelHit, nil
}

func textReq(deliverAt *time.Time) domain.CreateEchoRequest {
	return domain.CreateEchoRequest{
		DeliverAt: deliverAt,
		Parts:     []domain.PartInput{{Type: domain.PartText, Content: "Hi future me"}},
	}
}

func TestCreateEchoPersistsAndSchedules(t *testing.T) {
	st := &fakeStore{}
	sch := &fakeScheduler{}
	svc := &EchoService{Store: st, Scheduler: sch}

	now := time.Now().UTC()
	at := now.Add(time.Hour)
	echo, err := svc.CreateEcho(context.Background(), "user_1", textReq(&at), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.inserts) != 1 || len(sch.scheduled) != 1 {
		t.Fatalf("expected one insert and one schedule, got %d/%d", len(st.inserts), len(sch.scheduled))
	}
	if sch.scheduled[0] != echo.ID {
		t.Fatalf("scheduled wrong echo: %q vs %q", sch.scheduled[0], echo.ID)
	}
	if !echo.DeliverAt.Equal(at) {
		t.Fatalf("deliverAt not honored: %v", echo.DeliverAt)
	}
	if len(echo.Parts) != 1 || echo.Parts[0].OrderIndex != 0 {
		t.Fatalf("parts not defaulted: %+v", echo.Parts)
	}
}

func TestCreateEchoRollsBackOnSchedulingError(t *testing.T) {
	st := &fakeStore{deleteHit: true}
	sch := &fakeScheduler{scheduleErr: domain.ErrJobStoreUnavailable}
	svc := &EchoService{Store: st, Scheduler: sch}

	_, err := svc.CreateEcho(context.Background(), "user_1", textReq(nil), time.Now())
	if !errors.Is(err, domain.ErrJobStoreUnavailable) {
		t.Fatalf("got %v, want ErrJobStoreUnavailable", err)
	}
	if len(st.deletes) != 1 {
		t.Fatal("echo should be rolled back when scheduling fails")
	}
}

func TestCreateEchoRandomDeliverAtStaysInWindow(t *testing.T) {
	st := &fakeStore{}
	svc := &EchoService{
		Store: st, Scheduler: &fakeScheduler{},
		MinRandomDelay: time.Hour,
		MaxRandomDelay: 2 * time.Hour,
	}

	now := time.Now().UTC()
	for i := 0; i < 20; i++ {
		echo, err := svc.CreateEcho(context.Background(), "user_1", textReq(nil), now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d := echo.DeliverAt.Sub(now)
		if d < time.Hour || d > 2*time.Hour {
			t.Fatalf("random deliverAt outside window: %v", d)
		}
	}
}

func TestCreateEchoKeepsExplicitOrderIndexes(t *testing.T) {
	st := &fakeStore{}
	svc := &EchoService{Store: st, Scheduler: &fakeScheduler{}}

	five := 5
	req := domain.CreateEchoRequest{Parts: []domain.PartInput{
		{Type: domain.PartText, Content: "later", OrderIndex: &five},
		{Type: domain.PartText, Content: "auto"},
	}}
	echo, err := svc.CreateEcho(context.Background(), "user_1", req, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if echo.Parts[0].OrderIndex != 5 || echo.Parts[1].OrderIndex != 1 {
		t.Fatalf("order indexes wrong: %+v", echo.Parts)
	}
}

func TestDeleteEchoCancelsPendingJob(t *testing.T) {
	st := &fakeStore{deleteHit: true}
	sch := &fakeScheduler{cancelHit: true}
	svc := &EchoService{Store: st, Scheduler: sch}

	ok, err := svc.DeleteEcho(context.Background(), "echo_1", "user_1")
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
	if len(sch.cancelled) != 1 || sch.cancelled[0] != "echo_1" {
		t.Fatalf("cancel not invoked: %v", sch.cancelled)
	}
}

func TestDeleteEchoByNonOwnerLeavesJobPending(t *testing.T) {
	st := &fakeStore{deleteHit: false}
	sch := &fakeScheduler{cancelHit: true}
	svc := &EchoService{Store: st, Scheduler: sch}

	ok, err := svc.DeleteEcho(context.Background(), "echo_1", "not_the_owner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("delete should report false for a non-owner")
	}
	if len(sch.cancelled) != 0 {
		t.Fatalf("owner's pending job must survive a non-owner delete, cancelled: %v", sch.cancelled)
	}
}

func TestDeleteEchoStoreErrorSkipsCancel(t *testing.T) {
	st := &fakeStore{deleteErr: errors.New("db down")}
	sch := &fakeScheduler{}
	svc := &EchoService{Store: st, Scheduler: sch}

	if _, err := svc.DeleteEcho(context.Background(), "echo_1", "user_1"); err == nil {
		t.Fatal("expected store error")
	}
	if len(sch.cancelled) != 0 {
		t.Fatalf("cancel must not run when the delete failed, cancelled: %v", sch.cancelled)
	}
}

func TestGetEchoHidesOtherUsersEchoes(t *testing.T) {
	st := &fakeStore{echo: domain.Echo{ID: "echo_1", UserID: "someone_else"}}
	svc := &EchoService{Store: st, Scheduler: &fakeScheduler{}}

	_, err := svc.GetEcho(context.Background(), "echo_1", "user_1")
	if !errors.Is(err, domain.ErrEchoNotFound) {
		t.Fatalf("got %v, want ErrEchoNotFound", err)
	}
}

func TestRegisterDeviceDefaults(t *testing.T) {
	st := &fakeStore{}
	svc := &EchoService{Store: st, Scheduler: &fakeScheduler{}}

	reg, err := svc.RegisterDevice(context.Background(), "user_1",
		domain.RegisterDeviceRequest{DeviceToken: "tok-a"}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.DeviceID == "" {
		t.Fatal("device id should be generated")
	}
	if reg.DeviceType != domain.DeviceUnknown {
		t.Fatalf("device type should default to unknown, got %q", reg.DeviceType)
	}
	if len(st.upserts) != 1 || !reg.IsActive {
		t.Fatalf("upsert missing or inactive: %+v", reg)
	}
}
