package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"echopush/internal/domain"
	"echopush/internal/store"
	"echopush/internal/util"
)

type Store interface {
	InsertEcho(ctx context.Context, in store.EchoInsert) error
	DeleteEcho(ctx context.Context, echoID, userID string) (bool, error)
	GetEchoWithParts(ctx context.Context, echoID string) (domain.Echo, error)
	ListEchoes(ctx context.Context, userID string) ([]store.EchoSummary, error)
	UpsertDevice(ctx context.Context, in store.DeviceUpsert) error
}

// Scheduler is the delivery pipeline's scheduling surface.
type Scheduler interface {
	Schedule(ctx context.Context, echoID, userID string, deliverAt time.Time) (string, error)
	Cancel(ctx context.Context, echoID string) (bool, error)
}

// EchoService glues the HTTP surface to storage and the delivery pipeline.
type EchoService struct {
	Store     Store
	Scheduler Scheduler

	// Echoes created without a deliverAt get a uniform random delivery
	// time in [MinRandomDelay, MaxRandomDelay] from now.
	MinRandomDelay time.Duration
	MaxRandomDelay time.Duration
}

// CreateEcho persists the echo and schedules its delivery. If scheduling
// fails the echo is rolled back: an echo that can never be delivered must
// not sit around looking pending.
func (s *EchoService) CreateEcho(ctx context.Context, userID string, req domain.CreateEchoRequest, now time.Time) (domain.Echo, error) {
	deliverAt := s.pickDeliverAt(req.DeliverAt, now)

	echo := domain.Echo{
		ID:        util.NewEchoID(),
		UserID:    userID,
		DeliverAt: deliverAt,
		CreatedAt: now,
	}
	ins := store.EchoInsert{ID: echo.ID, UserID: userID, DeliverAt: deliverAt, Now: now}
	for i, p := range req.Parts {
		idx := i
		if p.OrderIndex != nil {
			idx = *p.OrderIndex
		}
		part := domain.EchoPart{
			ID:         util.NewPartID(),
			Type:       p.Type,
			Content:    p.Content,
			OrderIndex: idx,
		}
		echo.Parts = append(echo.Parts, part)
		ins.Parts = append(ins.Parts, store.PartInsert{
			ID: part.ID, Type: string(part.Type), Content: part.Content, OrderIndex: part.OrderIndex,
		})
	}

	if err := s.Store.InsertEcho(ctx, ins); err != nil {
		return domain.Echo{}, err
	}

	if _, err := s.Scheduler.Schedule(ctx, echo.ID, userID, deliverAt); err != nil {
		if _, delErr := s.Store.DeleteEcho(ctx, echo.ID, userID); delErr != nil {
			slog.Error("echo rollback failed after scheduling error",
				"echo_id", echo.ID, "err", delErr)
		}
		return domain.Echo{}, fmt.Errorf("schedule echo %s: %w", echo.ID, err)
	}
	return echo, nil
}

// DeleteEcho removes the echo and then cancels its pending delivery.
// Returns false when the echo does not exist or belongs to someone else.
// The ownership-scoped row delete goes first so a non-owner's request
// cannot touch the owner's scheduled job; a cancel failure after the rows
// are gone is harmless, the stray job fails its echo fetch and eventually
// lands in the dead set.
func (s *EchoService) DeleteEcho(ctx context.Context, echoID, userID string) (bool, error) {
	deleted, err := s.Store.DeleteEcho(ctx, echoID, userID)
	if err != nil || !deleted {
		return deleted, err
	}
	if _, err := s.Scheduler.Cancel(ctx, echoID); err != nil {
		slog.Warn("cancel failed during echo delete", "echo_id", echoID, "err", err)
	}
	return true, nil
}

func (s *EchoService) GetEcho(ctx context.Context, echoID, userID string) (domain.Echo, error) {
	echo, err := s.Store.GetEchoWithParts(ctx, echoID)
	if err != nil {
		return domain.Echo{}, err
	}
	if echo.UserID != userID {
		return domain.Echo{}, domain.ErrEchoNotFound
	}
	return echo, nil
}

func (s *EchoService) ListEchoes(ctx context.Context, userID string) ([]store.EchoSummary, error) {
	return s.Store.ListEchoes(ctx, userID)
}

// RegisterDevice upserts a device token; a token seen before is reactivated
// in place, so repeated registration never multiplies rows.
func (s *EchoService) RegisterDevice(ctx context.Context, userID string, req domain.RegisterDeviceRequest, now time.Time) (domain.DeviceRegistration, error) {
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = util.NewDeviceID()
	}
	deviceType := req.DeviceType
	if deviceType == "" {
		deviceType = domain.DeviceUnknown
	}

	err := s.Store.UpsertDevice(ctx, store.DeviceUpsert{
		UserID:      userID,
		DeviceToken: req.DeviceToken,
		DeviceID:    deviceID,
		DeviceType:  string(deviceType),
		Now:         now,
	})
	if err != nil {
		return domain.DeviceRegistration{}, err
	}
	return domain.DeviceRegistration{
		UserID:      userID,
		DeviceToken: req.DeviceToken,
		DeviceID:    deviceID,
		DeviceType:  deviceType,
		IsActive:    true,
	}, nil
}

func (s *EchoService) pickDeliverAt(requested *time.Time, now time.Time) time.Time {
	if requested != nil {
		return *requested
	}
	min := s.MinRandomDelay
	max := s.MaxRandomDelay
	if min <= 0 {
		min = 24 * time.Hour
	}
	if max <= min {
		return now.Add(min)
	}
	return now.Add(min + rand.N(max-min))
}
