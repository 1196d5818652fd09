package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"echopush/internal/domain"
	"echopush/internal/jobstore"
	"echopush/internal/observability"
	"echopush/internal/store"
)

// EchoStore is the slice of storage the worker reads echoes from and writes
// audit records to.
type EchoStore interface {
	GetEchoWithParts(ctx context.Context, echoID string) (domain.Echo, error)
	AppendAuditRecord(ctx context.Context, rec store.AuditRecord) error
}

// DeviceRegistry resolves a user's active devices and deactivates tokens
// the transport reports as permanently invalid.
type DeviceRegistry interface {
	GetActiveDevices(ctx context.Context, userID string) ([]domain.DeviceRegistration, error)
	Deactivate(ctx context.Context, deviceToken string) error
}

// Transport is the opaque send-to-device capability. A returned
// *domain.DeviceSendError carries the permanent/transient classification.
type Transport interface {
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

// Worker executes delivery jobs: resolve the echo, render the notification,
// fan out to every active device concurrently, deactivate dead tokens, and
// aggregate the outcomes. Safe for concurrent Execute calls on different
// echo ids; a duplicate execution for the same echo just pushes again
// (at-least-once semantics, accepted trade-off).
type Worker struct {
	Echoes    EchoStore
	Devices   DeviceRegistry
	Transport Transport

	// Limiter caps transport sends per pod, shared across executions.
	Limiter *rate.Limiter
	// Breaker fails device sends fast while the transport is melting.
	Breaker *gobreaker.CircuitBreaker

	// SendTimeout bounds each individual device send so one stuck device
	// cannot stall the rest of the fan-out.
	SendTimeout time.Duration

	Now func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Worker) sendTimeout() time.Duration {
	if w.SendTimeout > 0 {
		return w.SendTimeout
	}
	return 10 * time.Second
}

// Execute runs one delivery. A non-nil error means nothing could be
// delivered (echo unreadable) and the job should retry; every other
// condition, including every device failing, is a completed execution.
func (w *Worker) Execute(ctx context.Context, echoID, userID string) (domain.DeliveryResult, error) {
	echo, err := w.Echoes.GetEchoWithParts(ctx, echoID)
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("fetch echo %s: %w", echoID, err)
	}

	devices, err := w.Devices.GetActiveDevices(ctx, userID)
	if err != nil {
		// No devices is a steady state and a registry blip must not
		// retry the whole job, so degrade to an empty fan-out.
		slog.Error("device lookup failed, delivering to zero devices",
			"echo_id", echoID, "user_id", userID, "err", err)
		devices = nil
	}
	if len(devices) == 0 {
		slog.Info("no active devices for user, delivery is a no-op",
			"echo_id", echoID, "user_id", userID)
		observability.Deliveries.WithLabelValues("noop").Inc()
		return domain.DeliveryResult{
			EchoID:      echoID,
			UserID:      userID,
			CompletedAt: w.now(),
		}, nil
	}

	body := RenderBody(echo.Parts)
	data := notificationData(echo, w.now())

	outcomes := w.fanOut(ctx, devices, body, data)
	w.deactivateDeadTokens(ctx, devices, outcomes)

	result := Aggregate(echoID, userID, outcomes, w.now())
	result.RenderedBody = body
	w.audit(ctx, result)

	observability.Deliveries.WithLabelValues("ok").Inc()
	slog.Info("echo delivered",
		"echo_id", echoID,
		"targeted", result.TotalTargeted,
		"succeeded", result.SuccessCount,
		"failed", result.FailureCount,
	)
	return result, nil
}

// fanOut pushes to every device concurrently. Each goroutine owns exactly
// one outcome slot, and the WaitGroup is a full barrier: aggregation never
// observes a half-written slice.
func (w *Worker) fanOut(ctx context.Context, devices []domain.DeviceRegistration, body string, data map[string]string) []domain.DeliveryOutcome {
	outcomes := make([]domain.DeliveryOutcome, len(devices))

	var wg sync.WaitGroup
	for i, d := range devices {
		wg.Add(1)
		go func(i int, d domain.DeviceRegistration) {
			defer wg.Done()
			outcomes[i] = w.sendOne(ctx, d, body, data)
		}(i, d)
	}
	wg.Wait()
	return outcomes
}

func (w *Worker) sendOne(ctx context.Context, d domain.DeviceRegistration, body string, data map[string]string) domain.DeliveryOutcome {
	outcome := domain.DeliveryOutcome{DeviceID: d.DeviceID, DeviceToken: d.DeviceToken}

	if w.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := w.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			observability.PushSend.WithLabelValues("rate_limited_local").Inc()
			outcome.ErrorDetail = "local rate limit wait exceeded"
			return outcome
		}
	}

	start := time.Now()
	err := w.executeWithBreaker(ctx, d.DeviceToken, body, data)
	observability.PushLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		observability.PushSend.WithLabelValues("ok").Inc()
		outcome.Success = true
		return outcome
	}

	outcome.ErrorDetail = err.Error()
	outcome.Permanent = domain.IsPermanentSendFailure(err)
	if outcome.Permanent {
		observability.PushSend.WithLabelValues("permanent_failure").Inc()
	} else {
		observability.PushSend.WithLabelValues("transient_failure").Inc()
	}
	slog.Warn("device push failed",
		"device_id", d.DeviceID,
		"permanent", outcome.Permanent,
		"err", err,
	)
	return outcome
}

func (w *Worker) executeWithBreaker(ctx context.Context, token, body string, data map[string]string) error {
	call := func() (any, error) {
		sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout())
		defer cancel()
		return nil, w.Transport.Send(sendCtx, token, NotificationTitle, body, data)
	}
	if w.Breaker == nil {
		_, err := call()
		return err
	}
	_, err := w.Breaker.Execute(call)
	return err
}

// deactivateDeadTokens retires registrations whose failure marks the token
// permanently invalid. Runs regardless of how the other devices fared; it
// is key-scoped per token, so no cross-device coordination is needed.
func (w *Worker) deactivateDeadTokens(ctx context.Context, devices []domain.DeviceRegistration, outcomes []domain.DeliveryOutcome) {
	for i, o := range outcomes {
		if o.Success || !o.Permanent {
			continue
		}
		d := devices[i]
		if err := w.Devices.Deactivate(ctx, d.DeviceToken); err != nil {
			slog.Error("device deactivation failed", "device_id", d.DeviceID, "err", err)
			continue
		}
		observability.DevicesDeactivated.Inc()
		slog.Info("deactivated invalid device token", "device_id", d.DeviceID)
	}
}

// audit writes the notification log row. Best effort: a failed write is
// counted and logged, never escalated.
func (w *Worker) audit(ctx context.Context, result domain.DeliveryResult) {
	status := store.AuditStatusFailed
	if result.SuccessCount > 0 {
		status = store.AuditStatusSent
	}
	rec := store.AuditRecord{
		EchoID:           result.EchoID,
		UserID:           result.UserID,
		NotificationType: "push",
		Status:           status,
		TokensTargeted:   result.TotalTargeted,
		TokensSuccessful: result.SuccessCount,
		ErrorDetails:     failureSummary(result.Failures),
		SentAt:           w.now(),
	}
	if err := w.Echoes.AppendAuditRecord(ctx, rec); err != nil {
		observability.AuditWriteFailures.Inc()
		slog.Warn("audit record write failed", "echo_id", result.EchoID, "err", err)
	}
}

// Handle adapts Execute to the job store's dispatch contract: only an
// unreadable echo maps to a retry, a payload with no echo id is dropped as
// poison, everything else is a completed execution.
func (w *Worker) Handle(ctx context.Context, job jobstore.Job) jobstore.Result {
	if job.Payload.EchoID == "" || job.Payload.UserID == "" {
		slog.Error("dropping job with incomplete payload", "key", job.Key)
		observability.Deliveries.WithLabelValues("drop").Inc()
		return jobstore.ResultDrop
	}
	if _, err := w.Execute(ctx, job.Payload.EchoID, job.Payload.UserID); err != nil {
		observability.Deliveries.WithLabelValues("retry").Inc()
		slog.Error("delivery execution failed",
			"echo_id", job.Payload.EchoID, "attempt", job.Attempt, "err", err)
		return jobstore.ResultRetry
	}
	return jobstore.ResultOK
}
