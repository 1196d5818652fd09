package delivery

import (
	"strings"
	"time"

	"echopush/internal/domain"
)

// Aggregate reduces the per-device outcomes of one fan-out into a
// DeliveryResult. It runs only after every fan-out goroutine has written
// its slot (the caller holds the barrier), so it is a plain single-threaded
// fold. Failures keep the original device order.
func Aggregate(echoID, userID string, outcomes []domain.DeliveryOutcome, completedAt time.Time) domain.DeliveryResult {
	res := domain.DeliveryResult{
		EchoID:        echoID,
		UserID:        userID,
		TotalTargeted: len(outcomes),
		CompletedAt:   completedAt,
	}
	for _, o := range outcomes {
		if o.Success {
			res.SuccessCount++
			continue
		}
		res.FailureCount++
		res.Failures = append(res.Failures, o)
	}
	return res
}

// failureSummary flattens failure detail for the audit record, capped so a
// huge device list cannot blow up the log row.
func failureSummary(failures []domain.DeliveryOutcome) string {
	if len(failures) == 0 {
		return ""
	}
	const maxDetailed = 5
	parts := make([]string, 0, maxDetailed+1)
	for i, f := range failures {
		if i == maxDetailed {
			parts = append(parts, "...")
			break
		}
		id := f.DeviceID
		if id == "" {
			id = "unknown-device"
		}
		parts = append(parts, id+": "+f.ErrorDetail)
	}
	return strings.Join(parts, "; ")
}
