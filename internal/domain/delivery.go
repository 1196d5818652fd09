package domain

import "time"

// DeliveryOutcome is one device's result within a single fan-out.
// Permanent is only meaningful when Success is false: it records whether
// the failure condemned the token itself.
type DeliveryOutcome struct {
	DeviceID    string
	DeviceToken string
	Success     bool
	Permanent   bool
	ErrorDetail string
}

// DeliveryResult summarizes one job execution. Failures keep the original
// device order for diagnosability. TotalTargeted is fixed before the
// fan-out begins.
type DeliveryResult struct {
	EchoID        string
	UserID        string
	TotalTargeted int
	SuccessCount  int
	FailureCount  int
	Failures      []DeliveryOutcome
	RenderedBody  string
	CompletedAt   time.Time
}

// NoOp reports whether the execution targeted zero devices, a legitimate
// steady state (user has no registered devices), not a failure.
func (r DeliveryResult) NoOp() bool { return r.TotalTargeted == 0 }
