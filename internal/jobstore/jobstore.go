// Package jobstore adapts Redis into the durable delayed job store backing
// echo delivery: delayed enqueue with a deterministic dedup key, keyed
// removal, and an at-least-once dispatcher with bounded concurrency,
// bounded start rate, and retry with exponential backoff.
package jobstore

import "context"

// Payload is the unit of work carried by a delivery job.
type Payload struct {
	EchoID string `json:"echoId"`
	UserID string `json:"userId"`
}

// Job is one dispatched execution. Attempt starts at 1.
type Job struct {
	Key     string
	Payload Payload
	Attempt int
}

// Result is the tagged outcome of a job execution. Only ResultRetry feeds
// back into the store's retry mechanism.
type Result int

const (
	// ResultOK: terminal success, the job is removed.
	ResultOK Result = iota
	// ResultRetry: retryable failure, the job is re-enqueued with backoff
	// until attempts run out, then abandoned and reported.
	ResultRetry
	// ResultDrop: terminal failure, the job is removed without retry.
	ResultDrop
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultRetry:
		return "retry"
	case ResultDrop:
		return "drop"
	}
	return "unknown"
}

// Handler executes one due job.
type Handler func(ctx context.Context, job Job) Result

// AbandonReporter surfaces jobs that exhausted their attempts to an
// operator-visible channel.
type AbandonReporter interface {
	ReportAbandoned(ctx context.Context, job Job, lastErr string) error
}
