package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "echo_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Scheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "echo_schedule_total", Help: "Delivery job schedule results"},
		[]string{"result"},
	)
	Cancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "echo_cancel_total", Help: "Delivery job cancel results"},
		[]string{"result"},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "echo_delivery_total", Help: "Delivery job executions"},
		[]string{"result"},
	)
	PushSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "push_send_total", Help: "Per-device push outcomes"},
		[]string{"result"},
	)
	PushLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "push_send_latency_seconds", Help: "Per-device push latency"},
	)
	DevicesDeactivated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "push_devices_deactivated_total", Help: "Device tokens deactivated after permanent failures"},
	)
	JobsAbandoned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "echo_jobs_abandoned_total", Help: "Delivery jobs abandoned after retry exhaustion"},
	)
	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "echo_audit_write_failures_total", Help: "Best-effort audit writes that failed"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Scheduled, Cancelled, Deliveries, PushSend,
		PushLatency, DevicesDeactivated, JobsAbandoned, AuditWriteFailures)
}
