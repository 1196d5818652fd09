package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Redis (delayed job store)
	RedisAddr     string `envconfig:"REDIS_ADDR" required:"true"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Bounded timeout for synchronous schedule/cancel calls.
	ScheduleTimeoutMs int `envconfig:"SCHEDULE_TIMEOUT_MS" default:"5000"`

	// Echoes created without an explicit deliverAt get a random future
	// time within [min, max] from now.
	RandomDeliverMinHours int `envconfig:"RANDOM_DELIVER_MIN_HOURS" default:"24"`
	RandomDeliverMaxHours int `envconfig:"RANDOM_DELIVER_MAX_HOURS" default:"720"`
}

type WorkerConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// DB pool; the fan-out keeps several audit/deactivate writes in
	// flight per job, so the worker sizes its pool explicitly.
	DBPoolMaxConns        int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns        int32         `envconfig:"DB_POOL_MIN_CONNS" default:"2"`
	DBPoolMaxConnLifetime time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBPoolMaxConnIdleTime time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`

	// Redis (delayed job store)
	RedisAddr     string `envconfig:"REDIS_ADDR" required:"true"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Dispatcher
	WorkerConcurrency int     `envconfig:"WORKER_CONCURRENCY" default:"5"`
	DispatchRPS       float64 `envconfig:"DISPATCH_RPS" default:"10"`
	DispatchBurst     int     `envconfig:"DISPATCH_BURST" default:"10"`
	JobMaxAttempts    int     `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
	JobBackoffBaseMs  int     `envconfig:"JOB_BACKOFF_BASE_MS" default:"2000"`
	PollIntervalMs    int     `envconfig:"POLL_INTERVAL_MS" default:"500"`

	// FCM
	FCMServerKey       string  `envconfig:"FCM_SERVER_KEY" required:"true"`
	FCMEndpoint        string  `envconfig:"FCM_ENDPOINT" default:"https://fcm.googleapis.com/fcm/send"`
	FCMTimeoutMs       int     `envconfig:"FCM_TIMEOUT_MS" default:"8000"`
	FCMRPSPerPod       float64 `envconfig:"FCM_RPS_PER_POD" default:"10"`
	FCMBurst           int     `envconfig:"FCM_BURST" default:"20"`
	DeviceSendTimeoutS int     `envconfig:"DEVICE_SEND_TIMEOUT_S" default:"10"`

	// AWS / SQS dead letter reporting for abandoned jobs
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	DeadLetterQueueURL string `envconfig:"DEAD_LETTER_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
