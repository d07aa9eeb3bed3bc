package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type (
	Config struct {
		HTTP        HTTP
		Log         Log
		PG          PG
		S3          S3
		Kafka       Kafka
		Webhook     Webhook
		ClickSign   ClickSign
		Inter       Inter
		Jobs        Jobs
		Reconcile   Reconcile
		OutboxRelay OutboxRelay
		Swagger     Swagger
	}

	HTTP struct {
		Port           string `env:"HTTP_PORT,required"`
		UsePreforkMode bool   `env:"HTTP_USE_PREFORK_MODE" envDefault:"false"`
	}

	Log struct {
		Level string `env:"LOG_LEVEL,required"`
	}

	PG struct {
		PoolMax int    `env:"PG_POOL_MAX,required"`
		URL     string `env:"PG_URL,required"`
	}

	S3 struct {
		Endpoint       string        `env:"S3_ENDPOINT,required"`
		AccessKey      string        `env:"S3_ACCESS_KEY,required"`
		SecretKey      string        `env:"S3_SECRET_KEY,required"`
		Bucket         string        `env:"S3_BUCKET,required"`
		CfgLoadTimeout time.Duration `env:"S3_LOAD_CFG_TIMEOUT" envDefault:"10s"`
	}

	Kafka struct {
		Brokers []string `env:"KAFKA_BROKERS,required"`
		Topic   string   `env:"KAFKA_TOPIC,required"`
	}

	Webhook struct {
		ClickSignSecret string        `env:"WEBHOOK_CLICKSIGN_SECRET,required"`
		InterSecret     string        `env:"WEBHOOK_INTER_SECRET,required"`
		MaxSkew         time.Duration `env:"WEBHOOK_MAX_SKEW" envDefault:"5m"`
	}

	ClickSign struct {
		BaseURL        string        `env:"CLICKSIGN_BASE_URL,required"`
		AccessToken    string        `env:"CLICKSIGN_ACCESS_TOKEN,required"`
		MaxElapsedTime time.Duration `env:"CLICKSIGN_MAX_ELAPSED_TIME" envDefault:"30s"`
	}

	Inter struct {
		BaseURL        string        `env:"INTER_BASE_URL,required"`
		ClientID       string        `env:"INTER_CLIENT_ID,required"`
		ClientSecret   string        `env:"INTER_CLIENT_SECRET,required"`
		MaxElapsedTime time.Duration `env:"INTER_MAX_ELAPSED_TIME" envDefault:"30s"`
	}

	Jobs struct {
		MaxAttempts     int           `env:"JOBS_MAX_ATTEMPTS" envDefault:"4"`
		BackoffBase     time.Duration `env:"JOBS_BACKOFF_BASE" envDefault:"30s"`
		PollInterval    time.Duration `env:"JOBS_POLL_INTERVAL" envDefault:"2s"`
		JobTimeout      time.Duration `env:"JOBS_JOB_TIMEOUT" envDefault:"2m"` // provider round trips plus storage
		StuckInterval   time.Duration `env:"JOBS_STUCK_INTERVAL" envDefault:"5m"`
		StuckAfter      time.Duration `env:"JOBS_STUCK_AFTER" envDefault:"10m"`
		Workers         int           `env:"JOBS_WORKERS" envDefault:"5"`
		BatchSize       int           `env:"JOBS_BATCH_SIZE" envDefault:"10"`
		ShutdownTimeout time.Duration `env:"JOBS_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	}

	Reconcile struct {
		Interval        time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15m"`
		MinAge          time.Duration `env:"RECONCILE_MIN_AGE" envDefault:"2h"`
		BatchSize       int           `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`
		AlertThreshold  float64       `env:"RECONCILE_ALERT_THRESHOLD" envDefault:"0.5"`
		ShutdownTimeout time.Duration `env:"RECONCILE_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	}

	OutboxRelay struct {
		PollInterval        time.Duration `env:"OUTBOX_RELAY_POLL_INTERVAL" envDefault:"2s"`
		MarkFailedInterval  time.Duration `env:"OUTBOX_RELAY_MARK_FAILED_INTERVAL" envDefault:"2m"`
		CleanupInterval     time.Duration `env:"OUTBOX_RELAY_CLEANUP_INTERVAL" envDefault:"24h"`
		ProcessBatchTimeout time.Duration `env:"OUTBOX_RELAY_PROCESS_BATCH_TIMEOUT" envDefault:"15s"`
		ShutdownTimeout     time.Duration `env:"OUTBOX_RELAY_SHUTDOWN_TIMEOUT" envDefault:"5s"`
		BatchSize           int           `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"100"`
		MaxRetries          int           `env:"OUTBOX_RELAY_MAX_RETRIES" envDefault:"3"`
	}

	Swagger struct {
		Enabled bool `env:"SWAGGER_ENABLED" envDefault:"false"`
	}
)

func New() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}
