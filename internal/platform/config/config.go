// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration.
type Config struct {
	Server    Server
	Engine    Engine
	Postgres  PostgresConfig
	Redis     RedisConfig
	Minio     MinioConfig
	RabbitMQ  RabbitMQConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	Vision    CollaboratorConfig `envPrefix:"VISION_"`
	Weather   CollaboratorConfig `envPrefix:"WEATHER_"`
	Payment   CollaboratorConfig `envPrefix:"PAYMENT_"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"VERICROP_ADDR"             envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL"                 envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT"                envDefault:"json"`
	ReviewerJWTKey  string        `env:"REVIEWER_JWT_KEY"`
	ShutdownTimeout time.Duration `env:"VERICROP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Engine tunes the truth engine pipeline.
type Engine struct {
	ProcessingBudget     time.Duration `env:"ENGINE_PROCESSING_BUDGET"      envDefault:"60s"`
	SolarTimeout         time.Duration `env:"ENGINE_SOLAR_TIMEOUT"          envDefault:"20s"`
	WeatherTimeout       time.Duration `env:"ENGINE_WEATHER_TIMEOUT"        envDefault:"15s"`
	AIDamageTimeout      time.Duration `env:"ENGINE_AI_DAMAGE_TIMEOUT"      envDefault:"30s"`
	VideoTimeout         time.Duration `env:"ENGINE_VIDEO_TIMEOUT"          envDefault:"30s"`
	MinQuorum            int           `env:"ENGINE_MIN_QUORUM"             envDefault:"2"`
	AutoApproveThreshold float64       `env:"ENGINE_AUTO_APPROVE_THRESHOLD" envDefault:"0.85"`
	AuditSampleRate      float64       `env:"ENGINE_AUDIT_SAMPLE_RATE"      envDefault:"0.05"`
	AuditSeed            string        `env:"ENGINE_AUDIT_SEED"             envDefault:"vericrop-audit-v1"`
	WeightSolarShadow    float64       `env:"ENGINE_WEIGHT_SOLAR_SHADOW"    envDefault:"0.40"`
	WeightWeather        float64       `env:"ENGINE_WEIGHT_WEATHER"         envDefault:"0.20"`
	WeightAIDamage       float64       `env:"ENGINE_WEIGHT_AI_DAMAGE"       envDefault:"0.20"`
	WeightVideo          float64       `env:"ENGINE_WEIGHT_VIDEO"           envDefault:"0.20"`
	Workers              int           `env:"ENGINE_WORKERS"                envDefault:"8"`
	QueueSize            int           `env:"ENGINE_QUEUE_SIZE"             envDefault:"256"`
	LedgerMaxRetries     uint64        `env:"ENGINE_LEDGER_MAX_RETRIES"     envDefault:"5"`
	LTVRatio             float64       `env:"ENGINE_LTV_RATIO"              envDefault:"0.70"`
	LockTTL              time.Duration `env:"ENGINE_LOCK_TTL"               envDefault:"90s"`
}

// PostgresConfig selects PostgreSQL-backed stores when URL is set.
type PostgresConfig struct {
	URL          string        `env:"DATABASE_URL"`
	MaxOpenConns int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLife  time.Duration `env:"DATABASE_CONN_MAX_LIFE"  envDefault:"30m"`
}

// RedisConfig selects the Redis claim lock when URL is set.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE"      envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"  envDefault:"3s"`
}

// MinioConfig selects the MinIO evidence store when Endpoint is set.
type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Secure    bool   `env:"MINIO_SECURE"   envDefault:"false"`
	Bucket    string `env:"MINIO_BUCKET"   envDefault:"claim-evidence"`
}

// RabbitMQConfig selects the RabbitMQ review queue when URL is set.
type RabbitMQConfig struct {
	URL                 string `env:"RABBITMQ_URL"`
	ReviewQueue         string `env:"RABBITMQ_REVIEW_QUEUE"          envDefault:"claim_review_requests"`
	ReviewDecisionQueue string `env:"RABBITMQ_REVIEW_DECISION_QUEUE" envDefault:"claim_review_decisions"`
	NoticeQueue         string `env:"RABBITMQ_NOTICE_QUEUE"          envDefault:"claim_rejection_notices"`
}

// KafkaConfig enables the audit stream when Brokers is set.
type KafkaConfig struct {
	Brokers    []string `env:"KAFKA_BROKERS"     envSeparator:","`
	AuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"vericrop.audit"`
}

// RateLimitConfig throttles claim submissions per client IP. Zero disables it.
type RateLimitConfig struct {
	Submissions int           `env:"RATE_LIMIT_SUBMISSIONS" envDefault:"30"`
	Window      time.Duration `env:"RATE_LIMIT_WINDOW"      envDefault:"1m"`
}

// CollaboratorConfig locates an HTTP collaborator. Empty URL selects the in-memory fake.
type CollaboratorConfig struct {
	URL     string        `env:"URL"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	e := c.Engine
	var errs []error
	if e.ProcessingBudget <= 0 {
		errs = append(errs, errors.New("ENGINE_PROCESSING_BUDGET must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"ENGINE_SOLAR_TIMEOUT":     e.SolarTimeout,
		"ENGINE_WEATHER_TIMEOUT":   e.WeatherTimeout,
		"ENGINE_AI_DAMAGE_TIMEOUT": e.AIDamageTimeout,
		"ENGINE_VIDEO_TIMEOUT":     e.VideoTimeout,
	} {
		if d <= 0 || d > e.ProcessingBudget {
			errs = append(errs, fmt.Errorf("%s must be in (0, ENGINE_PROCESSING_BUDGET]", name))
		}
	}
	if e.MinQuorum < 1 || e.MinQuorum > 4 {
		errs = append(errs, errors.New("ENGINE_MIN_QUORUM must be between 1 and 4"))
	}
	if e.AutoApproveThreshold <= 0 || e.AutoApproveThreshold > 1 {
		errs = append(errs, errors.New("ENGINE_AUTO_APPROVE_THRESHOLD must be in (0, 1]"))
	}
	if e.AuditSampleRate < 0 || e.AuditSampleRate > 1 {
		errs = append(errs, errors.New("ENGINE_AUDIT_SAMPLE_RATE must be in [0, 1]"))
	}
	for name, w := range map[string]float64{
		"ENGINE_WEIGHT_SOLAR_SHADOW": e.WeightSolarShadow,
		"ENGINE_WEIGHT_WEATHER":      e.WeightWeather,
		"ENGINE_WEIGHT_AI_DAMAGE":    e.WeightAIDamage,
		"ENGINE_WEIGHT_VIDEO":        e.WeightVideo,
	} {
		if w < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if e.WeightSolarShadow+e.WeightWeather+e.WeightAIDamage+e.WeightVideo <= 0 {
		errs = append(errs, errors.New("signal weights must not all be zero"))
	}
	if e.Workers < 1 || e.QueueSize < 1 {
		errs = append(errs, errors.New("ENGINE_WORKERS and ENGINE_QUEUE_SIZE must be positive"))
	}
	if e.LTVRatio <= 0 || e.LTVRatio > 1 {
		errs = append(errs, errors.New("ENGINE_LTV_RATIO must be in (0, 1]"))
	}
	if c.RateLimit.Submissions < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SUBMISSIONS must not be negative"))
	}
	if c.RateLimit.Submissions > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if e.LockTTL < e.ProcessingBudget {
		errs = append(errs, errors.New("ENGINE_LOCK_TTL must cover ENGINE_PROCESSING_BUDGET"))
	}
	return errors.Join(errs...)
}
