package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"vericrop/internal/certificate"
	ledger "vericrop/internal/certificate/adapters/ledger"
	certstore "vericrop/internal/certificate/store"
	"vericrop/internal/claims"
	claimstore "vericrop/internal/claims/store"
	"vericrop/internal/decision"
	decisionmetrics "vericrop/internal/decision/metrics"
	"vericrop/internal/engine"
	"vericrop/internal/engine/lock"
	enginemetrics "vericrop/internal/engine/metrics"
	"vericrop/internal/engine/worker"
	"vericrop/internal/loan"
	"vericrop/internal/loan/adapters/payment"
	loanstore "vericrop/internal/loan/store"
	"vericrop/internal/platform/config"
	"vericrop/internal/platform/minio"
	"vericrop/internal/platform/postgres"
	"vericrop/internal/platform/rabbitmq"
	"vericrop/internal/platform/redis"
	"vericrop/internal/ratelimit"
	ratelimitmetrics "vericrop/internal/ratelimit/metrics"
	ratelimitmw "vericrop/internal/ratelimit/middleware"
	ratelimitstore "vericrop/internal/ratelimit/store"
	"vericrop/internal/review"
	reviewmemory "vericrop/internal/review/adapters/memory"
	reviewrabbit "vericrop/internal/review/adapters/rabbitmq"
	"vericrop/internal/signals"
	"vericrop/internal/signals/adapters/evidence"
	"vericrop/internal/signals/adapters/httpjson"
	"vericrop/internal/signals/adapters/vision"
	"vericrop/internal/signals/adapters/weather"
	"vericrop/internal/signals/collectors"
	"vericrop/internal/signals/ports"
	"vericrop/pkg/platform/audit"
	"vericrop/pkg/platform/audit/publisher"
	kafkasink "vericrop/pkg/platform/audit/publishers/kafka"
	auditmemory "vericrop/pkg/platform/audit/store/memory"
	auditpostgres "vericrop/pkg/platform/audit/store/postgres"
	"vericrop/pkg/platform/circuit"
	"vericrop/pkg/platform/retry"
)

// infra holds the backing services selected by configuration. Unset
// backends fall back to in-process implementations.
type infra struct {
	db     *sql.DB
	pool   *pgxpool.Pool
	redis  *redis.Client
	rabbit *rabbitmq.Connection
	kafka  *kgo.Client

	claims     claims.Store
	certs      certificate.Store
	ledger     certificate.Ledger
	loans      loan.Store
	auditStore audit.Store
	evidence   ports.EvidenceStore
	locker     lock.Locker
	reviews    review.Queue
	notifier   review.Notifier
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}

	if cfg.Postgres.URL != "" {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return in, err
		}
		in.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			return in, err
		}
		pool, err := postgres.OpenPool(ctx, cfg.Postgres)
		if err != nil {
			return in, err
		}
		in.pool = pool
		in.claims = claimstore.NewPostgres(db)
		in.certs = certstore.NewPostgres(db)
		in.ledger = ledger.NewPostgres(pool)
		in.loans = loanstore.NewPostgres(db)
		in.auditStore = auditpostgres.New(db)
		log.InfoContext(ctx, "using postgres stores")
	} else {
		in.claims = claimstore.NewInMemoryStore()
		in.certs = certstore.NewInMemoryStore()
		in.ledger = ledger.NewInMemory()
		in.loans = loanstore.NewInMemoryStore()
		in.auditStore = auditmemory.NewInMemoryStore()
		log.WarnContext(ctx, "DATABASE_URL not set, using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return in, err
	}
	if rc != nil {
		in.redis = rc
		in.locker = lock.NewRedis(rc.Client, lock.WithLogger(log))
	} else {
		in.locker = lock.NewInMemory()
	}

	mc, err := minio.New(ctx, cfg.Minio)
	if err != nil {
		return in, err
	}
	if mc != nil {
		in.evidence = evidence.NewMinioStore(mc, cfg.Minio.Bucket)
	} else {
		in.evidence = evidence.NewInMemoryStore()
		log.WarnContext(ctx, "MINIO_ENDPOINT not set, evidence metadata is in-memory")
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, log)
	if err != nil {
		return in, err
	}
	if conn != nil {
		in.rabbit = conn
		pub := reviewrabbit.NewPublisher(conn.Channel, cfg.RabbitMQ.ReviewQueue, cfg.RabbitMQ.NoticeQueue,
			reviewrabbit.WithLogger(log))
		in.reviews, in.notifier = pub, pub
	} else {
		q := reviewmemory.NewQueue()
		in.reviews, in.notifier = q, q
	}

	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafkasink.NewClient(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return in, err
		}
		in.kafka = client
	}
	return in, nil
}

func (in *infra) close(log *slog.Logger) {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.rabbit != nil {
		if err := in.rabbit.Close(); err != nil {
			log.Error("failed to close rabbitmq", "error", err)
		}
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Error("failed to close redis", "error", err)
		}
	}
	if in.pool != nil {
		in.pool.Close()
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			log.Error("failed to close postgres", "error", err)
		}
	}
}

func newAuditPublisher(in *infra, topic string, log *slog.Logger) *publisher.Publisher {
	opts := []publisher.Option{publisher.WithAsyncBuffer(1024), publisher.WithLogger(log)}
	if in.kafka != nil {
		opts = append(opts, publisher.WithSink(kafkasink.NewSink(in.kafka, topic)))
	}
	return publisher.NewPublisher(in.auditStore, opts...)
}

// newSubmissionLimit shares counters through Redis when it is configured.
func newSubmissionLimit(cfg config.RateLimitConfig, in *infra, reg prometheus.Registerer, log *slog.Logger) *ratelimitmw.Middleware {
	opts := []ratelimitmw.Option{
		ratelimitmw.WithLogger(log),
		ratelimitmw.WithMetrics(ratelimitmetrics.New(reg)),
	}
	if cfg.Submissions == 0 {
		return ratelimitmw.New(nil, append(opts, ratelimitmw.WithDisabled(true))...)
	}

	var store ratelimit.Store = ratelimitstore.NewInMemory()
	if in.redis != nil {
		store = ratelimitstore.NewRedis(in.redis.Client)
	}
	limiter, err := ratelimit.New(store, cfg.Submissions, cfg.Window)
	if err != nil {
		log.Error("invalid rate limit configuration, submissions are not throttled", "error", err)
		return ratelimitmw.New(nil, append(opts, ratelimitmw.WithDisabled(true))...)
	}
	return ratelimitmw.New(limiter, opts...)
}

func httpCollaborator(name string, cc config.CollaboratorConfig, log *slog.Logger) *httpjson.Client {
	return httpjson.New(name, cc.URL, cc.Timeout,
		httpjson.WithAPIKey(cc.APIKey),
		httpjson.WithBreaker(circuit.New(name, circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))),
		httpjson.WithRetryPolicy(retry.DefaultPolicy()),
		httpjson.WithLogger(log),
	)
}

func newRunner(cfg config.Config, in *infra, weights signals.Weights, m *enginemetrics.Metrics, log *slog.Logger) (*signals.Runner, error) {
	var visionScorer ports.VisionScorer
	if cfg.Vision.URL != "" {
		visionScorer = vision.NewClient(httpCollaborator("vision", cfg.Vision, log))
	} else {
		visionScorer = vision.NewInMemory(ports.VisionResult{})
		log.Warn("VISION_URL not set, using in-memory vision scorer")
	}
	// Solar and damage collectors share one vision call per claim.
	shared := collectors.NewSharedVision(visionScorer)

	var correlator ports.WeatherCorrelator
	if cfg.Weather.URL != "" {
		correlator = weather.NewClient(httpCollaborator("weather", cfg.Weather, log))
	} else {
		correlator = weather.NewInMemory(0)
		log.Warn("WEATHER_URL not set, using in-memory weather correlator")
	}

	e := cfg.Engine
	return signals.NewRunner(e.ProcessingBudget, weights, []signals.Registration{
		{Collector: collectors.NewSolarShadow(shared), Timeout: e.SolarTimeout},
		{Collector: collectors.NewWeather(correlator), Timeout: e.WeatherTimeout},
		{Collector: collectors.NewDamageClassification(shared), Timeout: e.AIDamageTimeout},
		{Collector: collectors.NewVideoForensics(in.evidence), Timeout: e.VideoTimeout},
	}, signals.WithRunnerLogger(log), signals.WithObserver(m))
}

func newPayer(cfg config.Config, log *slog.Logger) loan.Payer {
	if cfg.Payment.URL != "" {
		return payment.NewClient(cfg.Payment.URL, cfg.Payment.APIKey, cfg.Payment.Timeout)
	}
	log.Warn("PAYMENT_URL not set, using in-memory payment rail")
	return payment.NewInMemory()
}

// newEngine assembles the pipeline service on top of infra.
func newEngine(cfg config.Config, in *infra, pool *worker.Pool, auditor engine.AuditPublisher, reg prometheus.Registerer, log *slog.Logger) (*engine.Service, error) {
	e := cfg.Engine
	weights := signals.Weights{
		signals.SolarShadow:            e.WeightSolarShadow,
		signals.WeatherCorrelation:     e.WeightWeather,
		signals.AIDamageClassification: e.WeightAIDamage,
		signals.VideoForensics:         e.WeightVideo,
	}
	m := enginemetrics.New(reg)

	runner, err := newRunner(cfg, in, weights, m, log)
	if err != nil {
		return nil, fmt.Errorf("build signal runner: %w", err)
	}
	issuer := certificate.NewIssuer(in.certs, in.ledger,
		certificate.WithLogger(log),
		certificate.WithRetryPolicy(retry.Policy{
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxRetries:      e.LedgerMaxRetries,
		}),
		certificate.WithLedgerObserver(m),
	)
	lender := loan.NewLender(loan.NewCalculator(e.LTVRatio), in.loans, newPayer(cfg, log),
		loan.WithLogger(log),
		loan.WithDisbursementObserver(m),
	)

	return engine.New(engine.Deps{
		Claims:     in.claims,
		Evidence:   in.evidence,
		Runner:     runner,
		Aggregator: signals.NewAggregator(weights, e.MinQuorum, e.AutoApproveThreshold),
		Decider:    decision.NewEngine(e.AutoApproveThreshold, decision.NewSampler(e.AuditSeed, e.AuditSampleRate)),
		Issuer:     issuer,
		Lender:     lender,
		Reviews:    in.reviews,
		Notifier:   in.notifier,
		Locker:     in.locker,
	},
		engine.WithLogger(log),
		engine.WithPool(pool),
		engine.WithAuditPublisher(auditor),
		engine.WithMetrics(m, decisionmetrics.New(reg)),
		engine.WithLockTTL(e.LockTTL),
	)
}
