// Package engine runs the claim pipeline: intake, signal collection,
// disposition, human review, certificate issuance and loan disbursement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"vericrop/internal/certificate"
	"vericrop/internal/claims"
	"vericrop/internal/decision"
	decisionmetrics "vericrop/internal/decision/metrics"
	"vericrop/internal/engine/lock"
	"vericrop/internal/engine/metrics"
	"vericrop/internal/engine/worker"
	"vericrop/internal/loan"
	"vericrop/internal/review"
	"vericrop/internal/signals"
	"vericrop/internal/signals/ports"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/audit"
	"vericrop/pkg/platform/sentinel"
	"vericrop/pkg/requestcontext"
)

const (
	defaultLockTTL = 2 * time.Minute
	recoverBatch   = 500
)

// AuditPublisher records engine transitions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Deps are the collaborators the pipeline cannot run without.
type Deps struct {
	Claims     claims.Store
	Evidence   ports.EvidenceStore
	Runner     *signals.Runner
	Aggregator *signals.Aggregator
	Decider    *decision.Engine
	Issuer     *certificate.Issuer
	Lender     *loan.Lender
	Reviews    review.Queue
	Notifier   review.Notifier
	Locker     lock.Locker
}

// Service implements the claim, certificate and loan operations.
type Service struct {
	claims     claims.Store
	evidence   ports.EvidenceStore
	runner     *signals.Runner
	aggregator *signals.Aggregator
	decider    *decision.Engine
	issuer     *certificate.Issuer
	lender     *loan.Lender
	reviews    review.Queue
	notifier   review.Notifier
	locker     lock.Locker

	pool            *worker.Pool
	auditor         AuditPublisher
	metrics         *metrics.Metrics
	decisionMetrics *decisionmetrics.Metrics
	tracer          trace.Tracer
	logger          *slog.Logger
	now             func() time.Time
	lockTTL         time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPool schedules submitted claims on pool. Without a pool callers run
// Process themselves.
func WithPool(pool *worker.Pool) Option {
	return func(s *Service) { s.pool = pool }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics, dm *decisionmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
		s.decisionMetrics = dm
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func New(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Claims == nil:
		return nil, errors.New("engine: claim store is required")
	case deps.Evidence == nil:
		return nil, errors.New("engine: evidence store is required")
	case deps.Runner == nil || deps.Aggregator == nil || deps.Decider == nil:
		return nil, errors.New("engine: runner, aggregator and decider are required")
	case deps.Issuer == nil || deps.Lender == nil:
		return nil, errors.New("engine: issuer and lender are required")
	case deps.Reviews == nil || deps.Notifier == nil:
		return nil, errors.New("engine: review queue and notifier are required")
	case deps.Locker == nil:
		return nil, errors.New("engine: locker is required")
	}
	s := &Service{
		claims:     deps.Claims,
		evidence:   deps.Evidence,
		runner:     deps.Runner,
		aggregator: deps.Aggregator,
		decider:    deps.Decider,
		issuer:     deps.Issuer,
		lender:     deps.Lender,
		reviews:    deps.Reviews,
		notifier:   deps.Notifier,
		locker:     deps.Locker,
		tracer:     otel.Tracer("vericrop/internal/engine"),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
		lockTTL:    defaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit validates and stores a new claim, then schedules it for
// processing. A claim that cannot be scheduled stays PENDING for Recover.
func (s *Service) Submit(ctx context.Context, sub claims.Submission) (*claims.Claim, error) {
	c, err := claims.NewClaim(sub, domain.NewClaimID(), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.claims.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("save claim: %w", err)
	}
	s.logger.InfoContext(ctx, "claim submitted",
		"claim_id", c.ID.String(),
		"farmer_id", c.FarmerID.String(),
		"damage_type", string(c.DamageType),
	)
	s.emit(ctx, audit.Event{
		ClaimID:  c.ID.String(),
		Action:   string(audit.ActionClaimSubmitted),
		Decision: string(c.State),
	})
	s.schedule(ctx, c.ID)
	return c, nil
}

func (s *Service) schedule(ctx context.Context, id domain.ClaimID) {
	if s.pool == nil {
		return
	}
	err := s.pool.Submit(func(jobCtx context.Context) error {
		return s.Process(jobCtx, id)
	})
	if err != nil {
		s.metrics.IncJobsRejected()
		s.logger.WarnContext(ctx, "claim not scheduled",
			"claim_id", id.String(),
			"error", err,
		)
	}
}

// Status returns the claim with its certificate and loan, when present.
func (s *Service) Status(ctx context.Context, id domain.ClaimID) (*claims.Report, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &claims.Report{Claim: c}
	if c.CertificateID == nil {
		return report, nil
	}
	cert, err := s.issuer.Get(ctx, *c.CertificateID)
	if err != nil {
		return nil, err
	}
	report.Certificate = cert

	offer, err := s.lender.ForCertificate(ctx, cert.ID)
	switch {
	case err == nil:
		report.Loan = offer
	case !dErrors.HasCode(err, dErrors.CodeNotFound):
		return nil, err
	}
	return report, nil
}

// Recover reschedules claims left unfinished by a previous process: every
// PENDING claim, approved claims whose certificate was never attempted, and
// escalated or rejected claims whose handoff was never delivered.
func (s *Service) Recover(ctx context.Context) (int, error) {
	var ids []domain.ClaimID

	pending, err := s.claims.ListByState(ctx, decision.StatePending, recoverBatch)
	if err != nil {
		return 0, fmt.Errorf("list pending claims: %w", err)
	}
	for _, c := range pending {
		ids = append(ids, c.ID)
	}
	for _, state := range []decision.State{decision.StateAutoApproved, decision.StateHumanApproved} {
		approved, err := s.claims.ListByState(ctx, state, recoverBatch)
		if err != nil {
			return 0, fmt.Errorf("list %s claims: %w", state, err)
		}
		for _, c := range approved {
			if c.Issuance == claims.IssuanceNone {
				ids = append(ids, c.ID)
			}
		}
	}
	for _, state := range []decision.State{decision.StateEscalated, decision.StateRejected, decision.StateHumanRejected} {
		decided, err := s.claims.ListByState(ctx, state, recoverBatch)
		if err != nil {
			return 0, fmt.Errorf("list %s claims: %w", state, err)
		}
		for _, c := range decided {
			if c.AwaitingHandoff() {
				ids = append(ids, c.ID)
			}
		}
	}

	for _, id := range ids {
		s.schedule(ctx, id)
	}
	if len(ids) > 0 {
		s.logger.InfoContext(ctx, "recovered unfinished claims", "count", len(ids))
	}
	return len(ids), nil
}

func (s *Service) load(ctx context.Context, id domain.ClaimID) (*claims.Claim, error) {
	c, err := s.claims.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "claim not found")
		}
		return nil, fmt.Errorf("find claim: %w", err)
	}
	return c, nil
}

// acquire takes the claim's single-writer lock.
func (s *Service) acquire(ctx context.Context, id domain.ClaimID) (func(), error) {
	release, err := s.locker.Acquire(ctx, id.String(), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, dErrors.New(dErrors.CodeConflict, "claim is being processed")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "claim lock unavailable")
	}
	return release, nil
}

// save persists c when its stored state is still expected.
func (s *Service) save(ctx context.Context, c *claims.Claim, expected decision.State, appended ...decision.Disposition) error {
	c.UpdatedAt = s.now().UTC()
	if err := s.claims.Save(ctx, c, expected, appended...); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "claim changed concurrently")
		}
		return fmt.Errorf("save claim: %w", err)
	}
	c.History = append(c.History, appended...)
	return nil
}

func (s *Service) emit(ctx context.Context, ev audit.Event) {
	if s.auditor == nil {
		return
	}
	ev.Timestamp = s.now().UTC()
	ev.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditor.Emit(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed",
			"claim_id", ev.ClaimID,
			"action", ev.Action,
			"error", err,
		)
	}
}
