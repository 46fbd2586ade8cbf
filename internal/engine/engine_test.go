package engine

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vericrop/internal/certificate"
	ledger "vericrop/internal/certificate/adapters/ledger"
	certstore "vericrop/internal/certificate/store"
	"vericrop/internal/claims"
	claimstore "vericrop/internal/claims/store"
	"vericrop/internal/decision"
	"vericrop/internal/engine/lock"
	"vericrop/internal/engine/worker"
	"vericrop/internal/loan"
	"vericrop/internal/loan/adapters/payment"
	loanstore "vericrop/internal/loan/store"
	reviewmemory "vericrop/internal/review/adapters/memory"
	"vericrop/internal/signals"
	"vericrop/internal/signals/adapters/evidence"
	"vericrop/internal/signals/ports"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/retry"
	"vericrop/pkg/requestcontext"
)

type fakeCollector struct {
	name    signals.Name
	reading signals.Reading
	err     error
}

func (f fakeCollector) Name() signals.Name { return f.name }

func (f fakeCollector) Collect(ctx context.Context, _ signals.Input) (signals.Reading, error) {
	if err := ctx.Err(); err != nil {
		return signals.Reading{}, err
	}
	return f.reading, f.err
}

// readings gives every signal the same score; overrides replace single collectors.
func readings(score float64, overrides ...fakeCollector) []signals.Registration {
	byName := make(map[signals.Name]fakeCollector, len(signals.AllNames))
	for _, name := range signals.AllNames {
		byName[name] = fakeCollector{name: name, reading: signals.Reading{Score: score, RiskTier: domain.RiskLow}}
	}
	for _, o := range overrides {
		byName[o.name] = o
	}
	regs := make([]signals.Registration, 0, len(byName))
	for _, name := range signals.AllNames {
		regs = append(regs, signals.Registration{Collector: byName[name], Timeout: time.Second})
	}
	return regs
}

func failing(name signals.Name) fakeCollector {
	return fakeCollector{name: name, err: errors.New("collaborator down")}
}

type EngineSuite struct {
	suite.Suite
	now     time.Time
	claims  *claimstore.InMemoryStore
	ledger  *ledger.InMemory
	payer   *payment.InMemory
	queue   *reviewmemory.Queue
	locker  *lock.InMemory
	service *Service
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.now = time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)
	s.build(readings(0.92))
}

func (s *EngineSuite) build(regs []signals.Registration, opts ...Option) {
	s.claims = claimstore.NewInMemoryStore()
	s.ledger = ledger.NewInMemory()
	s.payer = payment.NewInMemory()
	s.queue = reviewmemory.NewQueue()
	s.locker = lock.NewInMemory()
	clock := func() time.Time { return s.now }

	evidenceStore := evidence.NewInMemoryStore()
	s.Require().NoError(evidenceStore.Put(ports.EvidenceMetadata{Ref: "evidence/field-7.mp4", ContentHash: "abc"}))

	runner, err := signals.NewRunner(5*time.Second, signals.DefaultWeights(), regs)
	s.Require().NoError(err)

	issuer := certificate.NewIssuer(certstore.NewInMemoryStore(), s.ledger,
		certificate.WithClock(clock),
		certificate.WithRetryPolicy(retry.Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxRetries: 1}),
	)
	lender := loan.NewLender(loan.NewCalculator(loan.DefaultLTV), loanstore.NewInMemoryStore(), s.payer, loan.WithClock(clock))

	opts = append([]Option{WithClock(clock), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	s.service, err = New(Deps{
		Claims:     s.claims,
		Evidence:   evidenceStore,
		Runner:     runner,
		Aggregator: signals.NewAggregator(signals.DefaultWeights(), 2, 0.85),
		Decider:    decision.NewEngine(0.85, decision.NewSampler("test-seed", 0)),
		Issuer:     issuer,
		Lender:     lender,
		Reviews:    s.queue,
		Notifier:   s.queue,
		Locker:     s.locker,
	}, opts...)
	s.Require().NoError(err)
}

func (s *EngineSuite) submit() *claims.Claim {
	c, err := s.service.Submit(context.Background(), claims.Submission{
		FarmerID:     "farmer-42",
		DamageType:   "hail",
		Latitude:     18.5204,
		Longitude:    73.8567,
		EvidenceRef:  "evidence/field-7.mp4",
		DamageAmount: 50000,
		PayoutUPI:    "ramesh@okaxis",
	})
	s.Require().NoError(err)
	return c
}

func (s *EngineSuite) report(id domain.ClaimID) *claims.Report {
	r, err := s.service.Status(context.Background(), id)
	s.Require().NoError(err)
	return r
}

func (s *EngineSuite) TestNew() {
	s.Run("missing collaborators are rejected", func() {
		_, err := New(Deps{})
		s.Error(err)
		s.Contains(err.Error(), "claim store is required")
	})
}

func (s *EngineSuite) TestAutoApprovalIssuesCertificateAndDisbursesLoan() {
	ctx := context.Background()
	c := s.submit()
	s.Equal(decision.StatePending, c.State)

	s.Require().NoError(s.service.Process(ctx, c.ID))

	r := s.report(c.ID)
	s.Equal(decision.StateAutoApproved, r.Claim.State)
	s.Equal(claims.IssuanceCertified, r.Claim.Issuance)
	s.Require().NotNil(r.Claim.Assessment)
	s.InDelta(0.92, r.Claim.Assessment.Confidence, 1e-9)
	s.Require().Len(r.Claim.History, 1)
	s.Equal(decision.ReasonHighConfidence, r.Claim.History[0].Reason)

	s.Require().NotNil(r.Certificate)
	s.Equal(domain.CertificateIDFor(c.ID), r.Certificate.ID)
	s.Len(r.Certificate.ContentHash, 64)
	s.True(r.Certificate.Anchored())

	s.Require().NotNil(r.Loan)
	s.Equal(35000.00, r.Loan.Principal)
	s.Equal(loan.StatusDisbursed, r.Loan.Status)
	executed := s.payer.Executed()
	s.Require().Len(executed, 1)
	s.Equal(r.Loan.ID.String()+":1", executed[0].IdempotencyToken)
	s.Equal("ramesh@okaxis", executed[0].Destination)

	v, err := s.service.VerifyCertificate(ctx, r.Certificate.ID)
	s.Require().NoError(err)
	s.True(v.Valid)
	s.Equal(r.Certificate.ContentHash, v.RecomputedHash)

	s.Run("processing again changes nothing", func() {
		s.Require().NoError(s.service.Process(ctx, c.ID))
		again := s.report(c.ID)
		s.Len(again.Claim.History, 1)
		s.Equal(r.Loan.ID, again.Loan.ID)
		s.Len(s.payer.Executed(), 1)
		s.Equal(1, s.ledger.Len())
	})
}

func (s *EngineSuite) TestLowConfidenceEscalatesThenReviewerApproves() {
	ctx := context.Background()
	s.build(readings(0.6))
	c := s.submit()
	s.Require().NoError(s.service.Process(ctx, c.ID))

	r := s.report(c.ID)
	s.Equal(decision.StateEscalated, r.Claim.State)
	s.Nil(r.Certificate)
	s.True(s.queue.Pending(c.ID))
	req := s.queue.Requests()[0]
	s.Equal(decision.ReasonLowConfidence, req.Reason)
	s.Equal("evidence/field-7.mp4", req.EvidenceRef)
	s.Len(req.Signals, len(signals.AllNames))

	s.Run("review without reviewer is rejected", func() {
		err := s.service.ResolveReview(ctx, c.ID, decision.Review{Verdict: decision.VerdictApprove})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Require().NoError(s.service.ResolveReview(ctx, c.ID, decision.Review{
		Verdict:    decision.VerdictApprove,
		ReviewerID: "reviewer-1",
		Reason:     "hail damage visible on video",
	}))
	r = s.report(c.ID)
	s.Equal(decision.StateHumanApproved, r.Claim.State)
	s.Require().Len(r.Claim.History, 2)
	s.Equal("reviewer-1", r.Claim.History[1].ReviewerID)
	s.Equal("hail damage visible on video", r.Claim.History[1].Note)
	s.Require().NotNil(r.Certificate)
	s.InDelta(0.6, r.Certificate.Confidence, 1e-9)
	s.Require().NotNil(r.Loan)
	s.Equal(loan.StatusDisbursed, r.Loan.Status)

	s.Run("a second review is an invalid state", func() {
		err := s.service.ResolveReview(ctx, c.ID, decision.Review{Verdict: decision.VerdictReject, ReviewerID: "reviewer-2"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *EngineSuite) TestFraudRiskEscalatesAndReviewerRejects() {
	ctx := context.Background()
	s.build(readings(0.95, fakeCollector{
		name:    signals.SolarShadow,
		reading: signals.Reading{Score: 0.1, RiskTier: domain.RiskHigh},
	}))
	c := s.submit()
	s.Require().NoError(s.service.Process(ctx, c.ID))
	s.Equal(decision.ReasonFraudRisk, s.report(c.ID).Claim.History[0].Reason)

	s.Require().NoError(s.service.ResolveReview(ctx, c.ID, decision.Review{
		Verdict:    decision.VerdictReject,
		ReviewerID: "reviewer-1",
		Reason:     "shadows inconsistent with claimed time",
	}))
	r := s.report(c.ID)
	s.Equal(decision.StateHumanRejected, r.Claim.State)
	s.Nil(r.Certificate)
	notices := s.queue.Notices()
	s.Require().Len(notices, 1)
	s.Equal(decision.ReasonReviewerRejected, notices[0].Reason)
	s.Equal("shadows inconsistent with claimed time", notices[0].Note)
}

func (s *EngineSuite) TestNoEvidenceRejects() {
	ctx := context.Background()
	var regs []signals.Registration
	for _, name := range signals.AllNames {
		regs = append(regs, signals.Registration{Collector: failing(name), Timeout: time.Second})
	}
	s.build(regs)
	c := s.submit()
	s.Require().NoError(s.service.Process(ctx, c.ID))

	r := s.report(c.ID)
	s.Equal(decision.StateRejected, r.Claim.State)
	s.Equal(decision.ReasonNoEvidence, r.Claim.History[0].Reason)
	s.Require().Len(s.queue.Notices(), 1)
	s.Equal(c.ID, s.queue.Notices()[0].ClaimID)
	s.Empty(s.queue.Requests())
}

func (s *EngineSuite) TestUndeliveredReviewIsEnqueuedAgain() {
	ctx := context.Background()
	s.build(readings(0.6))
	c := s.submit()
	s.queue.FailNext(1)

	err := s.service.Process(ctx, c.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	r := s.report(c.ID)
	s.Equal(decision.StateEscalated, r.Claim.State)
	s.Equal(claims.HandoffNone, r.Claim.Handoff)
	s.False(s.queue.Pending(c.ID))

	n, err := s.service.Recover(ctx)
	s.Require().NoError(err)
	s.Equal(1, n, "escalated claim without a queued review is recovered")

	s.Require().NoError(s.service.Process(ctx, c.ID))
	r = s.report(c.ID)
	s.Equal(decision.StateEscalated, r.Claim.State)
	s.Equal(claims.HandoffReviewQueued, r.Claim.Handoff)
	s.True(s.queue.Pending(c.ID))
	s.Len(r.Claim.History, 1, "handing off again does not decide again")

	n, err = s.service.Recover(ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.Require().NoError(s.service.Process(ctx, c.ID))
	s.Len(s.queue.Requests(), 1, "a delivered review is not enqueued twice")
}

func (s *EngineSuite) TestUndeliveredRejectionNoticeIsSentAgain() {
	ctx := context.Background()
	var regs []signals.Registration
	for _, name := range signals.AllNames {
		regs = append(regs, signals.Registration{Collector: failing(name), Timeout: time.Second})
	}
	s.build(regs)
	c := s.submit()
	s.queue.FailNext(1)

	s.Error(s.service.Process(ctx, c.ID))
	s.Equal(decision.StateRejected, s.report(c.ID).Claim.State)
	s.Empty(s.queue.Notices())

	n, err := s.service.Recover(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Require().NoError(s.service.Process(ctx, c.ID))
	s.Equal(claims.HandoffNoticeSent, s.report(c.ID).Claim.Handoff)
	s.Require().Len(s.queue.Notices(), 1)
	s.Equal(decision.ReasonNoEvidence, s.queue.Notices()[0].Reason)
}

func (s *EngineSuite) TestUnderQuorumEscalates() {
	ctx := context.Background()
	s.build(readings(0.99,
		failing(signals.WeatherCorrelation),
		failing(signals.AIDamageClassification),
		failing(signals.VideoForensics),
	))
	c := s.submit()
	s.Require().NoError(s.service.Process(ctx, c.ID))

	r := s.report(c.ID)
	s.Equal(decision.StateEscalated, r.Claim.State)
	s.Equal(decision.ReasonInsufficientEvidence, r.Claim.History[0].Reason)
	s.Less(r.Claim.Assessment.Confidence, 0.85)
}

func (s *EngineSuite) TestLedgerOutageParksClaimUntilRetry() {
	ctx := context.Background()
	c := s.submit()
	s.ledger.FailNext(100)

	s.Require().NoError(s.service.Process(ctx, c.ID))
	r := s.report(c.ID)
	s.Equal(decision.StateAutoApproved, r.Claim.State)
	s.Equal(claims.IssuancePending, r.Claim.Issuance)
	s.Require().NotNil(r.Certificate)
	s.False(r.Certificate.Anchored())
	s.Nil(r.Loan)
	hash := r.Certificate.ContentHash

	s.Run("retry while the ledger is down keeps the claim pending", func() {
		_, err := s.service.RetryCertificate(ctx, c.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerWrite))
		s.Equal(claims.IssuancePending, s.report(c.ID).Claim.Issuance)
	})

	s.ledger.FailNext(0)
	cert, err := s.service.RetryCertificate(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(hash, cert.ContentHash)
	s.True(cert.Anchored())

	r = s.report(c.ID)
	s.Equal(claims.IssuanceCertified, r.Claim.Issuance)
	s.Require().NotNil(r.Loan)
	s.Equal(loan.StatusDisbursed, r.Loan.Status)

	s.Run("retry of a certified claim is an invalid state", func() {
		_, err := s.service.RetryCertificate(ctx, c.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *EngineSuite) TestDisbursementFailureAndOperatorRetry() {
	ctx := context.Background()
	c := s.submit()
	s.payer.FailNext(1)

	s.Require().NoError(s.service.Process(ctx, c.ID))
	failed := s.report(c.ID).Loan
	s.Require().NotNil(failed)
	s.Equal(loan.StatusDisbursementFailed, failed.Status)
	s.NotEmpty(failed.LastError)

	opCtx := requestcontext.WithReviewerID(ctx, "operator-1")
	offer, err := s.service.RetryDisbursement(opCtx, failed.ID, "")
	s.Require().NoError(err)
	s.Equal(loan.StatusDisbursed, offer.Status)
	s.Equal(2, offer.Attempts)

	executed := s.payer.Executed()
	s.Require().Len(executed, 1)
	s.Equal(failed.ID.String()+":2", executed[0].IdempotencyToken)

	s.Run("retry waits for the claim lock", func() {
		release, err := s.locker.Acquire(ctx, c.ID.String(), time.Minute)
		s.Require().NoError(err)
		defer release()
		_, err = s.service.RetryDisbursement(opCtx, failed.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("retry of a disbursed loan is an invalid state", func() {
		_, err := s.service.RetryDisbursement(opCtx, failed.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("loan lookup", func() {
		got, err := s.service.Loan(ctx, failed.ID)
		s.Require().NoError(err)
		s.Equal(loan.StatusDisbursed, got.Status)
	})
}

func (s *EngineSuite) TestRevokedCertificateFailsVerification() {
	ctx := context.Background()
	c := s.submit()
	s.Require().NoError(s.service.Process(ctx, c.ID))
	certID := *s.report(c.ID).Claim.CertificateID

	opCtx := requestcontext.WithReviewerID(ctx, "operator-1")
	revoked, err := s.service.RevokeCertificate(opCtx, certID, "duplicate claim")
	s.Require().NoError(err)
	s.Equal(certificate.StatusRevoked, revoked.Status)
	s.Equal("operator-1", revoked.Revocation.ActorID)

	v, err := s.service.VerifyCertificate(ctx, certID)
	s.Require().NoError(err)
	s.True(v.StoredMatches)
	s.False(v.Valid)

	_, err = s.service.RevokeCertificate(opCtx, certID, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *EngineSuite) TestLockedClaimIsAConflict() {
	ctx := context.Background()
	c := s.submit()
	release, err := s.locker.Acquire(ctx, c.ID.String(), time.Minute)
	s.Require().NoError(err)

	err = s.service.Process(ctx, c.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(decision.StatePending, s.report(c.ID).Claim.State)

	release()
	s.NoError(s.service.Process(ctx, c.ID))
}

func (s *EngineSuite) TestSubmitValidation() {
	_, err := s.service.Submit(context.Background(), claims.Submission{
		FarmerID:     "farmer-42",
		DamageType:   "locusts",
		Latitude:     18.5,
		Longitude:    73.8,
		EvidenceRef:  "evidence/x",
		DamageAmount: 100,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Equal("damage_type", dErrors.FieldOf(err))
}

func (s *EngineSuite) TestStatusUnknownClaim() {
	_, err := s.service.Status(context.Background(), domain.NewClaimID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EngineSuite) TestSubmitSchedulesOnPoolAndRecoverResumes() {
	ctx := context.Background()
	stranded := s.submit()

	pool := worker.NewPool(2, 16)
	s.service.pool = pool
	pool.Start(ctx)

	scheduled := s.submit()
	n, err := s.service.Recover(ctx)
	s.Require().NoError(err)
	s.GreaterOrEqual(n, 1)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(pool.Shutdown(shutdownCtx))

	for _, id := range []domain.ClaimID{stranded.ID, scheduled.ID} {
		r := s.report(id)
		s.Equal(decision.StateAutoApproved, r.Claim.State, id.String())
		s.Equal(claims.IssuanceCertified, r.Claim.Issuance)
	}
	s.Len(s.payer.Executed(), 2)
}
