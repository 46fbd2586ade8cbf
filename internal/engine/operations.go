package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vericrop/internal/certificate"
	"vericrop/internal/claims"
	"vericrop/internal/decision"
	"vericrop/internal/loan"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/audit"
	"vericrop/pkg/requestcontext"
)

// ResolveReview applies a reviewer's verdict to an ESCALATED claim. Once
// the verdict is stored, downstream failures are recorded on the claim or
// loan and are not returned.
func (s *Service) ResolveReview(ctx context.Context, id domain.ClaimID, r decision.Review) error {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, "engine.resolve_review", trace.WithAttributes(
		attribute.String("claim_id", id.String()),
		attribute.String("verdict", string(r.Verdict)),
	))
	defer span.End()

	c, err := s.load(ctx, id)
	if err != nil {
		recordError(span, err)
		return err
	}
	confidence := 0.0
	if c.Assessment != nil {
		confidence = c.Assessment.Confidence
	}
	d, err := s.decider.Resolve(c.State, confidence, r, s.now())
	if err != nil {
		recordError(span, err)
		return err
	}

	c.State = d.State
	if err := s.save(ctx, c, decision.StateEscalated, d); err != nil {
		recordError(span, err)
		return err
	}
	s.recordDisposition(ctx, c, d)
	s.emit(ctx, audit.Event{
		ClaimID:  c.ID.String(),
		Action:   string(audit.ActionReviewResolved),
		Decision: string(d.State),
		Reason:   d.Note,
		ActorID:  d.ReviewerID,
	})

	if err := s.route(ctx, c, d); err != nil {
		recordError(span, err)
		s.logger.WarnContext(ctx, "claim follow-up after review failed",
			"claim_id", c.ID.String(),
			"state", string(c.State),
			"error", err,
		)
	}
	return nil
}

// RetryCertificate resumes issuance for a CERTIFICATE_PENDING claim and,
// once anchored, continues to the loan offer.
func (s *Service) RetryCertificate(ctx context.Context, id domain.ClaimID) (*certificate.Certificate, error) {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.State.IsApproved() || c.Issuance != claims.IssuancePending {
		return nil, dErrors.New(dErrors.CodeInvalidState, "claim is not awaiting a certificate")
	}
	cert, err := s.issue(ctx, c)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "certificate issued on retry",
		"claim_id", c.ID.String(),
		"certificate_id", cert.ID.String(),
		"actor_id", requestcontext.ReviewerID(ctx),
	)
	if _, err := s.offer(ctx, c, cert); err != nil && !dErrors.HasCode(err, dErrors.CodeDisbursement) {
		return cert, err
	}
	return cert, nil
}

// RetryDisbursement requests disbursement again for a DISBURSEMENT_FAILED
// loan under a fresh token, or replays the token of an attempt whose outcome
// was never recorded. It holds the claim's lock so a replay cannot overlap an
// attempt still running under Process or another retry.
func (s *Service) RetryDisbursement(ctx context.Context, id domain.LoanID, destination string) (*loan.Offer, error) {
	current, err := s.lender.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx, current.ClaimID)
	if err != nil {
		return nil, err
	}
	defer release()

	offer, err := s.lender.Retry(ctx, id, destination)
	if offer == nil {
		return nil, err
	}
	action := audit.ActionDisbursementRequested
	if err != nil {
		action = audit.ActionDisbursementFailed
	}
	s.emit(ctx, audit.Event{
		ClaimID:  offer.ClaimID.String(),
		Subject:  offer.ID.String(),
		Action:   string(action),
		Decision: string(offer.Status),
		Reason:   offer.LastError,
		ActorID:  requestcontext.ReviewerID(ctx),
	})
	return offer, err
}

func (s *Service) Loan(ctx context.Context, id domain.LoanID) (*loan.Offer, error) {
	return s.lender.Get(ctx, id)
}

func (s *Service) VerifyCertificate(ctx context.Context, id domain.CertificateID) (*certificate.Verification, error) {
	return s.issuer.Verify(ctx, id)
}

// RevokeCertificate records a revocation by the calling operator.
func (s *Service) RevokeCertificate(ctx context.Context, id domain.CertificateID, reason string) (*certificate.Certificate, error) {
	actor := requestcontext.ReviewerID(ctx)
	cert, err := s.issuer.Revoke(ctx, id, reason, actor)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, audit.Event{
		ClaimID: cert.ClaimID.String(),
		Subject: cert.ID.String(),
		Action:  string(audit.ActionCertificateRevoked),
		Reason:  reason,
		ActorID: actor,
	})
	return cert, nil
}
