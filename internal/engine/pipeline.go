package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vericrop/internal/certificate"
	"vericrop/internal/claims"
	"vericrop/internal/decision"
	"vericrop/internal/loan"
	"vericrop/internal/review"
	"vericrop/internal/signals"
	"vericrop/internal/signals/ports"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/audit"
)

// Process runs one claim through the pipeline under its lock. A PENDING
// claim is assessed and decided; an approved claim resumes issuance; an
// escalated or rejected claim whose handoff never went out is handed off
// again. Other states are left alone.
func (s *Service) Process(ctx context.Context, id domain.ClaimID) error {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	start := s.now()
	ctx, span := s.tracer.Start(ctx, "engine.process", trace.WithAttributes(attribute.String("claim_id", id.String())))
	defer span.End()

	c, err := s.load(ctx, id)
	if err != nil {
		recordError(span, err)
		return err
	}

	switch {
	case c.State == decision.StatePending:
		err = s.assess(ctx, c)
		s.metrics.ObservePipeline(s.now().Sub(start))
	case c.State.IsApproved() && c.Issuance != claims.IssuancePending:
		_, err = s.fulfil(ctx, c)
	case c.AwaitingHandoff():
		if latest, ok := c.Latest(); ok {
			err = s.route(ctx, c, latest)
		}
	}
	if err != nil {
		recordError(span, err)
		return settled(err)
	}
	return nil
}

func (s *Service) assess(ctx context.Context, c *claims.Claim) error {
	meta, err := s.evidence.Metadata(ctx, c.EvidenceRef)
	if err != nil {
		s.logger.WarnContext(ctx, "evidence metadata unavailable",
			"claim_id", c.ID.String(),
			"evidence_ref", c.EvidenceRef,
			"error", err,
		)
		meta = ports.EvidenceMetadata{Ref: c.EvidenceRef}
	}
	in := signals.Input{
		ClaimID:     c.ID,
		Location:    ports.GeoPoint{Latitude: c.Location.Latitude, Longitude: c.Location.Longitude},
		DamageType:  string(c.DamageType),
		SubmittedAt: c.SubmittedAt,
		EvidenceRef: c.EvidenceRef,
		Evidence:    meta,
	}

	collectCtx, span := s.tracer.Start(ctx, "engine.collect")
	sigs := s.runner.Run(collectCtx, in)
	span.End()

	_, span = s.tracer.Start(ctx, "engine.aggregate")
	assessment := s.aggregator.Aggregate(sigs)
	span.SetAttributes(
		attribute.Float64("confidence", assessment.Confidence),
		attribute.String("risk_tier", string(assessment.RiskTier)),
		attribute.Bool("quorum_met", assessment.QuorumMet),
	)
	span.End()
	s.emit(ctx, audit.Event{
		ClaimID: c.ID.String(),
		Action:  string(audit.ActionSignalsCollected),
		Reason:  fmt.Sprintf("ok=%d positive=%d", assessment.OKCount, assessment.PositiveCount),
	})

	_, span = s.tracer.Start(ctx, "engine.decide")
	d := s.decider.Decide(c.ID, assessment, s.now())
	span.SetAttributes(attribute.String("state", string(d.State)), attribute.String("reason", string(d.Reason)))
	span.End()

	c.State = d.State
	c.Assessment = &assessment
	if err := s.save(ctx, c, decision.StatePending, d); err != nil {
		return err
	}
	s.recordDisposition(ctx, c, d)
	s.decisionMetrics.ObserveTimeToDecision(d.DecidedAt.Sub(c.SubmittedAt))

	return s.route(ctx, c, d)
}

// route sends a freshly decided claim to its next stage.
func (s *Service) route(ctx context.Context, c *claims.Claim, d decision.Disposition) error {
	switch {
	case d.State.IsApproved():
		_, err := s.fulfil(ctx, c)
		return err
	case d.State == decision.StateEscalated:
		return s.escalate(ctx, c, d)
	case d.State.IsRejected():
		return s.reject(ctx, c, d)
	}
	return nil
}

func (s *Service) escalate(ctx context.Context, c *claims.Claim, d decision.Disposition) error {
	var assessment signals.Assessment
	if c.Assessment != nil {
		assessment = *c.Assessment
	}
	req := review.NewRequest(c.ID, c.FarmerID, c.EvidenceRef, assessment, d)
	if err := s.reviews.Enqueue(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, "review enqueue failed",
			"claim_id", c.ID.String(),
			"reason", string(d.Reason),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "review queue unavailable")
	}
	s.metrics.IncReviewsEnqueued()
	if err := s.markHandoff(ctx, c, claims.HandoffReviewQueued); err != nil {
		return err
	}
	s.emit(ctx, audit.Event{
		ClaimID:  c.ID.String(),
		Action:   string(audit.ActionReviewEnqueued),
		Decision: string(d.State),
		Reason:   string(d.Reason),
	})
	return nil
}

func (s *Service) reject(ctx context.Context, c *claims.Claim, d decision.Disposition) error {
	notice := review.Notice{
		ClaimID:   c.ID,
		FarmerID:  c.FarmerID,
		State:     d.State,
		Reason:    d.Reason,
		Note:      d.Note,
		DecidedAt: d.DecidedAt,
	}
	if err := s.notifier.NotifyRejection(ctx, notice); err != nil {
		s.logger.ErrorContext(ctx, "rejection notice failed",
			"claim_id", c.ID.String(),
			"state", string(d.State),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "rejection notice undelivered")
	}
	if err := s.markHandoff(ctx, c, claims.HandoffNoticeSent); err != nil {
		return err
	}
	s.emit(ctx, audit.Event{
		ClaimID:  c.ID.String(),
		Action:   string(audit.ActionRejectionNoticeSent),
		Decision: string(d.State),
		Reason:   string(d.Reason),
		ActorID:  d.ReviewerID,
	})
	return nil
}

// markHandoff records a delivered handoff. Until it is stored, Recover hands
// the claim off again; review requests and notices are keyed by claim id.
func (s *Service) markHandoff(ctx context.Context, c *claims.Claim, h claims.Handoff) error {
	c.Handoff = h
	if err := s.save(ctx, c, c.State); err != nil {
		s.logger.ErrorContext(ctx, "handoff not recorded",
			"claim_id", c.ID.String(),
			"handoff", string(h),
			"error", err,
		)
		return err
	}
	return nil
}

// fulfil issues the certificate for an approved claim and, once it is
// anchored, offers and disburses the loan. Ledger exhaustion parks the
// claim in CERTIFICATE_PENDING.
func (s *Service) fulfil(ctx context.Context, c *claims.Claim) (*certificate.Certificate, error) {
	cert, err := s.issue(ctx, c)
	if err != nil {
		return cert, err
	}
	if _, err := s.offer(ctx, c, cert); err != nil {
		return cert, err
	}
	return cert, nil
}

func (s *Service) issue(ctx context.Context, c *claims.Claim) (*certificate.Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "engine.issue")
	defer span.End()

	confidence := 0.0
	if latest, ok := c.Latest(); ok {
		confidence = latest.Confidence
	}
	cert, err := s.issuer.Issue(ctx, certificate.IssueRequest{
		ClaimID:      c.ID,
		FarmerID:     c.FarmerID,
		DamageType:   string(c.DamageType),
		DamageAmount: c.DamageAmount,
		Confidence:   confidence,
		Location:     certificate.Location{Latitude: c.Location.Latitude, Longitude: c.Location.Longitude},
	})
	if cert == nil {
		recordError(span, err)
		return nil, err
	}

	issuance := claims.IssuanceCertified
	action := audit.ActionCertificateIssued
	if err != nil {
		issuance = claims.IssuancePending
		action = audit.ActionCertificatePending
		recordError(span, err)
	}
	if c.Issuance != issuance || c.CertificateID == nil {
		id := cert.ID
		c.Issuance = issuance
		c.CertificateID = &id
		if saveErr := s.save(ctx, c, c.State); saveErr != nil {
			return nil, saveErr
		}
		s.emit(ctx, audit.Event{
			ClaimID:  c.ID.String(),
			Subject:  cert.ID.String(),
			Action:   string(action),
			Decision: string(c.State),
		})
	}
	if err != nil {
		return cert, err
	}
	span.SetAttributes(attribute.String("certificate_id", cert.ID.String()))
	return cert, nil
}

func (s *Service) offer(ctx context.Context, c *claims.Claim, cert *certificate.Certificate) (*loan.Offer, error) {
	ctx, span := s.tracer.Start(ctx, "engine.offer")
	defer span.End()

	offer, err := s.lender.Offer(ctx, cert, c.PayoutUPI)
	if offer == nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("loan_id", offer.ID.String()), attribute.String("status", string(offer.Status)))

	action := audit.ActionDisbursementRequested
	if err != nil {
		action = audit.ActionDisbursementFailed
		recordError(span, err)
	}
	s.emit(ctx, audit.Event{
		ClaimID:  c.ID.String(),
		Subject:  offer.ID.String(),
		Action:   string(audit.ActionLoanOffered),
		Decision: string(offer.Status),
	})
	s.emit(ctx, audit.Event{
		ClaimID:  c.ID.String(),
		Subject:  offer.ID.String(),
		Action:   string(action),
		Decision: string(offer.Status),
		Reason:   offer.LastError,
	})
	return offer, err
}

func (s *Service) recordDisposition(ctx context.Context, c *claims.Claim, d decision.Disposition) {
	s.decisionMetrics.ObserveDisposition(string(d.State), string(d.Reason), d.Confidence)
	s.logger.InfoContext(ctx, "claim decided",
		"claim_id", c.ID.String(),
		"state", string(d.State),
		"reason", string(d.Reason),
		"confidence", d.Confidence,
	)
	s.emit(ctx, audit.Event{
		ClaimID:  c.ID.String(),
		Action:   string(audit.ActionDispositionMade),
		Decision: string(d.State),
		Reason:   string(d.Reason),
		ActorID:  d.ReviewerID,
	})
}

// settled drops failures the claim already records in its own state.
func settled(err error) error {
	if dErrors.HasCode(err, dErrors.CodeLedgerWrite) || dErrors.HasCode(err, dErrors.CodeDisbursement) {
		return nil
	}
	return err
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
