package loan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"vericrop/internal/certificate"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/sentinel"
)

// DisbursementObserver is notified of each disbursement outcome (metrics).
type DisbursementObserver interface {
	ObserveDisbursement(outcome string)
}

// Lender creates offers and requests disbursement. It never retries a
// disbursement on its own; a failure waits in DISBURSEMENT_FAILED, and an
// unrecorded attempt in DISBURSEMENT_REQUESTED, for an explicit Retry.
type Lender struct {
	calc     Calculator
	store    Store
	payer    Payer
	now      func() time.Time
	logger   *slog.Logger
	observer DisbursementObserver
}

type Option func(*Lender)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Lender) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Lender) {
		if now != nil {
			l.now = now
		}
	}
}

func WithDisbursementObserver(o DisbursementObserver) Option {
	return func(l *Lender) { l.observer = o }
}

func NewLender(calc Calculator, store Store, payer Payer, opts ...Option) *Lender {
	l := &Lender{
		calc:   calc,
		store:  store,
		payer:  payer,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Offer returns the certificate's offer, creating it on first call. A new
// offer gets exactly one disbursement attempt.
func (l *Lender) Offer(ctx context.Context, cert *certificate.Certificate, destination string) (*Offer, error) {
	if cert == nil {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "certificate_id", "is required")
	}
	existing, err := l.store.FindByCertificate(ctx, cert.ID)
	switch {
	case err == nil:
		if existing.Status == StatusOffered {
			return l.disburse(ctx, existing, StatusOffered)
		}
		return existing, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, fmt.Errorf("find offer for certificate: %w", err)
	}

	offer, err := l.calc.Offer(cert, destination, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.Create(ctx, offer); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return l.store.FindByCertificate(ctx, cert.ID)
		}
		return nil, fmt.Errorf("save offer: %w", err)
	}
	l.logger.InfoContext(ctx, "loan offered",
		"claim_id", offer.ClaimID.String(),
		"loan_id", offer.ID.String(),
		"certificate_id", offer.CertificateID.String(),
		"principal", offer.Principal,
	)
	return l.disburse(ctx, offer, StatusOffered)
}

// Retry requests disbursement again. A DISBURSEMENT_FAILED loan gets a
// fresh token. A loan left in DISBURSEMENT_REQUESTED, whose outcome was never
// recorded, replays its current token; the payer executes a token at most
// once, so a payment that already went out is not repeated. destination
// fills a missing payout destination; it cannot replace one already on the
// offer.
func (l *Lender) Retry(ctx context.Context, id domain.LoanID, destination string) (*Offer, error) {
	offer, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if offer.Status != StatusDisbursementFailed && offer.Status != StatusDisbursing {
		return nil, dErrors.New(dErrors.CodeInvalidState, "loan disbursement is "+string(offer.Status))
	}
	destination = strings.TrimSpace(destination)
	if destination != "" {
		if offer.Destination != "" && offer.Destination != destination {
			return nil, dErrors.NewField(dErrors.CodeConflict, "destination", "loan already has a payout destination")
		}
		offer.Destination = destination
	}
	if offer.Status == StatusDisbursing {
		l.logger.WarnContext(ctx, "resuming unrecorded disbursement",
			"claim_id", offer.ClaimID.String(),
			"loan_id", offer.ID.String(),
			"token", offer.DisbursementToken(),
		)
		return l.execute(ctx, offer)
	}
	return l.disburse(ctx, offer, StatusDisbursementFailed)
}

// Get returns a loan by id.
func (l *Lender) Get(ctx context.Context, id domain.LoanID) (*Offer, error) {
	offer, err := l.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "loan not found")
	}
	return offer, err
}

// ForCertificate returns the offer backed by a certificate.
func (l *Lender) ForCertificate(ctx context.Context, id domain.CertificateID) (*Offer, error) {
	offer, err := l.store.FindByCertificate(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "loan not found")
	}
	return offer, err
}

// disburse claims the attempt by persisting DISBURSEMENT_REQUESTED before
// calling the payer, so concurrent callers cannot reuse a token.
func (l *Lender) disburse(ctx context.Context, offer *Offer, from Status) (*Offer, error) {
	offer.Attempts++
	offer.Status = StatusDisbursing
	offer.LastError = ""
	offer.UpdatedAt = l.now().UTC()
	if err := l.store.Update(ctx, offer, from); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "disbursement already in progress")
		}
		return nil, fmt.Errorf("claim disbursement attempt: %w", err)
	}
	return l.execute(ctx, offer)
}

// execute pays the offer's current token and records the outcome. The offer
// must already be in DISBURSEMENT_REQUESTED.
func (l *Lender) execute(ctx context.Context, offer *Offer) (*Offer, error) {
	token := offer.DisbursementToken()
	var payErr error
	if offer.Destination == "" {
		payErr = errors.New("payout destination missing")
	} else {
		var ref string
		ref, payErr = l.payer.Disburse(ctx, DisbursementRequest{
			LoanID:           offer.ID,
			Amount:           offer.Principal,
			Destination:      offer.Destination,
			IdempotencyToken: token,
		})
		offer.DisbursementRef = ref
	}

	offer.UpdatedAt = l.now().UTC()
	if payErr != nil {
		offer.Status = StatusDisbursementFailed
		offer.DisbursementRef = ""
		offer.LastError = payErr.Error()
	} else {
		offer.Status = StatusDisbursed
	}
	if err := l.store.Update(context.WithoutCancel(ctx), offer, StatusDisbursing); err != nil {
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, fmt.Errorf("record disbursement outcome: %w", err)
		}
		if payErr != nil {
			return nil, dErrors.New(dErrors.CodeConflict, "disbursement outcome already recorded")
		}
		// A payout that went through beats a failure recorded for the same token.
		if err := l.supersedeFailure(context.WithoutCancel(ctx), offer); err != nil {
			return nil, err
		}
	}

	if payErr != nil {
		l.observe("failed")
		l.logger.ErrorContext(ctx, "disbursement failed",
			"claim_id", offer.ClaimID.String(),
			"loan_id", offer.ID.String(),
			"token", token,
			"error", payErr,
		)
		return offer, dErrors.Wrap(payErr, dErrors.CodeDisbursement, "disbursement failed")
	}
	l.observe("disbursed")
	l.logger.InfoContext(ctx, "loan disbursed",
		"claim_id", offer.ClaimID.String(),
		"loan_id", offer.ID.String(),
		"token", token,
		"disbursement_ref", offer.DisbursementRef,
	)
	return offer, nil
}

// supersedeFailure records a successful payout over a DISBURSEMENT_FAILED
// outcome stored for the same attempt.
func (l *Lender) supersedeFailure(ctx context.Context, offer *Offer) error {
	current, err := l.store.FindByID(ctx, offer.ID)
	if err != nil {
		return fmt.Errorf("reload loan: %w", err)
	}
	if current.Status != StatusDisbursementFailed || current.Attempts != offer.Attempts {
		return dErrors.New(dErrors.CodeConflict, "disbursement outcome already recorded")
	}
	l.logger.WarnContext(ctx, "payout succeeded after failure was recorded",
		"claim_id", offer.ClaimID.String(),
		"loan_id", offer.ID.String(),
		"token", offer.DisbursementToken(),
	)
	if err := l.store.Update(ctx, offer, StatusDisbursementFailed); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "disbursement outcome already recorded")
		}
		return fmt.Errorf("record disbursement outcome: %w", err)
	}
	return nil
}

func (l *Lender) observe(outcome string) {
	if l.observer != nil {
		l.observer.ObserveDisbursement(outcome)
	}
}
