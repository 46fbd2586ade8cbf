package certificate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/retry"
	"vericrop/pkg/platform/sentinel"
)

// LedgerObserver is notified of every ledger append attempt (metrics).
type LedgerObserver interface {
	ObserveLedgerAppend(outcome string)
}

// Issuer creates at most one certificate per claim and anchors it on the
// ledger. Calls for one claim are collapsed; the claim id is the
// idempotency key for both the store and the ledger.
type Issuer struct {
	store    Store
	ledger   Ledger
	policy   retry.Policy
	now      func() time.Time
	logger   *slog.Logger
	observer LedgerObserver
	group    singleflight.Group
}

type Option func(*Issuer)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithRetryPolicy bounds ledger append retries.
func WithRetryPolicy(p retry.Policy) Option {
	return func(i *Issuer) { i.policy = p }
}

func WithLedgerObserver(o LedgerObserver) Option {
	return func(i *Issuer) { i.observer = o }
}

func NewIssuer(store Store, ledger Ledger, opts ...Option) *Issuer {
	i := &Issuer{
		store:  store,
		ledger: ledger,
		policy: retry.Policy{InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second, MaxRetries: 5},
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns the claim's certificate, creating it on first call. When the
// ledger cannot be reached after retries the stored certificate is returned
// together with a ledger_write_failed error; a later Issue for the same
// claim resumes the append with the same body and hash.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*Certificate, error) {
	if req.ClaimID.IsNil() {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "claim_id", "is required")
	}
	if req.DamageAmount <= 0 {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "damage_amount", "must be positive")
	}

	type outcome struct {
		cert *Certificate
		err  error
	}
	v, _, _ := i.group.Do(req.ClaimID.String(), func() (any, error) {
		cert, err := i.issue(ctx, req)
		return outcome{cert: cert, err: err}, nil
	})
	o := v.(outcome)
	if o.cert == nil {
		return nil, o.err
	}
	out := *o.cert
	return &out, o.err
}

func (i *Issuer) issue(ctx context.Context, req IssueRequest) (*Certificate, error) {
	cert, err := i.store.FindByClaim(ctx, req.ClaimID)
	switch {
	case err == nil:
		if cert.Anchored() {
			return cert, nil
		}
	case errors.Is(err, sentinel.ErrNotFound):
		cert, err = i.create(ctx, req)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("find certificate for claim: %w", err)
	}
	return i.anchor(ctx, cert)
}

func (i *Issuer) create(ctx context.Context, req IssueRequest) (*Certificate, error) {
	cert := &Certificate{
		ID:           domain.CertificateIDFor(req.ClaimID),
		ClaimID:      req.ClaimID,
		FarmerID:     req.FarmerID,
		DamageType:   req.DamageType,
		DamageAmount: req.DamageAmount,
		Confidence:   req.Confidence,
		Location:     req.Location,
		IssuedAt:     i.now().UTC(),
		Status:       StatusActive,
	}
	hash, err := Hash(cert)
	if err != nil {
		return nil, fmt.Errorf("hash certificate: %w", err)
	}
	cert.ContentHash = hash

	if err := i.store.Create(ctx, cert); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			// Another process won the race; its body is authoritative.
			return i.store.FindByClaim(ctx, req.ClaimID)
		}
		return nil, fmt.Errorf("save certificate: %w", err)
	}
	i.logger.InfoContext(ctx, "certificate created",
		"claim_id", cert.ClaimID.String(),
		"certificate_id", cert.ID.String(),
		"content_hash", cert.ContentHash,
	)
	return cert, nil
}

func (i *Issuer) anchor(ctx context.Context, cert *Certificate) (*Certificate, error) {
	body, err := Canonical(cert)
	if err != nil {
		return nil, fmt.Errorf("canonicalize certificate: %w", err)
	}
	entry := LedgerEntry{CertificateID: cert.ID, ContentHash: cert.ContentHash, Body: body}

	var ref string
	err = retry.Do(ctx, i.policy, func(ctx context.Context) error {
		r, err := i.ledger.Append(ctx, entry)
		if err != nil {
			i.observe("error")
			if errors.Is(err, sentinel.ErrConflict) {
				return retry.Permanent(err)
			}
			return err
		}
		i.observe("ok")
		ref = r
		return nil
	})
	if err != nil {
		i.logger.ErrorContext(ctx, "ledger append failed",
			"claim_id", cert.ClaimID.String(),
			"certificate_id", cert.ID.String(),
			"error", err,
		)
		return cert, dErrors.Wrap(err, dErrors.CodeLedgerWrite, "ledger append failed")
	}

	if err := i.store.SetLedgerRef(ctx, cert.ID, ref); err != nil {
		return cert, fmt.Errorf("record ledger ref: %w", err)
	}
	cert.LedgerRef = ref
	i.logger.InfoContext(ctx, "certificate anchored",
		"claim_id", cert.ClaimID.String(),
		"certificate_id", cert.ID.String(),
		"ledger_ref", ref,
	)
	return cert, nil
}

func (i *Issuer) observe(outcome string) {
	if i.observer != nil {
		i.observer.ObserveLedgerAppend(outcome)
	}
}

// Verification is the result of re-deriving a certificate's hash.
type Verification struct {
	Certificate    *Certificate `json:"certificate"`
	RecomputedHash string       `json:"recomputed_hash"`
	StoredMatches  bool         `json:"stored_hash_matches"`
	LedgerMatches  bool         `json:"ledger_hash_matches"`
	Anchored       bool         `json:"anchored"`
	Valid          bool         `json:"valid"`
}

// Verify recomputes the canonical hash and compares it with the stored copy
// and the ledger copy. A revoked certificate is never Valid.
func (i *Issuer) Verify(ctx context.Context, id domain.CertificateID) (*Verification, error) {
	cert, err := i.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	hash, err := Hash(cert)
	if err != nil {
		return nil, fmt.Errorf("hash certificate: %w", err)
	}
	v := &Verification{
		Certificate:    cert,
		RecomputedHash: hash,
		StoredMatches:  hash == cert.ContentHash,
	}

	entry, err := i.ledger.Lookup(ctx, id)
	switch {
	case err == nil:
		v.Anchored = true
		v.LedgerMatches = entry.ContentHash == hash
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger lookup failed")
	}
	v.Valid = v.StoredMatches && v.LedgerMatches && cert.IsActive()
	return v, nil
}

// Revoke records a revocation. The certificate body is left untouched.
func (i *Issuer) Revoke(ctx context.Context, id domain.CertificateID, reason, actorID string) (*Certificate, error) {
	if reason == "" {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "reason", "is required")
	}
	rev := Revocation{CertificateID: id, Reason: reason, ActorID: actorID, RevokedAt: i.now().UTC()}
	if err := i.store.AddRevocation(ctx, rev); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		case errors.Is(err, sentinel.ErrAlreadyExists):
			return nil, dErrors.New(dErrors.CodeConflict, "certificate already revoked")
		}
		return nil, fmt.Errorf("revoke certificate: %w", err)
	}
	i.logger.InfoContext(ctx, "certificate revoked", "certificate_id", id.String(), "reason", reason)
	return i.store.FindByID(ctx, id)
}

// Get returns a certificate by id.
func (i *Issuer) Get(ctx context.Context, id domain.CertificateID) (*Certificate, error) {
	cert, err := i.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	return cert, err
}

// ForClaim returns the claim's certificate, or a not_found error.
func (i *Issuer) ForClaim(ctx context.Context, claimID domain.ClaimID) (*Certificate, error) {
	cert, err := i.store.FindByClaim(ctx, claimID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	return cert, err
}
