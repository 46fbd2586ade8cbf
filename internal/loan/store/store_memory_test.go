package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vericrop/internal/loan"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
)

func newOffer() *loan.Offer {
	claimID := domain.NewClaimID()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &loan.Offer{
		ID:              domain.NewLoanID(),
		CertificateID:   domain.CertificateIDFor(claimID),
		ClaimID:         claimID,
		Principal:       35000,
		Destination:     "farmer@okbank",
		Status:          loan.StatusOffered,
		RepaymentStatus: loan.RepaymentNotStarted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestInMemoryStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	offer := newOffer()

	require.NoError(t, s.Create(ctx, offer))

	dup := newOffer()
	dup.CertificateID = offer.CertificateID
	assert.ErrorIs(t, s.Create(ctx, dup), sentinel.ErrAlreadyExists, "one offer per certificate")

	got, err := s.FindByID(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.Principal, got.Principal)

	byCert, err := s.FindByCertificate(ctx, offer.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, offer.ID, byCert.ID)

	_, err = s.FindByID(ctx, domain.NewLoanID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.FindByCertificate(ctx, domain.CertificateIDFor(domain.NewClaimID()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_Update(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	offer := newOffer()
	require.NoError(t, s.Create(ctx, offer))

	offer.Status = loan.StatusDisbursing
	offer.Attempts = 1
	require.NoError(t, s.Update(ctx, offer, loan.StatusOffered))

	t.Run("stale expected status conflicts", func(t *testing.T) {
		stale := *offer
		stale.Status = loan.StatusDisbursed
		assert.ErrorIs(t, s.Update(ctx, &stale, loan.StatusOffered), sentinel.ErrConflict)

		got, err := s.FindByID(ctx, offer.ID)
		require.NoError(t, err)
		assert.Equal(t, loan.StatusDisbursing, got.Status, "rejected update leaves the record untouched")
	})

	t.Run("only disbursement fields change", func(t *testing.T) {
		next := *offer
		next.Status = loan.StatusDisbursed
		next.DisbursementRef = "pay-1"
		next.Principal = 1
		require.NoError(t, s.Update(ctx, &next, loan.StatusDisbursing))

		got, err := s.FindByID(ctx, offer.ID)
		require.NoError(t, err)
		assert.Equal(t, loan.StatusDisbursed, got.Status)
		assert.Equal(t, "pay-1", got.DisbursementRef)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, 35000.0, got.Principal)
	})

	t.Run("unknown loan", func(t *testing.T) {
		assert.ErrorIs(t, s.Update(ctx, newOffer(), loan.StatusOffered), sentinel.ErrNotFound)
	})
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	offer := newOffer()
	require.NoError(t, s.Create(ctx, offer))

	got, err := s.FindByID(ctx, offer.ID)
	require.NoError(t, err)
	got.Status = loan.StatusDisbursed

	again, err := s.FindByID(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.StatusOffered, again.Status)
}
