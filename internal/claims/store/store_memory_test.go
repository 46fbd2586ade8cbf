package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vericrop/internal/claims"
	"vericrop/internal/decision"
	"vericrop/internal/signals"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
)

func newClaim(t *testing.T, submitted time.Time) *claims.Claim {
	t.Helper()
	c, err := claims.NewClaim(claims.Submission{
		FarmerID:     "farmer-1",
		DamageType:   "flood",
		Latitude:     19.0760,
		Longitude:    72.8777,
		EvidenceRef:  "evidence/1.jpg",
		DamageAmount: 50000,
	}, domain.NewClaimID(), submitted)
	require.NoError(t, err)
	return c
}

func TestInMemoryStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c := newClaim(t, time.Now())

	require.NoError(t, s.Create(ctx, c))
	assert.ErrorIs(t, s.Create(ctx, c), sentinel.ErrAlreadyExists)

	got, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, decision.StatePending, got.State)

	_, err = s.FindByID(ctx, domain.NewClaimID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_Save(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c := newClaim(t, time.Now())
	require.NoError(t, s.Create(ctx, c))

	d := decision.Disposition{State: decision.StateAutoApproved, Reason: decision.ReasonHighConfidence, Confidence: 0.92}
	c.State = decision.StateAutoApproved
	c.Assessment = &signals.Assessment{Confidence: 0.92, Signals: []signals.Signal{{Name: signals.SolarShadow}}}
	require.NoError(t, s.Save(ctx, c, decision.StatePending, d))

	t.Run("stale expected state conflicts", func(t *testing.T) {
		assert.ErrorIs(t, s.Save(ctx, c, decision.StatePending), sentinel.ErrConflict)
	})

	t.Run("history is appended", func(t *testing.T) {
		got, err := s.FindByID(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, got.History, 1)
		assert.Equal(t, decision.ReasonHighConfidence, got.History[0].Reason)
		require.NotNil(t, got.Assessment)
		assert.Equal(t, 0.92, got.Assessment.Confidence)
	})

	t.Run("certificate id is set once", func(t *testing.T) {
		certID := domain.CertificateIDFor(c.ID)
		c.CertificateID = &certID
		c.Issuance = claims.IssuanceCertified
		require.NoError(t, s.Save(ctx, c, decision.StateAutoApproved))

		other := domain.CertificateIDFor(domain.NewClaimID())
		c.CertificateID = &other
		assert.ErrorIs(t, s.Save(ctx, c, decision.StateAutoApproved), sentinel.ErrConflict)

		c.CertificateID = nil
		assert.ErrorIs(t, s.Save(ctx, c, decision.StateAutoApproved), sentinel.ErrConflict)
	})

	t.Run("handoff is persisted", func(t *testing.T) {
		certID := domain.CertificateIDFor(c.ID)
		c.CertificateID = &certID
		c.Handoff = claims.HandoffNoticeSent
		require.NoError(t, s.Save(ctx, c, decision.StateAutoApproved))

		got, err := s.FindByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, claims.HandoffNoticeSent, got.Handoff)
	})

	t.Run("unknown claim", func(t *testing.T) {
		assert.ErrorIs(t, s.Save(ctx, newClaim(t, time.Now()), decision.StatePending), sentinel.ErrNotFound)
	})
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c := newClaim(t, time.Now())
	require.NoError(t, s.Create(ctx, c))

	got, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	got.State = decision.StateRejected
	got.History = append(got.History, decision.Disposition{State: decision.StateRejected})

	again, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.StatePending, again.State)
	assert.Empty(t, again.History)
}

func TestInMemoryStore_ListByState(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var ids []domain.ClaimID
	for i := 3; i > 0; i-- {
		c := newClaim(t, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Create(ctx, c))
		ids = append(ids, c.ID)
	}

	pending, err := s.ListByState(ctx, decision.StatePending, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[2], pending[0].ID, "oldest first")
	assert.Equal(t, ids[1], pending[1].ID)

	none, err := s.ListByState(ctx, decision.StateEscalated, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPointCodec(t *testing.T) {
	loc := claims.Location{Latitude: 19.0760, Longitude: 72.8777}
	b, err := encodePoint(loc)
	require.NoError(t, err)

	got, err := decodePoint(b)
	require.NoError(t, err)
	assert.Equal(t, loc, got)

	_, err = decodePoint([]byte{0x01, 0x02})
	assert.Error(t, err)
}
