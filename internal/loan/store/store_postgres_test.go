//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vericrop/internal/certificate"
	certstore "vericrop/internal/certificate/store"
	"vericrop/internal/claims"
	claimstore "vericrop/internal/claims/store"
	"vericrop/internal/loan"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
	"vericrop/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background()))
}

// seedOffer inserts the claim and certificate a loan row references.
func (s *PostgresStoreSuite) seedOffer(ctx context.Context) *loan.Offer {
	now := time.Now().UTC().Truncate(time.Microsecond)
	c, err := claims.NewClaim(claims.Submission{
		FarmerID:     "farmer-3",
		DamageType:   "drought",
		Latitude:     23.0225,
		Longitude:    72.5714,
		EvidenceRef:  "evidence/3.jpg",
		DamageAmount: 80000,
	}, domain.NewClaimID(), now)
	s.Require().NoError(err)
	s.Require().NoError(claimstore.NewPostgres(s.pg.DB).Create(ctx, c))

	certID := domain.CertificateIDFor(c.ID)
	s.Require().NoError(certstore.NewPostgres(s.pg.DB).Create(ctx, &certificate.Certificate{
		ID:           certID,
		ClaimID:      c.ID,
		FarmerID:     c.FarmerID,
		DamageType:   "drought",
		DamageAmount: 80000,
		Confidence:   0.9,
		IssuedAt:     now,
		ContentHash:  "h",
	}))

	o := &loan.Offer{
		ID:              domain.NewLoanID(),
		CertificateID:   certID,
		ClaimID:         c.ID,
		Principal:       56000,
		InterestRate:    0.04,
		Destination:     "farmer3@okhdfc",
		Status:          loan.StatusOffered,
		RepaymentStatus: loan.RepaymentNotStarted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.Require().NoError(s.store.Create(ctx, o))
	return o
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	o := s.seedOffer(ctx)
	s.ErrorIs(s.store.Create(ctx, o), sentinel.ErrAlreadyExists)

	got, err := s.store.FindByID(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(o.CertificateID, got.CertificateID)
	s.InDelta(56000, got.Principal, 1e-9)
	s.Equal(loan.StatusOffered, got.Status)
	s.Equal(loan.RepaymentNotStarted, got.RepaymentStatus)

	byCert, err := s.store.FindByCertificate(ctx, o.CertificateID)
	s.Require().NoError(err)
	s.Equal(o.ID, byCert.ID)

	_, err = s.store.FindByID(ctx, domain.NewLoanID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateComparesStatus() {
	ctx := context.Background()
	o := s.seedOffer(ctx)

	o.Status = loan.StatusDisbursed
	o.Attempts = 1
	o.DisbursementRef = "utr-991"
	o.UpdatedAt = o.UpdatedAt.Add(time.Second)
	s.Require().NoError(s.store.Update(ctx, o, loan.StatusOffered))
	s.ErrorIs(s.store.Update(ctx, o, loan.StatusOffered), sentinel.ErrConflict)

	missing := *o
	missing.ID = domain.NewLoanID()
	s.ErrorIs(s.store.Update(ctx, &missing, loan.StatusDisbursed), sentinel.ErrNotFound)

	got, err := s.store.FindByID(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(loan.StatusDisbursed, got.Status)
	s.Equal("utr-991", got.DisbursementRef)
	s.Equal(1, got.Attempts)
}
