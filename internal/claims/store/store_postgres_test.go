//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vericrop/internal/claims"
	"vericrop/internal/decision"
	"vericrop/internal/signals"
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

func (s *PostgresStoreSuite) TestRoundTripsLocationAndHistory() {
	ctx := context.Background()
	c := newClaim(s.T(), time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.store.Create(ctx, c))
	s.ErrorIs(s.store.Create(ctx, c), sentinel.ErrAlreadyExists)

	c.State = decision.StateEscalated
	c.Assessment = &signals.Assessment{Confidence: 0.5, QuorumMet: false, Signals: []signals.Signal{
		{Name: signals.SolarShadow, Status: signals.StatusOK, Score: 0.9},
	}}
	d := decision.Disposition{
		State:      decision.StateEscalated,
		Reason:     decision.ReasonInsufficientEvidence,
		Confidence: 0.5,
		DecidedAt:  c.SubmittedAt,
	}
	s.Require().NoError(s.store.Save(ctx, c, decision.StatePending, d))
	s.ErrorIs(s.store.Save(ctx, c, decision.StatePending), sentinel.ErrConflict)

	got, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.InDelta(19.0760, got.Location.Latitude, 1e-9)
	s.InDelta(72.8777, got.Location.Longitude, 1e-9)
	s.Equal(decision.StateEscalated, got.State)
	s.Require().NotNil(got.Assessment)
	s.Len(got.Assessment.Signals, 1)
	s.Require().Len(got.History, 1)
	s.Equal(decision.ReasonInsufficientEvidence, got.History[0].Reason)

	escalated, err := s.store.ListByState(ctx, decision.StateEscalated, 10)
	s.Require().NoError(err)
	s.Require().Len(escalated, 1)
	s.True(escalated[0].AwaitingHandoff())

	c.Handoff = claims.HandoffReviewQueued
	s.Require().NoError(s.store.Save(ctx, c, decision.StateEscalated))
	got, err = s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(claims.HandoffReviewQueued, got.Handoff)
	s.False(got.AwaitingHandoff())
}

func (s *PostgresStoreSuite) TestCertificateIDIsWriteOnce() {
	ctx := context.Background()
	c := newClaim(s.T(), time.Now().UTC())
	s.Require().NoError(s.store.Create(ctx, c))

	certID := domain.CertificateIDFor(c.ID)
	c.State = decision.StateAutoApproved
	c.CertificateID = &certID
	s.Require().NoError(s.store.Save(ctx, c, decision.StatePending))

	other := domain.CertificateIDFor(domain.NewClaimID())
	c.CertificateID = &other
	s.ErrorIs(s.store.Save(ctx, c, decision.StateAutoApproved), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestNotFound() {
	_, err := s.store.FindByID(context.Background(), domain.NewClaimID())
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Save(context.Background(), newClaim(s.T(), time.Now()), decision.StatePending), sentinel.ErrNotFound)
}
