//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"phiguard/internal/consent/models"
	consentpostgres "phiguard/internal/consent/store/postgres"
	"phiguard/pkg/platform/sentinel"
	"phiguard/pkg/testutil/containers"
)

type StoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *consentpostgres.PostgresStore
	now   time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T(), consentpostgres.Schema)
}

func (s *StoreSuite) SetupTest() {
	s.pg.Truncate(s.T(), "consents")
	s.store = consentpostgres.NewPostgres(s.pg.DB)
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) record(id, subject, grantee string) *models.ConsentRecord {
	days := 30
	granted := s.now
	return &models.ConsentRecord{
		ID:             models.ConsentID(id),
		SubjectID:      subject,
		Grantee:        grantee,
		DataCategories: []string{"lab_results", "medications"},
		Scope: models.Scope{
			TimeLimitDays:   &days,
			GeographicScope: []string{"EU"},
			Purposes:        []string{"treatment"},
		},
		Status:    models.StatusActive,
		CreatedAt: s.now,
		GrantedAt: &granted,
	}
}

func (s *StoreSuite) TestSaveAndFind() {
	ctx := context.Background()
	in := s.record("c1", "P1", "Doc1")
	s.Require().NoError(s.store.Save(ctx, in))

	got, err := s.store.FindByID(ctx, "c1")
	s.Require().NoError(err)
	s.Equal(in.DataCategories, got.DataCategories)
	s.Equal([]string{"EU"}, got.Scope.GeographicScope)
	s.Equal([]string{"treatment"}, got.Scope.Purposes)
	s.Require().NotNil(got.Scope.TimeLimitDays)
	s.Equal(30, *got.Scope.TimeLimitDays)
	s.Require().NotNil(got.GrantedAt)
	s.True(got.GrantedAt.Equal(s.now))
	s.Nil(got.RevokedAt)
}

func (s *StoreSuite) TestUnboundedScope() {
	ctx := context.Background()
	in := s.record("c1", "P1", "Doc1")
	in.Scope = models.Scope{}
	in.Status = models.StatusPending
	in.GrantedAt = nil
	s.Require().NoError(s.store.Save(ctx, in))

	got, err := s.store.FindByID(ctx, "c1")
	s.Require().NoError(err)
	s.Nil(got.Scope.TimeLimitDays)
	s.Empty(got.Scope.GeographicScope)
	s.Empty(got.Scope.Purposes)
	s.Nil(got.GrantedAt)
}

func (s *StoreSuite) TestDuplicateIDConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, s.record("c1", "P1", "Doc1")))
	s.ErrorIs(s.store.Save(ctx, s.record("c1", "P1", "Doc1")), sentinel.ErrConflict)
}

func (s *StoreSuite) TestUpdate() {
	ctx := context.Background()
	c := s.record("c1", "P1", "Doc1")
	s.Require().NoError(s.store.Save(ctx, c))

	revokedAt := s.now.Add(time.Hour)
	c.Status = models.StatusRevoked
	c.RevokedAt = &revokedAt
	c.RevokedBy = "P1"
	s.Require().NoError(s.store.Update(ctx, c))

	got, err := s.store.FindByID(ctx, "c1")
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, got.Status)
	s.Equal("P1", got.RevokedBy)
	s.Require().NotNil(got.RevokedAt)
	s.True(got.RevokedAt.Equal(revokedAt))

	s.ErrorIs(s.store.Update(ctx, s.record("missing", "P1", "Doc1")), sentinel.ErrNotFound)
}

func (s *StoreSuite) TestFindUnknown() {
	_, err := s.store.FindByID(context.Background(), "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestListings() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, s.record("c1", "P1", "Doc1")))
	s.Require().NoError(s.store.Save(ctx, s.record("c2", "P1", "Doc2")))
	revoked := s.record("c3", "P1", "Doc1")
	revoked.Status = models.StatusRevoked
	s.Require().NoError(s.store.Save(ctx, revoked))

	list, err := s.store.ListBySubjectAndGrantee(ctx, "P1", "Doc1")
	s.Require().NoError(err)
	s.Len(list, 2)

	active, err := s.store.ListActive(ctx)
	s.Require().NoError(err)
	s.Len(active, 2)
}

func (s *StoreSuite) TestTxBoundStoreRollsBack() {
	ctx := context.Background()
	tx, err := s.pg.DB.BeginTx(ctx, &sql.TxOptions{})
	s.Require().NoError(err)

	s.Require().NoError(consentpostgres.NewPostgresTx(tx).Save(ctx, s.record("c1", "P1", "Doc1")))
	s.Require().NoError(tx.Rollback())

	_, err = s.store.FindByID(ctx, "c1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
