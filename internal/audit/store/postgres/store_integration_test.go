//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"phiguard/internal/audit"
	auditpostgres "phiguard/internal/audit/store/postgres"
	"phiguard/pkg/testutil/containers"
)

type StoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *auditpostgres.Store
	now   time.Time
	log   *audit.Log
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T(), auditpostgres.Schema)
}

func (s *StoreSuite) SetupTest() {
	s.pg.Truncate(s.T(), "audit_entries", "audit_checkpoint")
	s.store = auditpostgres.New(s.pg.DB)
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.log = audit.New(s.store, audit.WithClock(func() time.Time { return s.now }))
}

func (s *StoreSuite) appendN(n int) {
	for i := 0; i < n; i++ {
		_, err := s.log.Append(context.Background(), audit.Entry{
			ActorID:      "Doc1",
			Action:       audit.ActionAccessDecision,
			ResourceType: "health_record",
			ResourceID:   "P1",
			Result:       audit.ResultAllowed,
			Purpose:      "treatment",
		})
		s.Require().NoError(err)
	}
}

func (s *StoreSuite) TestChainSurvivesRoundTrip() {
	s.appendN(3)

	head, ok, err := s.store.Head(context.Background())
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(audit.EntryID(3), head.ID)
	s.Equal(time.UTC, head.Timestamp.Location())

	report, err := s.log.Verify(context.Background())
	s.Require().NoError(err)
	s.True(report.Valid)
	s.Equal(3, report.Checked)
}

func (s *StoreSuite) TestFreshLogResumesChain() {
	s.appendN(2)

	resumed := audit.New(s.store, audit.WithClock(func() time.Time { return s.now }))
	id, err := resumed.Append(context.Background(), audit.Entry{
		ActorID: "system", Action: audit.ActionKeyRotation, Result: audit.ResultSuccess,
	})
	s.Require().NoError(err)
	s.Equal(audit.EntryID(3), id)

	report, err := resumed.Verify(context.Background())
	s.Require().NoError(err)
	s.True(report.Valid)
}

func (s *StoreSuite) TestDuplicateIDRejected() {
	s.appendN(1)
	head, _, err := s.store.Head(context.Background())
	s.Require().NoError(err)

	s.Error(s.store.Append(context.Background(), head))
}

func (s *StoreSuite) TestScanFilters() {
	s.appendN(2)
	_, err := s.log.Append(context.Background(), audit.Entry{
		ActorID: "Doc2", Action: audit.ActionAccessDecision, ResourceType: "health_record",
		ResourceID: "P2", Result: audit.ResultDenied,
	})
	s.Require().NoError(err)

	page, err := s.log.Page(context.Background(), audit.Filter{Result: audit.ResultDenied})
	s.Require().NoError(err)
	s.Require().Len(page.Entries, 1)
	s.Equal("Doc2", page.Entries[0].ActorID)

	page, err = s.log.Page(context.Background(), audit.Filter{ActorID: "Doc1", PageSize: 1})
	s.Require().NoError(err)
	s.Len(page.Entries, 1)
	s.True(page.HasMore)
}

func (s *StoreSuite) TestPruneKeepsChainVerifiable() {
	s.appendN(3)
	s.now = s.now.Add(48 * time.Hour)
	s.appendN(1)

	n, err := s.log.Prune(context.Background(), "Aud1", 24*time.Hour)
	s.Require().NoError(err)
	s.Equal(3, n)

	cp, err := s.store.Checkpoint(context.Background())
	s.Require().NoError(err)
	s.Equal(audit.EntryID(3), cp.Through)

	report, err := s.log.Verify(context.Background())
	s.Require().NoError(err)
	s.True(report.Valid)
	// The surviving entry plus the prune record.
	s.Equal(2, report.Checked)
}
