//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"phiguard/internal/keys"
	keypostgres "phiguard/internal/keys/store/postgres"
	"phiguard/pkg/platform/sentinel"
	"phiguard/pkg/testutil/containers"
)

type StoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *keypostgres.PostgresStore
	now   time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T(), keypostgres.Schema)
}

func (s *StoreSuite) SetupTest() {
	s.pg.Truncate(s.T(), "encryption_keys")
	s.store = keypostgres.NewPostgres(s.pg.DB)
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) key(id string) keys.StoredKey {
	return keys.StoredKey{
		ID:             keys.KeyID(id),
		SealedMaterial: []byte("sealed-" + id),
		CreatedAt:      s.now,
		ExpiresAt:      s.now.Add(90 * 24 * time.Hour),
		Status:         keys.StatusActive,
	}
}

func (s *StoreSuite) TestRotateRetiresPrevious() {
	ctx := context.Background()
	s.Require().NoError(s.store.Rotate(ctx, s.key("k1"), "", time.Time{}))
	s.Require().NoError(s.store.Rotate(ctx, s.key("k2"), "k1", s.now))

	active, err := s.store.Active(ctx)
	s.Require().NoError(err)
	s.Equal(keys.KeyID("k2"), active.ID)
	s.Equal([]byte("sealed-k2"), active.SealedMaterial)

	old, err := s.store.Get(ctx, "k1")
	s.Require().NoError(err)
	s.Equal(keys.StatusRetired, old.Status)
	s.Require().NotNil(old.RetiredAt)
	s.True(old.RetiredAt.Equal(s.now))

	retired, err := s.store.ListByStatus(ctx, keys.StatusRetired)
	s.Require().NoError(err)
	s.Len(retired, 1)
}

func (s *StoreSuite) TestRotateFromStalePreviousFails() {
	ctx := context.Background()
	s.Require().NoError(s.store.Rotate(ctx, s.key("k1"), "", time.Time{}))

	err := s.store.Rotate(ctx, s.key("k2"), "missing", s.now)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	// Nothing from the failed rotation is visible.
	_, err = s.store.Get(ctx, "k2")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestSecondActiveKeyRejected() {
	ctx := context.Background()
	s.Require().NoError(s.store.Rotate(ctx, s.key("k1"), "", time.Time{}))
	s.Error(s.store.Rotate(ctx, s.key("k2"), "", time.Time{}))
}

func (s *StoreSuite) TestExpireAndDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Rotate(ctx, s.key("k1"), "", time.Time{}))
	s.Require().NoError(s.store.Rotate(ctx, s.key("k2"), "k1", s.now))

	s.Require().NoError(s.store.SetStatus(ctx, "k1", keys.StatusExpired))
	s.Require().NoError(s.store.Delete(ctx, "k1"))

	_, err := s.store.Get(ctx, "k1")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, "k1"), sentinel.ErrNotFound)
}
