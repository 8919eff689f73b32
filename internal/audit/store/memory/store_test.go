package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phiguard/internal/audit"
	"phiguard/pkg/platform/sentinel"
)

func entryAt(id audit.EntryID, ts time.Time) audit.Entry {
	return audit.Entry{
		ID:        id,
		ActorID:   "system",
		Action:    audit.ActionKeyRotation,
		Result:    audit.ResultSuccess,
		Timestamp: ts,
	}
}

func TestInMemoryStore_AppendRejectsGaps(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Append(ctx, entryAt(1, now)))
	err := s.Append(ctx, entryAt(3, now))
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	err = s.Append(ctx, entryAt(1, now))
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestInMemoryStore_ScanAndPrune(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 6; i++ {
		require.NoError(t, s.Append(ctx, entryAt(audit.EntryID(i), base.Add(time.Duration(i)*time.Hour))))
	}

	t.Run("after and limit", func(t *testing.T) {
		got, err := s.Scan(ctx, audit.Filter{}, 2, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, audit.EntryID(3), got[0].ID)
		assert.Equal(t, audit.EntryID(4), got[1].ID)
	})

	t.Run("time window", func(t *testing.T) {
		got, err := s.Scan(ctx, audit.Filter{From: base.Add(2 * time.Hour), To: base.Add(4 * time.Hour)}, 0, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, audit.EntryID(2), got[0].ID)
	})

	t.Run("prune drops prefix and records checkpoint", func(t *testing.T) {
		n, err := s.Prune(ctx, audit.Checkpoint{Through: 4, Hash: "abc"})
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		cp, err := s.Checkpoint(ctx)
		require.NoError(t, err)
		assert.Equal(t, audit.EntryID(4), cp.Through)

		got, err := s.Scan(ctx, audit.Filter{}, 0, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, audit.EntryID(5), got[0].ID)

		require.NoError(t, s.Append(ctx, entryAt(7, base.Add(7*time.Hour))))
		head, ok, err := s.Head(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, audit.EntryID(7), head.ID)
	})
}
