package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEmptyContext(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)
}

func TestWithNilTxLeavesContextUnchanged(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithTx(ctx, nil))
}

func TestRunJoinsOuterTransaction(t *testing.T) {
	outer := &sql.Tx{}
	ctx := WithTx(context.Background(), outer)

	var got *sql.Tx
	// A nil db proves no new transaction is started.
	err := Run(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		got = tx
		inner, ok := From(ctx)
		assert.True(t, ok)
		assert.Same(t, outer, inner)
		return nil
	})
	assert.NoError(t, err)
	assert.Same(t, outer, got)
}
