package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	dErrors "phiguard/pkg/domain-errors"
)

// ConsentStoreTx provides a transactional boundary for consent store mutations.
// Implementations may wrap a database transaction or, in-memory, a lock.
type ConsentStoreTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// Writes for one subject share a shard; different subjects rarely contend.
const numConsentShards = 128

const defaultConsentTxTimeout = 5 * time.Second

// shardedConsentTx serializes mutations per subject using striped mutexes.
type shardedConsentTx struct {
	shards  [numConsentShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// NewShardedTx returns the in-process transaction boundary over store.
func NewShardedTx(store Store) ConsentStoreTx {
	return &shardedConsentTx{store: store, timeout: defaultConsentTxTimeout}
}

func (t *shardedConsentTx) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultConsentTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(t.store)
}

// selectShard picks a shard from the subject bound to ctx, or shard 0.
func selectShard(ctx context.Context) int {
	if subjectID := TxSubject(ctx); subjectID != "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(subjectID))
		return int(h.Sum32() % numConsentShards)
	}
	return 0
}

type txSubjectKey struct{}

// WithTxSubject binds the subject whose consents a transaction mutates.
func WithTxSubject(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, txSubjectKey{}, subjectID)
}

// TxSubject returns the subject bound by WithTxSubject, or "".
func TxSubject(ctx context.Context) string {
	s, _ := ctx.Value(txSubjectKey{}).(string)
	return s
}
