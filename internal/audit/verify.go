package audit

import (
	"context"
	"fmt"
	"time"
)

const verifyBatchSize = 500

// VerifyReport describes the result of a full-chain verification.
type VerifyReport struct {
	Checked  int
	Valid    bool
	BrokenAt EntryID
	Problem  string
}

// Verify walks the whole stored chain, recomputing every link. It is O(n) and
// intended for periodic or on-demand integrity checks, not the hot path.
// A broken chain is reported in VerifyReport, not as an error; errors are
// reserved for storage failures.
func (l *Log) Verify(ctx context.Context) (VerifyReport, error) {
	ctx, span := tracer.Start(ctx, "audit.Verify")
	defer span.End()

	cp, err := l.store.Checkpoint(ctx)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("load audit checkpoint: %w", err)
	}
	expectedID := cp.Through + 1
	expectedHash := GenesisHash
	if !cp.IsZero() {
		expectedHash = cp.Hash
	}
	var lastTS time.Time

	report := VerifyReport{Valid: true}
	after := cp.Through
	for {
		batch, err := l.store.Scan(ctx, Filter{}, after, verifyBatchSize)
		if err != nil {
			return VerifyReport{}, fmt.Errorf("scan audit entries: %w", err)
		}
		for _, e := range batch {
			report.Checked++
			switch {
			case e.ID != expectedID:
				return broken(report, e.ID, fmt.Sprintf("expected entry %d, found %d", expectedID, e.ID)), nil
			case e.PriorEntryHash != expectedHash:
				return broken(report, e.ID, "prior entry hash mismatch"), nil
			case e.Timestamp.Before(lastTS):
				return broken(report, e.ID, "timestamp earlier than predecessor"), nil
			}
			expectedID = e.ID + 1
			expectedHash = HashEntry(e)
			lastTS = e.Timestamp
		}
		if len(batch) < verifyBatchSize {
			return report, nil
		}
		after = batch[len(batch)-1].ID
	}
}

func broken(r VerifyReport, at EntryID, problem string) VerifyReport {
	r.Valid = false
	r.BrokenAt = at
	r.Problem = problem
	return r
}

// Prune removes entries older than retention and records a checkpoint so the
// remaining chain still verifies. The prune itself is audited; if that entry
// cannot be written, nothing is deleted.
func (l *Log) Prune(ctx context.Context, actorID string, retention time.Duration) (int, error) {
	cutoff := normalizeTimestamp(l.clock()).Add(-retention)

	var last Entry
	found := false
	after := EntryID(0)
	for {
		batch, err := l.store.Scan(ctx, Filter{To: cutoff}, after, verifyBatchSize)
		if err != nil {
			return 0, fmt.Errorf("scan prunable entries: %w", err)
		}
		if len(batch) > 0 {
			last = batch[len(batch)-1]
			found = true
			after = last.ID
		}
		if len(batch) < verifyBatchSize {
			break
		}
	}
	if !found {
		return 0, nil
	}

	cp := Checkpoint{Through: last.ID, Hash: HashEntry(last)}
	if _, err := l.Append(ctx, Entry{
		ActorID:      actorID,
		Action:       ActionAuditPruned,
		ResourceType: ResourceLog,
		ResourceID:   cp.Through.String(),
		Result:       ResultSuccess,
		Reason:       "retention " + retention.String(),
	}); err != nil {
		return 0, err
	}

	n, err := l.store.Prune(ctx, cp)
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	l.logger.InfoContext(ctx, "audit entries pruned", "through", uint64(cp.Through), "count", n)
	return n, nil
}
