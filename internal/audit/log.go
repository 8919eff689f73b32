// Package audit provides the append-only, hash-chained audit log.
//
// Every entry embeds the SHA-256 hash of its predecessor, so a retroactive
// edit anywhere breaks the chain from that point on. Append is synchronous
// and fail-closed: if the entry is not durable, the caller gets
// ErrAuditWriteFailure and must fail the operation it was auditing.
package audit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultPageSize     = 100
	maxPageSize         = 1000
	defaultWriteTimeout = 5 * time.Second

	defaultEmergencyTimeout = 2 * time.Second
)

var tracer = otel.Tracer("phiguard/audit")

// Log sequences appends into a single hash chain.
type Log struct {
	store        Store
	emergency    EmergencyChannel
	logger       *slog.Logger
	metrics      *Metrics
	clock        func() time.Time
	writeTimeout time.Duration

	// emergencyTimeout bounds delivery to the emergency channel, which runs
	// outside mu.
	emergencyTimeout time.Duration

	// mu serializes appends; the chain is built in actual append order.
	mu       sync.Mutex
	loaded   bool
	lastID   EntryID
	lastHash string
	lastTS   time.Time
}

// Option configures the Log.
type Option func(*Log)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(l *Log) {
		l.metrics = m
	}
}

// WithEmergencyChannel sets where entries go when the store rejects them.
func WithEmergencyChannel(ch EmergencyChannel) Option {
	return func(l *Log) {
		l.emergency = ch
	}
}

// WithClock overrides time.Now for entry timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithWriteTimeout bounds a single store write once it has started.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.writeTimeout = d
		}
	}
}

// WithEmergencyTimeout bounds delivery of a failed entry to the emergency
// channel. Append returns no later than this after the store gives up.
func WithEmergencyTimeout(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.emergencyTimeout = d
		}
	}
}

// New creates a Log over store.
func New(store Store, opts ...Option) *Log {
	l := &Log{
		store:        store,
		logger:       slog.Default(),
		clock:        time.Now,
		writeTimeout: defaultWriteTimeout,

		emergencyTimeout: defaultEmergencyTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append assigns the next ID, timestamp and prior hash to entry and writes it
// synchronously. Cancellation is honoured until the store write begins; after
// that the write runs to completion.
func (l *Log) Append(ctx context.Context, entry Entry) (EntryID, error) {
	ctx, span := tracer.Start(ctx, "audit.Append")
	defer span.End()
	span.SetAttributes(attribute.String("audit.action", string(entry.Action)))

	if err := validateEntry(entry); err != nil {
		return 0, l.fail(ctx, entry, err)
	}
	stamped, err := l.appendChained(ctx, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit write failed")
		return 0, l.fail(ctx, stamped, err)
	}
	return stamped.ID, nil
}

// appendChained links entry onto the chain and writes it while holding mu.
// On failure it returns the entry as far as it was stamped.
func (l *Log) appendChained(ctx context.Context, entry Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return entry, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return entry, err
	}
	if err := l.loadHeadLocked(ctx); err != nil {
		return entry, err
	}

	ts := normalizeTimestamp(l.clock())
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	entry.ID = l.lastID + 1
	entry.Timestamp = ts
	entry.PriorEntryHash = l.lastHash
	if entry.Severity == "" {
		entry.Severity = entry.Action.DefaultSeverity()
	}

	start := time.Now()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()
	if err := l.store.Append(writeCtx, entry); err != nil {
		// The write may or may not have landed; reread the head next time.
		l.loaded = false
		return entry, err
	}

	l.lastID = entry.ID
	l.lastHash = HashEntry(entry)
	l.lastTS = ts
	l.metrics.observeAppend(entry.Action, time.Since(start))
	return entry, nil
}

// loadHeadLocked initialises the chain tail from the store. Caller holds mu.
func (l *Log) loadHeadLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	head, ok, err := l.store.Head(ctx)
	if err != nil {
		return fmt.Errorf("load audit head: %w", err)
	}
	if ok {
		l.lastID = head.ID
		l.lastHash = HashEntry(head)
		l.lastTS = head.Timestamp
		l.loaded = true
		return nil
	}
	cp, err := l.store.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("load audit checkpoint: %w", err)
	}
	if cp.IsZero() {
		l.lastID = 0
		l.lastHash = GenesisHash
	} else {
		l.lastID = cp.Through
		l.lastHash = cp.Hash
	}
	l.loaded = true
	return nil
}

// fail wraps cause as ErrAuditWriteFailure and routes the entry to the
// emergency channel. The error is always returned to the caller. Callers must
// not hold mu.
func (l *Log) fail(ctx context.Context, entry Entry, cause error) error {
	l.metrics.incWriteFailure()
	l.logger.ErrorContext(ctx, "CRITICAL: audit append failed",
		"action", entry.Action,
		"resource_type", entry.ResourceType,
		"error", cause,
	)
	if l.emergency != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.emergencyTimeout)
		defer cancel()
		if err := l.emergency.Notify(notifyCtx, entry, cause); err != nil {
			l.metrics.incEmergency("failed")
			l.logger.ErrorContext(ctx, "CRITICAL: emergency audit channel failed",
				"action", entry.Action,
				"error", err,
			)
		} else {
			l.metrics.incEmergency("delivered")
		}
	}
	return fmt.Errorf("%w: %w", ErrAuditWriteFailure, cause)
}

func validateEntry(e Entry) error {
	if e.Action == "" {
		return errors.New("entry requires an action")
	}
	if e.ActorID == "" {
		return errors.New("entry requires an actor")
	}
	if e.Result == "" {
		return errors.New("entry requires a result")
	}
	return nil
}

// Page returns one page of entries matching filter, ID ascending (which is
// also timestamp ascending).
func (l *Log) Page(ctx context.Context, filter Filter) (Page, error) {
	size := filter.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	// Fetch one extra to learn whether another page exists.
	entries, err := l.store.Scan(ctx, filter, EntryID(filter.After), size+1)
	if err != nil {
		return Page{}, fmt.Errorf("scan audit entries: %w", err)
	}
	page := Page{Next: filter.After}
	if len(entries) > size {
		entries = entries[:size]
		page.HasMore = true
	}
	page.Entries = entries
	if len(entries) > 0 {
		page.Next = Cursor(entries[len(entries)-1].ID)
	}
	return page, nil
}

// Query lazily walks every entry matching filter, fetching a page at a time.
// Iteration stops at the first error, which is yielded once. Restart from the
// last seen entry by setting filter.After to Cursor(entry.ID).
func (l *Log) Query(ctx context.Context, filter Filter) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for {
			page, err := l.Page(ctx, filter)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if !page.HasMore {
				return
			}
			filter.After = page.Next
		}
	}
}
