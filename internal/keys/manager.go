// Package keys owns the AES-256 data encryption keys: generation, rotation,
// lookup by id for decryption, expiry and purge.
//
// Exactly one key is active. Rotation swaps the active pointer atomically,
// so a caller holding the previous key finishes its operation with it; the
// previous key stays available for decryption until it expires.
package keys

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"phiguard/internal/audit"
	"phiguard/pkg/platform/sentinel"
	"phiguard/pkg/requestcontext"
)

const (
	DefaultRotationInterval = 90 * 24 * time.Hour
	DefaultRetention        = 365 * 24 * time.Hour

	systemActor = "system"

	triggerManual    = "manual"
	triggerScheduled = "scheduled"
	triggerSelfHeal  = "self_heal"
)

// Manager is the single owner of the active key. Construct one per process
// and pass it to the components that need keys.
type Manager struct {
	store   Store
	auditor Auditor
	sealer  *Sealer
	logger  *slog.Logger
	metrics *Metrics
	clock   func() time.Time

	rotationInterval time.Duration
	retention        time.Duration

	active   atomic.Pointer[Key]
	retired  sync.Map // KeyID -> *Key
	rotateMu sync.Mutex
	heal     singleflight.Group
}

// Option configures the Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithRotationInterval sets how long a key stays active before RotateIfDue
// replaces it.
func WithRotationInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.rotationInterval = d
		}
	}
}

// WithRetention sets how long a retired key can still decrypt.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// NewManager creates a Manager. No key is generated until one is needed.
func NewManager(store Store, auditor Auditor, sealer *Sealer, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		auditor:          auditor,
		sealer:           sealer,
		logger:           slog.Default(),
		clock:            time.Now,
		rotationInterval: DefaultRotationInterval,
		retention:        DefaultRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateKey creates a new key and retires the current one. The rotation is
// audited before it is persisted; if the audit entry cannot be written the
// rotation does not happen.
func (m *Manager) GenerateKey(ctx context.Context) (KeyID, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	k, err := m.rotateLocked(ctx, triggerManual)
	if err != nil {
		return "", err
	}
	return k.ID, nil
}

// ActiveKey returns the current key, generating one if none exists.
// Concurrent callers that find no key share a single generation; it runs
// detached from any one caller, and each caller waits only as long as its
// own ctx allows.
func (m *Manager) ActiveKey(ctx context.Context) (Key, error) {
	if k := m.active.Load(); k != nil {
		return *k, nil
	}

	healCtx := context.WithoutCancel(ctx)
	ch := m.heal.DoChan("active", func() (any, error) {
		m.rotateMu.Lock()
		defer m.rotateMu.Unlock()

		k, err := m.currentLocked(healCtx)
		if err == nil {
			return k, nil
		}
		if !errors.Is(err, ErrNoActiveKey) {
			return nil, err
		}
		m.logger.WarnContext(healCtx, "no active encryption key, generating one")
		m.metrics.incSelfHeal()
		return m.rotateLocked(healCtx, triggerSelfHeal)
	})

	select {
	case <-ctx.Done():
		return Key{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Key{}, res.Err
		}
		return *res.Val.(*Key), nil
	}
}

// Key returns the key with id for decryption. Retired keys are served from a
// lock-free cache once loaded.
func (m *Manager) Key(ctx context.Context, id KeyID) (Key, error) {
	if k := m.active.Load(); k != nil && k.ID == id {
		m.metrics.incLookup("active")
		return *k, nil
	}
	if v, ok := m.retired.Load(id); ok {
		m.metrics.incLookup("cache")
		return m.checkUsable(*v.(*Key))
	}

	m.metrics.incLookup("store")
	stored, err := m.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Key{}, ErrKeyNotFound
	}
	if err != nil {
		return Key{}, fmt.Errorf("load key %s: %w", id, err)
	}
	k, err := m.open(*stored)
	if err != nil {
		return Key{}, err
	}
	if k.Status != StatusActive {
		m.retired.Store(k.ID, &k)
	}
	return m.checkUsable(k)
}

func (m *Manager) checkUsable(k Key) (Key, error) {
	if k.Status == StatusExpired {
		return Key{}, ErrKeyExpired
	}
	if k.RetiredAt != nil && !m.clock().Before(k.RetiredAt.Add(m.retention)) {
		return Key{}, ErrKeyExpired
	}
	return k, nil
}

// RotateIfDue rotates when the active key has passed its rotation deadline,
// or generates one when none exists. It reports whether a new key was made.
func (m *Manager) RotateIfDue(ctx context.Context) (bool, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	cur, err := m.currentLocked(ctx)
	if err != nil && !errors.Is(err, ErrNoActiveKey) {
		return false, err
	}
	if cur != nil && m.clock().Before(cur.ExpiresAt) {
		return false, nil
	}
	if _, err := m.rotateLocked(ctx, triggerScheduled); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireRetired marks retired keys past the retention window as expired.
// Each transition is audited first; the first failure stops the sweep.
func (m *Manager) ExpireRetired(ctx context.Context) (int, error) {
	retired, err := m.store.ListByStatus(ctx, StatusRetired)
	if err != nil {
		return 0, fmt.Errorf("list retired keys: %w", err)
	}

	now := m.clock()
	expired := 0
	for _, sk := range retired {
		if sk.RetiredAt == nil || now.Before(sk.RetiredAt.Add(m.retention)) {
			continue
		}
		if _, err := m.auditor.Append(ctx, m.entry(ctx, audit.ActionKeyExpired, sk.ID, audit.ResultSuccess, "retention elapsed")); err != nil {
			return expired, err
		}
		if err := m.store.SetStatus(ctx, sk.ID, StatusExpired); err != nil {
			return expired, fmt.Errorf("expire key %s: %w", sk.ID, err)
		}
		if v, ok := m.retired.Load(sk.ID); ok {
			k := *v.(*Key)
			k.Status = StatusExpired
			m.retired.Store(sk.ID, &k)
		}
		m.metrics.incExpiration()
		expired++
	}
	return expired, nil
}

// Purge hard-deletes a non-active key once refs reports that no ciphertext
// references it.
func (m *Manager) Purge(ctx context.Context, id KeyID, refs ReferenceCounter) error {
	if k := m.active.Load(); k != nil && k.ID == id {
		return ErrKeyInUse
	}
	stored, err := m.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("load key %s: %w", id, err)
	}
	if stored.Status == StatusActive {
		return ErrKeyInUse
	}
	n, err := refs.CountReferences(ctx, id)
	if err != nil {
		return fmt.Errorf("count references to key %s: %w", id, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d blobs reference key %s", ErrKeyInUse, n, id)
	}

	if _, err := m.auditor.Append(ctx, m.entry(ctx, audit.ActionKeyPurged, id, audit.ResultSuccess, "no references")); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete key %s: %w", id, err)
	}
	m.retired.Delete(id)
	m.metrics.incPurge()
	return nil
}

// Run rotates due keys and expires retired ones every interval until ctx is
// cancelled. Failures are logged and retried on the next tick.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RotateIfDue(ctx); err != nil {
				m.logger.ErrorContext(ctx, "scheduled key rotation failed", "error", err)
			}
			if _, err := m.ExpireRetired(ctx); err != nil {
				m.logger.ErrorContext(ctx, "key expiry sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// currentLocked returns the active key, loading it from the store on first
// use. Caller holds rotateMu.
func (m *Manager) currentLocked(ctx context.Context) (*Key, error) {
	if k := m.active.Load(); k != nil {
		return k, nil
	}
	stored, err := m.store.Active(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, ErrNoActiveKey
	}
	if err != nil {
		return nil, fmt.Errorf("load active key: %w", err)
	}
	k, err := m.open(*stored)
	if err != nil {
		return nil, err
	}
	m.active.Store(&k)
	return &k, nil
}

// rotateLocked generates, audits, persists and publishes a new key, in that
// order. Caller holds rotateMu.
func (m *Manager) rotateLocked(ctx context.Context, trigger string) (*Key, error) {
	prev, err := m.currentLocked(ctx)
	if err != nil && !errors.Is(err, ErrNoActiveKey) {
		return nil, err
	}

	material := make([]byte, KeySize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	now := m.clock().UTC()
	next := Key{
		ID:        KeyID(uuid.NewString()),
		Material:  material,
		CreatedAt: now,
		ExpiresAt: now.Add(m.rotationInterval),
		Status:    StatusActive,
	}
	sealed, err := m.sealer.Seal(next.ID, material)
	if err != nil {
		return nil, err
	}

	var prevID KeyID
	reason := "initial key"
	if prev != nil {
		prevID = prev.ID
		reason = "rotated from " + prev.ID.String()
	}
	if _, err := m.auditor.Append(ctx, m.entry(ctx, audit.ActionKeyRotation, next.ID, audit.ResultSuccess, trigger+": "+reason)); err != nil {
		m.metrics.incRotation(trigger, "audit_failure")
		return nil, err
	}

	err = m.store.Rotate(ctx, StoredKey{
		ID:             next.ID,
		SealedMaterial: sealed,
		CreatedAt:      next.CreatedAt,
		ExpiresAt:      next.ExpiresAt,
		Status:         StatusActive,
	}, prevID, now)
	if err != nil {
		m.metrics.incRotation(trigger, "store_failure")
		// The rotation entry is already in the log; record that it did not land.
		if _, auditErr := m.auditor.Append(ctx, m.entry(ctx, audit.ActionKeyRotation, next.ID, audit.ResultFailure, "store write failed")); auditErr != nil {
			m.logger.ErrorContext(ctx, "CRITICAL: failed to audit aborted key rotation", "error", auditErr)
		}
		return nil, fmt.Errorf("persist key rotation: %w", err)
	}

	if prev != nil {
		retired := *prev
		retired.Status = StatusRetired
		retired.RetiredAt = &now
		m.retired.Store(retired.ID, &retired)
	}
	m.active.Store(&next)
	m.metrics.incRotation(trigger, "success")
	m.logger.InfoContext(ctx, "encryption key rotated", "trigger", trigger)
	return &next, nil
}

func (m *Manager) open(sk StoredKey) (Key, error) {
	material, err := m.sealer.Open(sk.ID, sk.SealedMaterial)
	if err != nil {
		return Key{}, err
	}
	return Key{
		ID:        sk.ID,
		Material:  material,
		CreatedAt: sk.CreatedAt,
		ExpiresAt: sk.ExpiresAt,
		RetiredAt: sk.RetiredAt,
		Status:    sk.Status,
	}, nil
}

func (m *Manager) entry(ctx context.Context, action audit.Action, id KeyID, result audit.Result, reason string) audit.Entry {
	actor := requestcontext.RequesterID(ctx)
	if actor == "" {
		actor = systemActor
	}
	return audit.Entry{
		ActorID:      actor,
		Action:       action,
		ResourceType: audit.ResourceKey,
		ResourceID:   id.String(),
		Result:       result,
		Reason:       reason,
		RequestID:    requestcontext.RequestID(ctx),
	}
}
