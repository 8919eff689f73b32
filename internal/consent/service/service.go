// Package service manages consent grants: creation, activation, revocation,
// expiry, and selection of the consent that covers an access request.
//
// Every lifecycle transition is audited before it is persisted. Writes for a
// subject run inside ConsentStoreTx; reads go straight to the store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"

	"phiguard/internal/audit"
	"phiguard/internal/consent/models"
	dErrors "phiguard/pkg/domain-errors"
	"phiguard/pkg/platform/sentinel"
	strs "phiguard/pkg/platform/strings"
	"phiguard/pkg/requestcontext"
)

const systemActor = "system"

// Service persists consent decisions and answers consent queries.
type Service struct {
	store   Store
	tx      ConsentStoreTx
	auditor Auditor
	groups  map[string][]string
	logger  *slog.Logger
	clock   func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithTx replaces the default in-process transaction boundary.
func WithTx(tx ConsentStoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

// WithCategoryGroups sets the group name -> member categories table.
func WithCategoryGroups(groups map[string][]string) Option {
	return func(s *Service) {
		s.groups = groups
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(store Store, auditor Auditor, opts ...Option) *Service {
	s := &Service{
		store:   store,
		auditor: auditor,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = NewShardedTx(store)
	}
	return s
}

// CreateConsent validates and records a consent. It is active immediately
// unless input.Pending is set.
func (s *Service) CreateConsent(ctx context.Context, input models.CreateInput) (models.ConsentID, error) {
	input.SubjectID = strings.TrimSpace(input.SubjectID)
	input.Grantee = strings.TrimSpace(input.Grantee)
	input.DataCategories = strs.DedupeAndTrim(input.DataCategories)
	input.Scope.Purposes = strs.DedupeAndTrim(input.Scope.Purposes)
	input.Scope.GeographicScope = strs.DedupeRegions(input.Scope.GeographicScope)
	if err := validateCreate(input); err != nil {
		return "", err
	}

	now := s.clock().UTC()
	record := &models.ConsentRecord{
		ID:             models.ConsentID(uuid.NewString()),
		SubjectID:      input.SubjectID,
		Grantee:        input.Grantee,
		DataCategories: input.DataCategories,
		Scope:          input.Scope,
		Status:         models.StatusPending,
		CreatedAt:      now,
	}
	if !input.Pending {
		record.Status = models.StatusActive
		record.GrantedAt = &now
	}

	actor := input.ActorID
	if actor == "" {
		actor = input.SubjectID
	}

	err := s.tx.RunInTx(WithTxSubject(ctx, record.SubjectID), func(store Store) error {
		entry := s.entry(ctx, audit.ActionConsentGranted, record.ID, actor, audit.ResultSuccess, "status "+string(record.Status))
		if _, err := s.auditor.Append(ctx, entry); err != nil {
			return err
		}
		if err := store.Save(ctx, record); err != nil {
			s.compensate(ctx, entry)
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save consent")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "consent created",
		"consent_id", record.ID,
		"status", record.Status,
		"categories", len(record.DataCategories),
	)
	return record.ID, nil
}

func validateCreate(input models.CreateInput) error {
	var errs errsx.Map
	if input.SubjectID == "" {
		errs.Set("subject_id", "is required")
	}
	if input.Grantee == "" {
		errs.Set("grantee", "is required")
	}
	if len(input.DataCategories) == 0 {
		errs.Set("data_categories", "at least one category is required")
	}
	if d := input.Scope.TimeLimitDays; d != nil && *d <= 0 {
		errs.Set("time_limit_days", "must be positive, got "+strconv.Itoa(*d))
	}
	if errs.IsEmpty() {
		return nil
	}
	return dErrors.Wrap(errs.AsError(), dErrors.CodeInvalidConsent, "invalid consent")
}

// ActivateConsent moves a pending consent to active and starts its window.
// Activating an active consent is a no-op.
func (s *Service) ActivateConsent(ctx context.Context, id models.ConsentID, actorID string) error {
	subjectID, err := s.subjectOf(ctx, id)
	if err != nil {
		return err
	}
	return s.tx.RunInTx(WithTxSubject(ctx, subjectID), func(store Store) error {
		record, err := s.find(ctx, store, id)
		if err != nil {
			return err
		}
		switch record.Status {
		case models.StatusActive:
			return nil
		case models.StatusPending:
		default:
			return dErrors.New(dErrors.CodeConflict, "consent is "+string(record.Status))
		}

		entry := s.entry(ctx, audit.ActionConsentActivated, id, actorID, audit.ResultSuccess, "")
		if _, err := s.auditor.Append(ctx, entry); err != nil {
			return err
		}
		now := s.clock().UTC()
		record.Status = models.StatusActive
		record.GrantedAt = &now
		if err := store.Update(ctx, record); err != nil {
			s.compensate(ctx, entry)
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate consent")
		}
		return nil
	})
}

// RevokeConsent moves a consent to revoked. Revoking an already revoked
// consent succeeds without a second audit entry.
func (s *Service) RevokeConsent(ctx context.Context, id models.ConsentID, actorID string) error {
	subjectID, err := s.subjectOf(ctx, id)
	if err != nil {
		return err
	}
	return s.tx.RunInTx(WithTxSubject(ctx, subjectID), func(store Store) error {
		record, err := s.find(ctx, store, id)
		if err != nil {
			return err
		}
		if record.Status == models.StatusRevoked {
			return nil
		}

		entry := s.entry(ctx, audit.ActionConsentRevoked, id, actorID, audit.ResultSuccess, "was "+string(record.Status))
		if _, err := s.auditor.Append(ctx, entry); err != nil {
			return err
		}
		now := s.clock().UTC()
		record.Status = models.StatusRevoked
		record.RevokedAt = &now
		record.RevokedBy = entry.ActorID
		if err := store.Update(ctx, record); err != nil {
			s.compensate(ctx, entry)
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke consent")
		}
		s.logger.InfoContext(ctx, "consent revoked", "consent_id", id)
		return nil
	})
}

// IsConsentValid reports whether consent id is active, granted to
// requesterID, and asOf lies within its time window.
func (s *Service) IsConsentValid(ctx context.Context, id models.ConsentID, requesterID string, asOf time.Time) (bool, error) {
	record, err := s.find(ctx, s.store, id)
	if err != nil {
		return false, err
	}
	return record.IsValidFor(requesterID, asOf), nil
}

// FindApplicableConsent returns the most specific valid consent covering the
// query, or nil when none does. An exact category grant beats a group grant;
// ties go to the most recently granted, then the lowest id.
func (s *Service) FindApplicableConsent(ctx context.Context, q models.Query) (*models.Match, error) {
	if q.SubjectID == "" || q.RequesterID == "" || q.Category == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject, requester and category are required")
	}
	if q.AsOf.IsZero() {
		q.AsOf = s.clock()
	}

	candidates, err := s.store.ListBySubjectAndGrantee(ctx, q.SubjectID, q.RequesterID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}

	var (
		best      *models.ConsentRecord
		bestMatch models.CategoryMatch
	)
	for _, c := range candidates {
		if !c.IsValidFor(q.RequesterID, q.AsOf) || !c.CoversPurpose(q.Purpose) || !c.CoversRegion(q.Region) {
			continue
		}
		m := c.MatchCategory(q.Category, s.groups)
		if m == models.NoMatch {
			continue
		}
		if best == nil || models.Better(c, best, m, bestMatch) {
			best, bestMatch = c, m
		}
	}
	if best == nil {
		return nil, nil
	}
	return &models.Match{ConsentID: best.ID, Exact: bestMatch == models.ExactMatch}, nil
}

// ExpireStale moves active consents whose window has closed to expired and
// returns how many were expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list active consents")
	}
	now := s.clock()
	expired := 0
	for _, c := range active {
		if !c.IsStale(now) {
			continue
		}
		err := s.tx.RunInTx(WithTxSubject(ctx, c.SubjectID), func(store Store) error {
			record, err := s.find(ctx, store, c.ID)
			if err != nil {
				return err
			}
			if !record.IsStale(now) {
				return nil
			}
			entry := s.entry(ctx, audit.ActionConsentExpired, record.ID, systemActor, audit.ResultSuccess, "time limit elapsed")
			if _, err := s.auditor.Append(ctx, entry); err != nil {
				return err
			}
			record.Status = models.StatusExpired
			if err := store.Update(ctx, record); err != nil {
				s.compensate(ctx, entry)
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire consent")
			}
			expired++
			return nil
		})
		if err != nil {
			return expired, err
		}
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "stale consents expired", "count", expired)
	}
	return expired, nil
}

// Get returns a consent by id.
func (s *Service) Get(ctx context.Context, id models.ConsentID) (*models.ConsentRecord, error) {
	return s.find(ctx, s.store, id)
}

// Run expires stale consents every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil {
				s.logger.ErrorContext(ctx, "consent expiry sweep failed", "error", err)
			}
		}
	}
}

func (s *Service) subjectOf(ctx context.Context, id models.ConsentID) (string, error) {
	record, err := s.find(ctx, s.store, id)
	if err != nil {
		return "", err
	}
	return record.SubjectID, nil
}

func (s *Service) find(ctx context.Context, store Store, id models.ConsentID) (*models.ConsentRecord, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "consent id is required")
	}
	record, err := store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "consent not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	return record, nil
}

// compensate records that an audited transition did not reach the store.
func (s *Service) compensate(ctx context.Context, entry audit.Entry) {
	entry.Result = audit.ResultFailure
	entry.Reason = "store write failed"
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: failed to audit aborted consent transition",
			"action", entry.Action,
			"error", err,
		)
	}
}

func (s *Service) entry(ctx context.Context, action audit.Action, id models.ConsentID, actor string, result audit.Result, reason string) audit.Entry {
	if actor == "" {
		actor = requestcontext.RequesterID(ctx)
	}
	if actor == "" {
		actor = systemActor
	}
	return audit.Entry{
		ActorID:      actor,
		Action:       action,
		ResourceType: audit.ResourceConsent,
		ResourceID:   id.String(),
		Result:       result,
		Reason:       reason,
		RequestID:    requestcontext.RequestID(ctx),
	}
}
