// Package access decides whether a requester may read or write a subject's
// data. A check runs the role policy, then the consent lookup, then the
// sensitivity rule, and records exactly one audit entry for the outcome.
// If that entry cannot be written, the decision is Deny(audit_failure).
package access

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"phiguard/internal/access/metrics"
	"phiguard/internal/access/ports"
	"phiguard/internal/audit"
	strs "phiguard/pkg/platform/strings"
	"phiguard/pkg/requestcontext"
)

const unknownActor = "unknown"

var tracer = otel.Tracer("phiguard/access")

// Engine evaluates access requests. It holds no per-request state.
type Engine struct {
	policy  *Policy
	consent ports.ConsentPort
	audit   ports.AuditPort
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func New(policy *Policy, consent ports.ConsentPort, auditor ports.AuditPort, opts ...Option) *Engine {
	e := &Engine{
		policy:  policy,
		consent: consent,
		audit:   auditor,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// evaluation is the computed outcome before it is audited.
type evaluation struct {
	allowed    bool
	code       ReasonCode
	consentIDs []string
	severity   audit.Severity
	detail     string
}

func deny(code ReasonCode) evaluation {
	return evaluation{code: code}
}

// Check evaluates req and returns the audited decision.
func (e *Engine) Check(ctx context.Context, req Request) Decision {
	ctx, span := tracer.Start(ctx, "access.Check")
	defer span.End()
	start := time.Now()
	at := e.clock()

	req = normalize(req)
	ev := e.evaluate(ctx, req, at)

	entryID, err := e.audit.Append(ctx, e.entry(ctx, req, ev))
	if err != nil {
		e.metrics.IncrementAuditFailure()
		e.metrics.IncrementDecision(false, string(ReasonAuditFailure))
		e.logger.ErrorContext(ctx, "CRITICAL: access decision could not be audited",
			"computed_reason", ev.code,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		span.SetAttributes(attribute.String("access.reason", string(ReasonAuditFailure)))
		return Deny{Code: ReasonAuditFailure, At: at}
	}

	e.metrics.IncrementDecision(ev.allowed, string(ev.code))
	e.metrics.ObserveCheck(time.Since(start))
	span.SetAttributes(
		attribute.Bool("access.allowed", ev.allowed),
		attribute.String("access.reason", string(ev.code)),
	)
	if ev.allowed {
		return Allow{Code: ev.code, ConsentIDs: ev.consentIDs, At: at, EntryID: entryID}
	}
	return Deny{Code: ev.code, At: at, EntryID: entryID}
}

func normalize(req Request) Request {
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	req.RequesterRole = strings.TrimSpace(req.RequesterRole)
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	req.Action = strings.TrimSpace(req.Action)
	req.EmergencyReason = strings.TrimSpace(req.EmergencyReason)
	req.DataCategories = strs.DedupeAndTrim(req.DataCategories)
	if req.ResourceType = strings.TrimSpace(req.ResourceType); req.ResourceType == "" {
		req.ResourceType = DefaultResourceType
	}
	return req
}

func (e *Engine) evaluate(ctx context.Context, req Request, at time.Time) evaluation {
	if req.RequesterID == "" || req.RequesterRole == "" || req.SubjectID == "" ||
		req.Action == "" || len(req.DataCategories) == 0 {
		return deny(ReasonInvalidRequest)
	}

	if !e.policy.Authorize(req.RequesterRole, req.ResourceType, req.Action, req.DataCategories, at) {
		return deny(ReasonRoleUnauthorized)
	}

	if req.RequesterID == req.SubjectID {
		return evaluation{allowed: true, code: ReasonSelfAccess}
	}
	if e.policy.IsEmergencyRole(req.RequesterRole) {
		if req.EmergencyReason == "" {
			return evaluation{code: ReasonEmergencyReasonRequired, severity: audit.SeverityHigh}
		}
		return evaluation{
			allowed:  true,
			code:     ReasonEmergencyAccess,
			severity: audit.SeverityHigh,
			detail:   req.EmergencyReason,
		}
	}

	matches, err := e.lookupConsents(ctx, req, at)
	if err != nil {
		e.logger.ErrorContext(ctx, "consent lookup failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return deny(ReasonInternalError)
	}

	var ids []string
	for i, m := range matches {
		if m == nil {
			return evaluation{code: ReasonNoValidConsent, detail: "category " + req.DataCategories[i]}
		}
		if !m.Exact && e.policy.IsHighSensitivity(req.DataCategories[i]) {
			return evaluation{code: ReasonInsufficientScope, detail: "category " + req.DataCategories[i]}
		}
		if !slices.Contains(ids, m.ConsentID) {
			ids = append(ids, m.ConsentID)
		}
	}
	return evaluation{allowed: true, code: ReasonConsentGranted, consentIDs: ids}
}

// lookupConsents finds the applicable consent for every category
// concurrently. The result is index-aligned with req.DataCategories.
func (e *Engine) lookupConsents(ctx context.Context, req Request, at time.Time) ([]*ports.ConsentMatch, error) {
	matches := make([]*ports.ConsentMatch, len(req.DataCategories))
	g, gctx := errgroup.WithContext(ctx)
	for i, category := range req.DataCategories {
		g.Go(func() error {
			start := time.Now()
			m, err := e.consent.FindApplicableConsent(gctx, ports.ConsentQuery{
				SubjectID:   req.SubjectID,
				RequesterID: req.RequesterID,
				Category:    category,
				Purpose:     req.Purpose,
				Region:      req.Region,
				AsOf:        at,
			})
			e.metrics.ObserveConsentLookup(time.Since(start))
			if err != nil {
				return err
			}
			matches[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (e *Engine) entry(ctx context.Context, req Request, ev evaluation) audit.Entry {
	actor := req.RequesterID
	if actor == "" {
		actor = unknownActor
	}
	result := audit.ResultDenied
	if ev.allowed {
		result = audit.ResultAllowed
	}
	reason := string(ev.code)
	if len(ev.consentIDs) > 0 {
		reason += " consents=" + strings.Join(ev.consentIDs, ",")
	}
	if ev.detail != "" {
		reason += ": " + ev.detail
	}
	return audit.Entry{
		ActorID:      actor,
		Action:       audit.ActionAccessDecision,
		ResourceType: req.ResourceType,
		ResourceID:   req.SubjectID,
		Result:       result,
		Reason:       reason,
		Purpose:      req.Purpose,
		Severity:     ev.severity,
		RequestID:    requestcontext.RequestID(ctx),
	}
}
