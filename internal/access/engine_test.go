package access_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"phiguard/internal/access"
	"phiguard/internal/access/adapters"
	"phiguard/internal/access/mocks"
	"phiguard/internal/access/ports"
	"phiguard/internal/audit"
	auditmemory "phiguard/internal/audit/store/memory"
	consentModels "phiguard/internal/consent/models"
	consentService "phiguard/internal/consent/service"
	consentmemory "phiguard/internal/consent/store/memory"
	"phiguard/internal/platform/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type EngineSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *fakeClock
	auditLog *audit.Log
	consents *consentService.Service
	engine   *access.Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	policy := config.DefaultPolicy()

	s.auditLog = audit.New(auditmemory.NewInMemoryStore(), audit.WithClock(s.clock.Now))
	s.consents = consentService.New(consentmemory.NewInMemoryStore(), s.auditLog,
		consentService.WithCategoryGroups(policy.CategoryGroups),
		consentService.WithClock(s.clock.Now),
	)
	s.engine = access.New(access.PolicyFromConfig(policy), adapters.NewConsentAdapter(s.consents), s.auditLog,
		access.WithClock(s.clock.Now),
	)
}

func (s *EngineSuite) grant(subject, grantee string, categories ...string) consentModels.ConsentID {
	id, err := s.consents.CreateConsent(s.ctx, consentModels.CreateInput{
		SubjectID:      subject,
		Grantee:        grantee,
		DataCategories: categories,
	})
	s.Require().NoError(err)
	return id
}

func (s *EngineSuite) decisions() []audit.Entry {
	var out []audit.Entry
	for e, err := range s.auditLog.Query(s.ctx, audit.Filter{Action: audit.ActionAccessDecision}) {
		s.Require().NoError(err)
		out = append(out, e)
	}
	return out
}

func (s *EngineSuite) lastDecision() audit.Entry {
	entries := s.decisions()
	s.Require().NotEmpty(entries)
	return entries[len(entries)-1]
}

func read(requester, role, subject string, categories ...string) access.Request {
	return access.Request{
		RequesterID:    requester,
		RequesterRole:  role,
		SubjectID:      subject,
		DataCategories: categories,
		Purpose:        "treatment",
		Action:         access.ActionRead,
	}
}

func (s *EngineSuite) TestConsentGrantsOnlyTheGrantee() {
	consentID := s.grant("P1", "Doc1", "lab_results")

	d := s.engine.Check(s.ctx, read("Doc1", "doctor", "P1", "lab_results"))
	allow, ok := d.(access.Allow)
	s.Require().True(ok, "expected allow, got %#v", d)
	s.Equal(access.ReasonConsentGranted, allow.Code)
	s.Equal([]string{consentID.String()}, allow.ConsentIDs)
	s.Equal(allow.EntryID, s.lastDecision().ID)
	s.Equal(audit.ResultAllowed, s.lastDecision().Result)

	d = s.engine.Check(s.ctx, read("Doc2", "doctor", "P1", "lab_results"))
	s.Equal(access.Outcome{Allowed: false, ReasonCode: access.ReasonNoValidConsent}, d.Outcome())
	s.Equal(audit.ResultDenied, s.lastDecision().Result)
	s.Len(s.decisions(), 2)
}

func (s *EngineSuite) TestEmergencyAccess() {
	req := read("ER1", "ER_DOCTOR", "P1", "medical_history")
	req.EmergencyReason = "unresponsive patient in ER"

	d := s.engine.Check(s.ctx, req)
	s.Equal(access.Outcome{Allowed: true, ReasonCode: access.ReasonEmergencyAccess}, d.Outcome())
	s.Empty(d.(access.Allow).ConsentIDs)

	entry := s.lastDecision()
	s.Equal(audit.SeverityHigh, entry.Severity)
	s.Contains(entry.Reason, "unresponsive patient in ER")
}

func (s *EngineSuite) TestEmergencyAccessRequiresReason() {
	d := s.engine.Check(s.ctx, read("ER1", "ER_DOCTOR", "P1", "medical_history"))
	s.Equal(access.ReasonEmergencyReasonRequired, d.Outcome().ReasonCode)
	s.False(d.Outcome().Allowed)
	s.Equal(audit.SeverityHigh, s.lastDecision().Severity)
}

func (s *EngineSuite) TestSelfAccess() {
	d := s.engine.Check(s.ctx, read("P1", "patient", "P1", "mental_health", "lab_results"))
	s.Equal(access.Outcome{Allowed: true, ReasonCode: access.ReasonSelfAccess}, d.Outcome())
	s.Equal(audit.SeverityNormal, s.lastDecision().Severity)
}

func (s *EngineSuite) TestSelfAccessStillNeedsRole() {
	req := read("P1", "janitor", "P1", "lab_results")
	s.Equal(access.ReasonRoleUnauthorized, s.engine.Check(s.ctx, req).Outcome().ReasonCode)
}

func (s *EngineSuite) TestRoleUnauthorized() {
	s.grant("P1", "N1", "genetic")
	s.grant("P1", "R1", "genetic")

	cases := []struct {
		name string
		req  access.Request
	}{
		{"unknown role", read("X1", "janitor", "P1", "lab_results")},
		{"nurse category", read("N1", "nurse", "P1", "genetic")},
		{"researcher category", read("R1", "researcher", "P1", "genetic")},
		{"unknown resource type", func() access.Request {
			r := read("D1", "doctor", "P1", "lab_results")
			r.ResourceType = "billing"
			return r
		}()},
		{"nurse write", func() access.Request {
			r := read("N1", "nurse", "P1", "lab_results")
			r.Action = access.ActionWrite
			return r
		}()},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			d := s.engine.Check(s.ctx, tc.req)
			s.Equal(access.Outcome{Allowed: false, ReasonCode: access.ReasonRoleUnauthorized}, d.Outcome())
		})
	}
}

func (s *EngineSuite) TestTimeRestrictedRole() {
	s.grant("P1", "R1", "lab_results")

	d := s.engine.Check(s.ctx, read("R1", "researcher", "P1", "lab_results"))
	s.True(d.Outcome().Allowed)

	s.clock.Set(time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC))
	d = s.engine.Check(s.ctx, read("R1", "researcher", "P1", "lab_results"))
	s.Equal(access.ReasonRoleUnauthorized, d.Outcome().ReasonCode)
}

func (s *EngineSuite) TestHighSensitivityNeedsExactConsent() {
	s.grant("P1", "Doc1", "clinical")

	d := s.engine.Check(s.ctx, read("Doc1", "doctor", "P1", "lab_results"))
	s.True(d.Outcome().Allowed, "group consent covers normal categories")

	d = s.engine.Check(s.ctx, read("Doc1", "doctor", "P1", "mental_health"))
	s.Equal(access.Outcome{Allowed: false, ReasonCode: access.ReasonInsufficientScope}, d.Outcome())

	exact := s.grant("P1", "Doc1", "mental_health")
	d = s.engine.Check(s.ctx, read("Doc1", "doctor", "P1", "mental_health"))
	s.Require().True(d.Outcome().Allowed)
	s.Equal([]string{exact.String()}, d.(access.Allow).ConsentIDs)
}

func (s *EngineSuite) TestEveryCategoryNeedsConsent() {
	labs := s.grant("P1", "Doc1", "lab_results")

	d := s.engine.Check(s.ctx, read("Doc1", "doctor", "P1", "lab_results", "imaging"))
	s.Equal(access.ReasonNoValidConsent, d.Outcome().ReasonCode)

	imaging := s.grant("P1", "Doc1", "imaging")
	d = s.engine.Check(s.ctx, read("Doc1", "doctor", "P1", "lab_results", "imaging"))
	s.Require().True(d.Outcome().Allowed)
	s.Equal([]string{labs.String(), imaging.String()}, d.(access.Allow).ConsentIDs)
}

func (s *EngineSuite) TestRevokedConsentDenies() {
	id := s.grant("P1", "Doc1", "lab_results")
	s.Require().NoError(s.consents.RevokeConsent(s.ctx, id, "P1"))

	d := s.engine.Check(s.ctx, read("Doc1", "doctor", "P1", "lab_results"))
	s.Equal(access.ReasonNoValidConsent, d.Outcome().ReasonCode)
}

func (s *EngineSuite) TestInvalidRequestIsAudited() {
	cases := map[string]access.Request{
		"no categories": read("Doc1", "doctor", "P1"),
		"no requester":  read("", "doctor", "P1", "lab_results"),
		"no role":       read("Doc1", "", "P1", "lab_results"),
		"no subject":    read("Doc1", "doctor", "", "lab_results"),
		"no action": func() access.Request {
			r := read("Doc1", "doctor", "P1", "lab_results")
			r.Action = ""
			return r
		}(),
	}
	for name, req := range cases {
		s.Run(name, func() {
			before := len(s.decisions())
			d := s.engine.Check(s.ctx, req)
			s.Equal(access.ReasonInvalidRequest, d.Outcome().ReasonCode)
			s.Len(s.decisions(), before+1)
			s.NotZero(d.(access.Deny).EntryID)
		})
	}
}

func (s *EngineSuite) TestDefaultResourceType() {
	s.engine.Check(s.ctx, read("P1", "patient", "P1", "lab_results"))
	s.Equal(access.DefaultResourceType, s.lastDecision().ResourceType)
}

type EngineFailureSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	consent *mocks.MockConsentPort
	auditor *mocks.MockAuditPort
	engine  *access.Engine
}

func TestEngineFailureSuite(t *testing.T) {
	suite.Run(t, new(EngineFailureSuite))
}

func (s *EngineFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.consent = mocks.NewMockConsentPort(s.ctrl)
	s.auditor = mocks.NewMockAuditPort(s.ctrl)
	s.engine = access.New(access.PolicyFromConfig(config.DefaultPolicy()), s.consent, s.auditor,
		access.WithClock(func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }),
	)
}

func (s *EngineFailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *EngineFailureSuite) TestAuditFailureForcesDeny() {
	s.auditor.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e audit.Entry) (audit.EntryID, error) {
			s.Equal(audit.ResultAllowed, e.Result)
			return 0, audit.ErrAuditWriteFailure
		})

	d := s.engine.Check(context.Background(), read("P1", "patient", "P1", "lab_results"))
	deny, ok := d.(access.Deny)
	s.Require().True(ok)
	s.Equal(access.ReasonAuditFailure, deny.Code)
	s.Zero(deny.EntryID)
}

func (s *EngineFailureSuite) TestAuditFailureOnConsentedAccess() {
	s.consent.EXPECT().FindApplicableConsent(gomock.Any(), gomock.Any()).
		Return(&ports.ConsentMatch{ConsentID: "c1", Exact: true}, nil)
	s.auditor.EXPECT().Append(gomock.Any(), gomock.Any()).Return(audit.EntryID(0), audit.ErrAuditWriteFailure)

	d := s.engine.Check(context.Background(), read("Doc1", "doctor", "P1", "lab_results"))
	s.Equal(access.Outcome{Allowed: false, ReasonCode: access.ReasonAuditFailure}, d.Outcome())
}

func (s *EngineFailureSuite) TestConsentLookupErrorDenies() {
	s.consent.EXPECT().FindApplicableConsent(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection refused")).AnyTimes()
	s.auditor.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e audit.Entry) (audit.EntryID, error) {
			s.Equal(audit.ResultDenied, e.Result)
			s.Equal(string(access.ReasonInternalError), e.Reason)
			return 7, nil
		})

	d := s.engine.Check(context.Background(), read("Doc1", "doctor", "P1", "lab_results", "imaging"))
	s.Equal(access.Deny{Code: access.ReasonInternalError, At: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), EntryID: 7}, d)
}

func (s *EngineFailureSuite) TestLookupQueriesEveryCategory() {
	s.consent.EXPECT().FindApplicableConsent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, q ports.ConsentQuery) (*ports.ConsentMatch, error) {
			s.Equal("P1", q.SubjectID)
			s.Equal("Doc1", q.RequesterID)
			s.Equal("treatment", q.Purpose)
			return &ports.ConsentMatch{ConsentID: "c-" + q.Category, Exact: true}, nil
		}).Times(3)
	s.auditor.EXPECT().Append(gomock.Any(), gomock.Any()).Return(audit.EntryID(1), nil)

	d := s.engine.Check(context.Background(), read("Doc1", "doctor", "P1", "lab_results", "imaging", "medications", "imaging"))
	s.Require().True(d.Outcome().Allowed)
	s.Equal([]string{"c-lab_results", "c-imaging", "c-medications"}, d.(access.Allow).ConsentIDs)
}
