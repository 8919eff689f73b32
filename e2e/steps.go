//go:build e2e

// Package e2e drives a full in-process phiguard server through Gherkin
// scenarios.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/cucumber/godog"

	"phiguard/internal/access"
	accessAdapters "phiguard/internal/access/adapters"
	accessHandler "phiguard/internal/access/handler"
	"phiguard/internal/admin"
	"phiguard/internal/audit"
	auditmemory "phiguard/internal/audit/store/memory"
	consentHandler "phiguard/internal/consent/handler"
	consentService "phiguard/internal/consent/service"
	consentmemory "phiguard/internal/consent/store/memory"
	httpapi "phiguard/internal/http"
	"phiguard/internal/identity"
	"phiguard/internal/keys"
	keymemory "phiguard/internal/keys/store/memory"
	"phiguard/internal/platform/config"
	"phiguard/internal/platform/metrics"
)

const signingKey = "e2e-signing-key-0123456789abcdef"

// TestContext holds per-scenario state.
type TestContext struct {
	server    *httptest.Server
	validator *identity.Validator
	consentID string
	outcome   access.Outcome
}

// RegisterSteps binds every step definition to tc.
func RegisterSteps(sc *godog.ScenarioContext, tc *TestContext) {
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if tc.server != nil {
			tc.server.Close()
		}
		return ctx, err
	})

	sc.Step(`^a running phiguard server$`, tc.aRunningServer)
	sc.Step(`^patient "([^"]*)" grants "([^"]*)" consent to "([^"]*)" for "([^"]*)" for (\d+) days$`, tc.patientGrants)
	sc.Step(`^patient "([^"]*)" revokes that consent$`, tc.patientRevokes)
	sc.Step(`^"([^"]*)" with role "([^"]*)" checks "([^"]*)" access to "([^"]*)" of "([^"]*)" for "([^"]*)"$`, tc.checks)
	sc.Step(`^"([^"]*)" with role "([^"]*)" checks emergency "([^"]*)" access to "([^"]*)" of "([^"]*)" because "([^"]*)"$`, tc.checksEmergency)
	sc.Step(`^access is allowed with reason "([^"]*)"$`, tc.allowedWith)
	sc.Step(`^access is denied with reason "([^"]*)"$`, tc.deniedWith)
	sc.Step(`^the audit chain is valid$`, tc.auditChainValid)
}

func (tc *TestContext) aRunningServer() error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := config.DefaultPolicy()

	auditLog := audit.New(auditmemory.NewInMemoryStore(), audit.WithLogger(logger))
	sealer, err := keys.NewEphemeralSealer()
	if err != nil {
		return err
	}
	keyManager := keys.NewManager(keymemory.NewInMemoryStore(), auditLog, sealer, keys.WithLogger(logger))
	consents := consentService.New(consentmemory.NewInMemoryStore(), auditLog,
		consentService.WithLogger(logger),
		consentService.WithCategoryGroups(policy.CategoryGroups))
	engine := access.New(access.PolicyFromConfig(policy), accessAdapters.NewConsentAdapter(consents), auditLog,
		access.WithLogger(logger))

	tc.validator = identity.NewValidator(signingKey, "", "")
	tc.server = httptest.NewServer(httpapi.NewRouter(httpapi.Deps{
		Logger:    logger,
		Validator: tc.validator,
		Registry:  metrics.NewRegistry(),
		Access:    accessHandler.New(engine, logger),
		Consent:   consentHandler.New(consents, logger),
		Admin:     admin.New(auditLog, keyManager, 24*time.Hour, logger),
	}))
	return nil
}

func (tc *TestContext) do(method, path, requester, role string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, tc.server.URL+path, reader)
	if err != nil {
		return 0, err
	}
	token, err := tc.validator.IssueToken(identity.Requester{ID: requester, Role: role}, time.Minute)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (tc *TestContext) patientGrants(subject, grantee, category, purpose string, days int) error {
	var out map[string]string
	status, err := tc.do(http.MethodPost, "/consents", subject, "patient", consentHandler.CreateRequest{
		Grantee:        grantee,
		DataCategories: []string{category},
		Purposes:       []string{purpose},
		TimeLimitDays:  &days,
	}, &out)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("create consent: status %d", status)
	}
	tc.consentID = out["id"]
	return nil
}

func (tc *TestContext) patientRevokes(subject string) error {
	status, err := tc.do(http.MethodPost, "/consents/"+tc.consentID+"/revoke", subject, "patient", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("revoke consent: status %d", status)
	}
	return nil
}

func (tc *TestContext) check(requester, role string, req accessHandler.CheckRequest) error {
	tc.outcome = access.Outcome{}
	status, err := tc.do(http.MethodPost, "/access/check", requester, role, req, &tc.outcome)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("access check: status %d", status)
	}
	return nil
}

func (tc *TestContext) checks(requester, role, action, category, subject, purpose string) error {
	return tc.check(requester, role, accessHandler.CheckRequest{
		SubjectID:      subject,
		DataCategories: []string{category},
		Purpose:        purpose,
		Action:         action,
	})
}

func (tc *TestContext) checksEmergency(requester, role, action, category, subject, reason string) error {
	return tc.check(requester, role, accessHandler.CheckRequest{
		SubjectID:       subject,
		DataCategories:  []string{category},
		Action:          action,
		EmergencyReason: reason,
	})
}

func (tc *TestContext) allowedWith(reason string) error {
	if !tc.outcome.Allowed || string(tc.outcome.ReasonCode) != reason {
		return fmt.Errorf("expected allowed/%s, got allowed=%t/%s", reason, tc.outcome.Allowed, tc.outcome.ReasonCode)
	}
	return nil
}

func (tc *TestContext) deniedWith(reason string) error {
	if tc.outcome.Allowed || string(tc.outcome.ReasonCode) != reason {
		return fmt.Errorf("expected denied/%s, got allowed=%t/%s", reason, tc.outcome.Allowed, tc.outcome.ReasonCode)
	}
	return nil
}

func (tc *TestContext) auditChainValid() error {
	var report admin.VerifyResponse
	status, err := tc.do(http.MethodGet, "/admin/audit/verify", "Aud1", "auditor", nil, &report)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("verify: status %d", status)
	}
	if !report.Valid || report.Checked == 0 {
		return fmt.Errorf("audit chain invalid: %+v", report)
	}
	return nil
}
