package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phiguard/internal/access"
	"phiguard/pkg/testutil"
)

type stubChecker struct {
	got      access.Request
	decision access.Decision
}

func (s *stubChecker) Check(_ context.Context, req access.Request) access.Decision {
	s.got = req
	return s.decision
}

func newRouter(c Checker) chi.Router {
	r := chi.NewRouter()
	New(c, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestHandleCheck(t *testing.T) {
	checker := &stubChecker{decision: access.Allow{Code: access.ReasonConsentGranted, ConsentIDs: []string{"c1"}}}
	router := newRouter(checker)

	req := testutil.NewRequest(t, http.MethodPost, "/access/check",
		`{"subject_id":"P1","data_categories":["lab_results"],"purpose":"treatment","action":"read"}`)
	rec := testutil.Do(router, testutil.AsRequester(req, "Doc1", "doctor"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"allowed": true, "reason_code": "consent_granted"},
		testutil.Decode[map[string]any](t, rec))

	assert.Equal(t, "Doc1", checker.got.RequesterID)
	assert.Equal(t, "doctor", checker.got.RequesterRole)
	assert.Equal(t, []string{"lab_results"}, checker.got.DataCategories)
}

func TestHandleCheckDenyIsStillOK(t *testing.T) {
	router := newRouter(&stubChecker{decision: access.Deny{Code: access.ReasonNoValidConsent}})

	req := testutil.NewRequest(t, http.MethodPost, "/access/check", `{"subject_id":"P1","data_categories":["x"]}`)
	rec := testutil.Do(router, testutil.AsRequester(req, "Doc1", "doctor"))

	require.Equal(t, http.StatusOK, rec.Code)
	out := testutil.Decode[access.Outcome](t, rec)
	assert.False(t, out.Allowed)
	assert.Equal(t, access.ReasonNoValidConsent, out.ReasonCode)
}

func TestHandleCheckRequiresRequester(t *testing.T) {
	router := newRouter(&stubChecker{})
	rec := testutil.Do(router, testutil.NewRequest(t, http.MethodPost, "/access/check", `{}`))
	testutil.AssertError(t, rec, http.StatusUnauthorized, "unauthorized")
}

func TestHandleCheckRejectsRequesterInBody(t *testing.T) {
	router := newRouter(&stubChecker{})
	req := testutil.NewRequest(t, http.MethodPost, "/access/check", `{"subject_id":"P1","requester_id":"someone-else"}`)
	rec := testutil.Do(router, testutil.AsRequester(req, "Doc1", "doctor"))
	testutil.AssertError(t, rec, http.StatusBadRequest, "invalid_input")
}
