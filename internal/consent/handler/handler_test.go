package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"phiguard/internal/audit"
	auditmemory "phiguard/internal/audit/store/memory"
	consentModel "phiguard/internal/consent/models"
	"phiguard/internal/consent/service"
	"phiguard/internal/consent/store/memory"
	"phiguard/pkg/requestcontext"
)

type HandlerSuite struct {
	suite.Suite
	auditStore *auditmemory.InMemoryStore
	service    *service.Service
	router     chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.auditStore = auditmemory.NewInMemoryStore()
	s.service = service.New(memory.NewInMemoryStore(), audit.New(s.auditStore))
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *HandlerSuite) do(method, path, requester, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if requester != "" {
		req = req.WithContext(requestcontext.WithRequester(req.Context(), requester, "patient"))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) create(subject string) string {
	rec := s.do(http.MethodPost, "/consents", subject,
		`{"grantee":"Doc1","data_categories":["lab_results"],"purposes":["treatment"],"time_limit_days":30}`)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var out map[string]string
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&out))
	s.Require().NotEmpty(out["id"])
	return out["id"]
}

func (s *HandlerSuite) TestCreateUsesCallerAsSubject() {
	id := s.create("P1")

	record, err := s.service.Get(context.Background(), consentModel.ConsentID(id))
	s.Require().NoError(err)
	s.Equal("P1", record.SubjectID)
	s.Equal("Doc1", record.Grantee)
	s.Equal(consentModel.StatusActive, record.Status)

	head, ok, err := s.auditStore.Head(context.Background())
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(audit.ActionConsentGranted, head.Action)
	s.Equal("P1", head.ActorID)
}

func (s *HandlerSuite) TestCreateValidation() {
	rec := s.do(http.MethodPost, "/consents", "P1", `{"grantee":"","data_categories":[]}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	var out map[string]string
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&out))
	s.Equal("invalid_consent", out["error"])
}

func (s *HandlerSuite) TestCreateRejectsUnknownFields() {
	rec := s.do(http.MethodPost, "/consents", "P1",
		`{"subject_id":"P2","grantee":"Doc1","data_categories":["lab_results"]}`)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestRequiresRequester() {
	rec := s.do(http.MethodPost, "/consents", "", `{}`)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestGetVisibleToSubjectAndGrantee() {
	id := s.create("P1")

	for _, requester := range []string{"P1", "Doc1"} {
		rec := s.do(http.MethodGet, "/consents/"+id, requester, "")
		s.Require().Equal(http.StatusOK, rec.Code, requester)
		var out ConsentResponse
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&out))
		s.Equal(id, out.ID)
		s.Equal("active", out.Status)
		s.Equal([]string{"treatment"}, out.Purposes)
	}

	rec := s.do(http.MethodGet, "/consents/"+id, "Stranger", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestRevoke() {
	id := s.create("P1")

	rec := s.do(http.MethodPost, "/consents/"+id+"/revoke", "Doc1", "")
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/consents/"+id+"/revoke", "P1", "")
	s.Equal(http.StatusNoContent, rec.Code)

	// Revocation is idempotent.
	rec = s.do(http.MethodPost, "/consents/"+id+"/revoke", "P1", "")
	s.Equal(http.StatusNoContent, rec.Code)

	record, err := s.service.Get(context.Background(), consentModel.ConsentID(id))
	s.Require().NoError(err)
	s.Equal(consentModel.StatusRevoked, record.Status)
	s.Equal("P1", record.RevokedBy)
}

func (s *HandlerSuite) TestActivatePending() {
	rec := s.do(http.MethodPost, "/consents", "P1",
		`{"grantee":"Doc1","data_categories":["lab_results"],"pending":true}`)
	s.Require().Equal(http.StatusCreated, rec.Code)
	var out map[string]string
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&out))

	rec = s.do(http.MethodPost, "/consents/"+out["id"]+"/activate", "P1", "")
	s.Equal(http.StatusNoContent, rec.Code)

	record, err := s.service.Get(context.Background(), consentModel.ConsentID(out["id"]))
	s.Require().NoError(err)
	s.Equal(consentModel.StatusActive, record.Status)
	s.NotNil(record.GrantedAt)
}

func (s *HandlerSuite) TestActivateRevokedConflicts() {
	id := s.create("P1")
	s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/consents/"+id+"/revoke", "P1", "").Code)

	rec := s.do(http.MethodPost, "/consents/"+id+"/activate", "P1", "")
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestUnknownConsent() {
	rec := s.do(http.MethodPost, "/consents/missing/revoke", "P1", "")
	s.Equal(http.StatusNotFound, rec.Code)
}
