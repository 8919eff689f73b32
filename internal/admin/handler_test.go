package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phiguard/internal/audit"
	auditmemory "phiguard/internal/audit/store/memory"
	"phiguard/internal/keys"
	"phiguard/pkg/requestcontext"
)

type stubRotator struct {
	id  keys.KeyID
	err error
}

func (s stubRotator) GenerateKey(context.Context) (keys.KeyID, error) {
	return s.id, s.err
}

func setup(t *testing.T, rotator KeyRotator, clock func() time.Time) (*audit.Log, *auditmemory.InMemoryStore, chi.Router) {
	t.Helper()
	store := auditmemory.NewInMemoryStore()
	log := audit.New(store, audit.WithClock(clock))
	h := New(log, rotator, 30*24*time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.RegisterAuditRead(r)
	h.RegisterMaintenance(r)
	return log, store, r
}

func appendEntries(t *testing.T, log *audit.Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := log.Append(context.Background(), audit.Entry{
			ActorID:      "Doc1",
			Action:       audit.ActionAccessDecision,
			ResourceType: "health_record",
			ResourceID:   "P1",
			Result:       audit.ResultAllowed,
		})
		require.NoError(t, err)
	}
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(requestcontext.WithRequester(req.Context(), "Aud1", "auditor"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestEntriesPaging(t *testing.T) {
	log, _, r := setup(t, stubRotator{}, time.Now)
	appendEntries(t, log, 3)

	rec := serve(r, http.MethodGet, "/admin/audit/entries?page_size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page EntriesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2", page.Next)
	assert.Equal(t, audit.GenesisHash, page.Entries[0].PriorEntryHash)

	rec = serve(r, http.MethodGet, "/admin/audit/entries?page_size=2&after="+page.Next, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page = EntriesResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Entries, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, uint64(3), page.Entries[0].ID)
}

func TestEntriesRejectsBadFilter(t *testing.T) {
	_, _, r := setup(t, stubRotator{}, time.Now)

	for _, q := range []string{"from=yesterday", "after=x", "page_size=0"} {
		rec := serve(r, http.MethodGet, "/admin/audit/entries?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestVerifyReportsTampering(t *testing.T) {
	log, store, r := setup(t, stubRotator{}, time.Now)
	appendEntries(t, log, 3)

	rec := serve(r, http.MethodGet, "/admin/audit/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report VerifyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Checked)

	require.True(t, store.Tamper(2, func(e *audit.Entry) { e.Result = audit.ResultDenied }))

	rec = serve(r, http.MethodGet, "/admin/audit/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report = VerifyResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.False(t, report.Valid)
	assert.Equal(t, uint64(3), report.BrokenAt)
}

func TestPrune(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	log, _, r := setup(t, stubRotator{}, clock)
	appendEntries(t, log, 2)

	now = now.Add(10 * 24 * time.Hour)
	rec := serve(r, http.MethodPost, "/admin/audit/prune", `{"retention_days":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out PruneResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, 2, out.Pruned)

	report, err := log.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)

	rec = serve(r, http.MethodPost, "/admin/audit/prune", `{"retention_days":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRotate(t *testing.T) {
	_, _, r := setup(t, stubRotator{id: "k-2"}, time.Now)
	rec := serve(r, http.MethodPost, "/admin/keys/rotate", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var out RotateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "k-2", out.KeyID)

	_, _, r = setup(t, stubRotator{err: errors.New("store down")}, time.Now)
	rec = serve(r, http.MethodPost, "/admin/keys/rotate", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
