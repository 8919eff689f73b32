// Package admin exposes audit log and key maintenance over HTTP. Routes are
// mounted behind role checks; the handler itself only validates input.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hengadev/errsx"

	"phiguard/internal/audit"
	"phiguard/internal/keys"
	dErrors "phiguard/pkg/domain-errors"
	"phiguard/pkg/platform/httputil"
	"phiguard/pkg/requestcontext"
)

// AuditLog is the subset of *audit.Log the handler needs.
type AuditLog interface {
	Page(ctx context.Context, filter audit.Filter) (audit.Page, error)
	Verify(ctx context.Context) (audit.VerifyReport, error)
	Prune(ctx context.Context, actorID string, retention time.Duration) (int, error)
}

// KeyRotator generates a new active key.
type KeyRotator interface {
	GenerateKey(ctx context.Context) (keys.KeyID, error)
}

// Handler serves the admin endpoints.
type Handler struct {
	log       AuditLog
	keys      KeyRotator
	retention time.Duration
	logger    *slog.Logger
}

// New creates a Handler. retention is the prune default when a request does
// not name one.
func New(log AuditLog, rotator KeyRotator, retention time.Duration, logger *slog.Logger) *Handler {
	return &Handler{log: log, keys: rotator, retention: retention, logger: logger}
}

// RegisterAuditRead registers the read-only audit routes.
func (h *Handler) RegisterAuditRead(r chi.Router) {
	r.Get("/admin/audit/entries", h.handleEntries)
	r.Get("/admin/audit/verify", h.handleVerify)
}

// RegisterMaintenance registers routes that change state.
func (h *Handler) RegisterMaintenance(r chi.Router) {
	r.Post("/admin/audit/prune", h.handlePrune)
	r.Post("/admin/keys/rotate", h.handleRotate)
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.log.Page(r.Context(), filter)
	if err != nil {
		h.fail(r.Context(), w, "list audit entries", err)
		return
	}
	resp := EntriesResponse{
		Entries: make([]EntryResponse, 0, len(page.Entries)),
		Next:    page.Next.String(),
		HasMore: page.HasMore,
	}
	for _, e := range page.Entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := h.log.Verify(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "verify audit chain", err)
		return
	}
	if !report.Valid {
		h.logger.ErrorContext(r.Context(), "CRITICAL: audit chain broken",
			"broken_at", uint64(report.BrokenAt),
			"problem", report.Problem,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{
		Valid:    report.Valid,
		Checked:  report.Checked,
		BrokenAt: uint64(report.BrokenAt),
		Problem:  report.Problem,
	})
}

// PruneRequest optionally overrides the retention period.
type PruneRequest struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

func (h *Handler) handlePrune(w http.ResponseWriter, r *http.Request) {
	var req PruneRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	retention := h.retention
	if req.RetentionDays < 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "retention_days must be positive"))
		return
	}
	if req.RetentionDays > 0 {
		retention = time.Duration(req.RetentionDays) * 24 * time.Hour
	}

	n, err := h.log.Prune(r.Context(), requestcontext.RequesterID(r.Context()), retention)
	if err != nil {
		h.fail(r.Context(), w, "prune audit log", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PruneResponse{Pruned: n})
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	id, err := h.keys.GenerateKey(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "rotate key", err)
		return
	}
	h.logger.InfoContext(r.Context(), "key rotated on request",
		"key_id", id.String(),
		"requester_id", requestcontext.RequesterID(r.Context()),
	)
	httputil.WriteJSON(w, http.StatusCreated, RotateResponse{KeyID: id.String()})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.ErrorContext(ctx, "admin request failed",
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var errs errsx.Map

	filter := audit.Filter{
		ActorID:      q.Get("actor_id"),
		Action:       audit.Action(q.Get("action")),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Result:       audit.Result(q.Get("result")),
		Severity:     audit.Severity(q.Get("severity")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs.Set("from", "must be RFC3339")
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs.Set("to", "must be RFC3339")
		}
		filter.To = t
	}
	after, err := audit.ParseCursor(q.Get("after"))
	if err != nil {
		errs.Set("after", "invalid cursor")
	}
	filter.After = after
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs.Set("page_size", "must be a positive integer")
		}
		filter.PageSize = n
	}

	if !errs.IsEmpty() {
		return audit.Filter{}, dErrors.Wrap(errs.AsError(), dErrors.CodeInvalidInput, "invalid audit filter")
	}
	return filter, nil
}
