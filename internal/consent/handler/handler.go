package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	consentModel "phiguard/internal/consent/models"
	dErrors "phiguard/pkg/domain-errors"
	"phiguard/pkg/platform/httputil"
	"phiguard/pkg/requestcontext"
)

// Service defines the consent operations the handler exposes.
type Service interface {
	CreateConsent(ctx context.Context, input consentModel.CreateInput) (consentModel.ConsentID, error)
	ActivateConsent(ctx context.Context, id consentModel.ConsentID, actorID string) error
	RevokeConsent(ctx context.Context, id consentModel.ConsentID, actorID string) error
	Get(ctx context.Context, id consentModel.ConsentID) (*consentModel.ConsentRecord, error)
}

// Handler handles consent endpoints. Only the subject may create, activate
// or revoke their consents; the subject and the grantee may read one.
type Handler struct {
	logger  *slog.Logger
	consent Service
}

// New creates a new consent Handler.
func New(consent Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, consent: consent}
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/consents", h.handleCreate)
	r.Get("/consents/{id}", h.handleGet)
	r.Post("/consents/{id}/activate", h.handleActivate)
	r.Post("/consents/{id}/revoke", h.handleRevoke)
}

// CreateRequest is the body of POST /consents. The subject is the caller.
type CreateRequest struct {
	Grantee         string   `json:"grantee"`
	DataCategories  []string `json:"data_categories"`
	TimeLimitDays   *int     `json:"time_limit_days,omitempty"`
	GeographicScope []string `json:"geographic_scope,omitempty"`
	Purposes        []string `json:"purposes,omitempty"`
	Pending         bool     `json:"pending,omitempty"`
}

// ConsentResponse is the JSON view of a consent.
type ConsentResponse struct {
	ID              string     `json:"id"`
	SubjectID       string     `json:"subject_id"`
	Grantee         string     `json:"grantee"`
	DataCategories  []string   `json:"data_categories"`
	TimeLimitDays   *int       `json:"time_limit_days,omitempty"`
	GeographicScope []string   `json:"geographic_scope,omitempty"`
	Purposes        []string   `json:"purposes,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	GrantedAt       *time.Time `json:"granted_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

func toResponse(c *consentModel.ConsentRecord) ConsentResponse {
	return ConsentResponse{
		ID:              c.ID.String(),
		SubjectID:       c.SubjectID,
		Grantee:         c.Grantee,
		DataCategories:  c.DataCategories,
		TimeLimitDays:   c.Scope.TimeLimitDays,
		GeographicScope: c.Scope.GeographicScope,
		Purposes:        c.Scope.Purposes,
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt,
		GrantedAt:       c.GrantedAt,
		RevokedAt:       c.RevokedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requesterID, ok := h.requester(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	id, err := h.consent.CreateConsent(ctx, consentModel.CreateInput{
		SubjectID:      requesterID,
		Grantee:        req.Grantee,
		DataCategories: req.DataCategories,
		Scope: consentModel.Scope{
			TimeLimitDays:   req.TimeLimitDays,
			GeographicScope: req.GeographicScope,
			Purposes:        req.Purposes,
		},
		Pending: req.Pending,
		ActorID: requesterID,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "create consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := h.requester(w, r)
	if !ok {
		return
	}
	record, err := h.consent.Get(r.Context(), consentModel.ConsentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(r.Context(), w, "get consent", err)
		return
	}
	if record.SubjectID != requesterID && record.Grantee != requesterID {
		// Indistinguishable from a missing consent.
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "consent not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(record))
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "activate consent", h.consent.ActivateConsent)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "revoke consent", h.consent.RevokeConsent)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, consentModel.ConsentID, string) error) {
	ctx := r.Context()
	requesterID, ok := h.requester(w, r)
	if !ok {
		return
	}
	id := consentModel.ConsentID(chi.URLParam(r, "id"))
	record, err := h.consent.Get(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, op, err)
		return
	}
	if record.SubjectID != requesterID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only the subject may change a consent"))
		return
	}
	if err := fn(ctx, id, requesterID); err != nil {
		h.writeServiceError(ctx, w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requester(w http.ResponseWriter, r *http.Request) (string, bool) {
	requesterID := requestcontext.RequesterID(r.Context())
	if requesterID == "" {
		// RequireRequester middleware should have rejected the request.
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return requesterID, true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	code := dErrors.CodeOf(err)
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "consent request failed",
			"op", op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, "consent request rejected",
			"op", op,
			"request_id", requestcontext.RequestID(ctx),
			"code", code,
		)
	}
	httputil.WriteError(w, err)
}
