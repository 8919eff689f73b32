package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"phiguard/internal/access"
	dErrors "phiguard/pkg/domain-errors"
	"phiguard/pkg/platform/httputil"
	"phiguard/pkg/requestcontext"
)

// Checker defines the access check the handler exposes.
type Checker interface {
	Check(ctx context.Context, req access.Request) access.Decision
}

// Handler wires the access check endpoint.
type Handler struct {
	checker Checker
	logger  *slog.Logger
}

func New(checker Checker, logger *slog.Logger) *Handler {
	return &Handler{checker: checker, logger: logger}
}

// Register mounts access endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/access/check", h.HandleCheck)
}

// CheckRequest is the body of POST /access/check. The requester comes from
// the bearer token, never from the body.
type CheckRequest struct {
	SubjectID       string   `json:"subject_id"`
	DataCategories  []string `json:"data_categories"`
	Purpose         string   `json:"purpose"`
	Action          string   `json:"action"`
	ResourceType    string   `json:"resource_type,omitempty"`
	Region          string   `json:"region,omitempty"`
	EmergencyReason string   `json:"emergency_reason,omitempty"`
}

// HandleCheck handles POST /access/check. Only the outcome projection is
// returned; consent ids and audit ids stay inside.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requesterID := requestcontext.RequesterID(ctx)
	if requesterID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	var body CheckRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}

	decision := h.checker.Check(ctx, access.Request{
		RequesterID:     requesterID,
		RequesterRole:   requestcontext.RequesterRole(ctx),
		SubjectID:       body.SubjectID,
		DataCategories:  body.DataCategories,
		Purpose:         body.Purpose,
		Action:          body.Action,
		ResourceType:    body.ResourceType,
		Region:          body.Region,
		EmergencyReason: body.EmergencyReason,
	})
	outcome := decision.Outcome()

	h.logger.InfoContext(ctx, "access checked",
		"request_id", requestcontext.RequestID(ctx),
		"allowed", outcome.Allowed,
		"reason", outcome.ReasonCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, outcome)
}
