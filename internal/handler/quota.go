package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/leadmeter/internal/auth"
	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/service"
)

// QuotaHandler exposes plan enforcement to the CRM: admission checks before
// a metered action, usage recording after it, and the usage summary.
type QuotaHandler struct {
	quotaService service.QuotaService
	logger       *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quotaService service.QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		quotaService: quotaService,
		logger:       logger,
	}
}

// RegisterRoutes registers all quota routes with the provided mux.
//
// All routes require a resolved caller.
//
// Routes:
// - POST /api/quota/check  -> Check
// - POST /api/quota/record -> Record
// - GET  /api/quota/usage  -> Usage
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux, requireCaller func(http.Handler) http.Handler) {
	mux.Handle("POST /api/quota/check", requireCaller(http.HandlerFunc(h.Check)))
	mux.Handle("POST /api/quota/record", requireCaller(http.HandlerFunc(h.Record)))
	mux.Handle("GET /api/quota/usage", requireCaller(http.HandlerFunc(h.Usage)))
}

type checkRequest struct {
	Action string `json:"action"`
}

type recordRequest struct {
	Action string `json:"action"`
	Amount *int64 `json:"amount,omitempty"`
}

// Check reports whether the caller may perform an action now. A denial is a
// successful answer and returns 200; an unreachable store returns 503 with
// the fail-closed decision in the error message.
func (h *QuotaHandler) Check(w http.ResponseWriter, r *http.Request) {
	const op = "quota.check"

	caller := auth.GetCallerFromRequest(r)

	var req checkRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	action, err := domain.ParseActionType(req.Action)
	if err != nil {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "action", err.Error()))
		return
	}

	decision, err := h.quotaService.CanPerform(r.Context(), caller.Identifier, caller.PlanTier, action)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// Record charges usage after the CRM completed a metered action. Amount
// defaults to 1.
func (h *QuotaHandler) Record(w http.ResponseWriter, r *http.Request) {
	const op = "quota.record"

	caller := auth.GetCallerFromRequest(r)

	var req recordRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	action, err := domain.ParseActionType(req.Action)
	if err != nil {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "action", err.Error()))
		return
	}

	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "amount", "amount must be positive"))
		return
	}

	if err := h.quotaService.RecordUsage(r.Context(), caller.Identifier, caller.PlanTier, action, amount); err != nil {
		if domain.IsTransient(err) {
			w.Header().Set("Retry-After", "1")
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Usage returns the caller's usage for every metered action of their plan.
func (h *QuotaHandler) Usage(w http.ResponseWriter, r *http.Request) {
	caller := auth.GetCallerFromRequest(r)

	usage, err := h.quotaService.GetUsage(r.Context(), caller.Identifier, caller.PlanTier)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, usage)
}
