package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/leadmeter/internal/auth"
	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/service"
)

// =============================================================================
// Handler Configuration
// =============================================================================

// EmailHandler handles tracked email requests from the CRM.
type EmailHandler struct {
	emailService service.EmailTrackingService
	logger       *slog.Logger
}

// NewEmailHandler creates a new EmailHandler.
func NewEmailHandler(emailService service.EmailTrackingService, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{
		emailService: emailService,
		logger:       logger,
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers all tracked email routes with the provided mux.
//
// All routes require a resolved caller. meterSend wraps the instrument route
// so that preparing an email counts against the caller's email_send quota.
//
// Routes:
// - POST /api/emails/instrument -> Instrument
// - GET  /api/emails            -> List
// - GET  /api/emails/stats      -> Stats
// - GET  /api/emails/activity   -> Activity
// - GET  /api/emails/{id}       -> Show
func (h *EmailHandler) RegisterRoutes(mux *http.ServeMux, requireCaller, meterSend func(http.Handler) http.Handler) {
	mux.Handle("POST /api/emails/instrument", requireCaller(meterSend(http.HandlerFunc(h.Instrument))))
	mux.Handle("GET /api/emails", requireCaller(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/emails/stats", requireCaller(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /api/emails/activity", requireCaller(http.HandlerFunc(h.Activity)))
	mux.Handle("GET /api/emails/{id}", requireCaller(http.HandlerFunc(h.Show)))
}

// =============================================================================
// POST /api/emails/instrument - Register and Instrument
// =============================================================================

type instrumentRequest struct {
	LeadID    string `json:"lead_id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Instrument registers an outbound email and returns the body with tracked
// links and the open pixel.
func (h *EmailHandler) Instrument(w http.ResponseWriter, r *http.Request) {
	const op = "emails.instrument"

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req instrumentRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	prepared, err := h.emailService.Prepare(r.Context(), service.PrepareParams{
		UserID:    userID,
		LeadID:    req.LeadID,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, prepared)
}

// =============================================================================
// GET /api/emails - List
// =============================================================================

type emailListResponse struct {
	Emails []*domain.TrackedEmail `json:"emails"`
}

// List returns the caller's tracked emails, newest first.
func (h *EmailHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	emails, err := h.emailService.List(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, emailListResponse{Emails: emails})
}

// =============================================================================
// GET /api/emails/stats - Engagement Stats
// =============================================================================

// Stats returns open and click rates over the caller's tracked emails.
func (h *EmailHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	stats, err := h.emailService.Stats(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// GET /api/emails/activity - Archived Engagement
// =============================================================================

const activityDateLayout = "2006-01-02"

type activityResponse struct {
	Date   string                   `json:"date"`
	Events []domain.EngagementEvent `json:"events"`
}

// Activity returns the caller's archived engagement events for ?date=
// (YYYY-MM-DD, UTC). Defaults to today.
func (h *EmailHandler) Activity(w http.ResponseWriter, r *http.Request) {
	const op = "emails.activity"

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(activityDateLayout, raw)
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "date", "must be formatted YYYY-MM-DD"))
			return
		}
		day = parsed
	}

	events, err := h.emailService.Activity(r.Context(), userID, day)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, activityResponse{
		Date:   day.Format(activityDateLayout),
		Events: events,
	})
}

// =============================================================================
// GET /api/emails/{id} - Show
// =============================================================================

// Show returns one tracked email with its engagement state.
func (h *EmailHandler) Show(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	email, err := h.emailService.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, email)
}

// =============================================================================
// Helper Methods
// =============================================================================

// userID returns the authenticated user. Tracked emails belong to a user, so
// anonymous callers are refused.
func (h *EmailHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := auth.GetCallerFromRequest(r)
	if caller == nil || caller.Anonymous() {
		ErrorResponse(w, r, h.logger, domain.Invalid("emails.caller", "tracked emails require an authenticated user"))
		return "", false
	}
	return caller.UserID, true
}
