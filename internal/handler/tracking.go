// Package handler contains HTTP handlers for the leadmeter service.
//
// This file implements the public engagement callbacks embedded in outbound
// email: the open pixel and the click redirect. They are reached by mail
// clients and recipients, never by API callers, so they never fail loudly.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/identity"
	"github.com/DukeRupert/leadmeter/internal/tracking"
)

// EngagementRecorder folds engagement callbacks into tracked emails.
type EngagementRecorder interface {
	RecordOpen(ctx context.Context, ev domain.EngagementEvent)
	RecordClick(ctx context.Context, ev domain.EngagementEvent) string
}

// =============================================================================
// Handler Configuration
// =============================================================================

// TrackingHandler serves /open and /click.
type TrackingHandler struct {
	recorder EngagementRecorder
	pixel    []byte
	logger   *slog.Logger
}

// NewTrackingHandler creates a new TrackingHandler. pixel is the image body
// served by /open.
func NewTrackingHandler(recorder EngagementRecorder, pixel []byte, logger *slog.Logger) *TrackingHandler {
	return &TrackingHandler{
		recorder: recorder,
		pixel:    pixel,
		logger:   logger,
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers the tracking routes with the provided mux.
//
// limit wraps both routes; it is expected to hand over-limit requests to
// Degraded rather than reject them.
//
// Routes:
// - GET /open?tid=  -> Open (pixel)
// - GET /click?tid=&u= -> Click (302 to u)
func (h *TrackingHandler) RegisterRoutes(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	mux.Handle("GET /open", limit(http.HandlerFunc(h.Open)))
	mux.Handle("GET /click", limit(http.HandlerFunc(h.Click)))
}

// =============================================================================
// GET /open - Open Pixel
// =============================================================================

// Open records an open and serves the pixel. It always responds 200 with
// the image, whatever the tracking id.
func (h *TrackingHandler) Open(w http.ResponseWriter, r *http.Request) {
	h.recorder.RecordOpen(r.Context(), h.event(r, domain.EngagementOpen))
	h.servePixel(w)
}

// =============================================================================
// GET /click - Click Redirect
// =============================================================================

// Click records a click and redirects to the original link. Missing or
// unknown tracking ids still redirect; only a target that is not an
// absolute http(s) URL is refused.
func (h *TrackingHandler) Click(w http.ResponseWriter, r *http.Request) {
	target := h.recorder.RecordClick(r.Context(), h.event(r, domain.EngagementClick))
	if target == "" {
		h.logger.Info("refused click redirect", "reason", "invalid target")
		http.Error(w, "invalid link", http.StatusBadRequest)
		return
	}
	h.redirect(w, r, target)
}

// =============================================================================
// Degraded Responses
// =============================================================================

// Degraded answers a tracking request without recording it. The rate limiter
// serves throttled clients through it.
func (h *TrackingHandler) Degraded(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/click":
		target := r.URL.Query().Get("u")
		if !tracking.IsRedirectTarget(target) {
			http.Error(w, "invalid link", http.StatusBadRequest)
			return
		}
		h.redirect(w, r, target)
	default:
		h.servePixel(w)
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

func (h *TrackingHandler) event(r *http.Request, kind domain.EngagementKind) domain.EngagementEvent {
	q := r.URL.Query()
	return domain.EngagementEvent{
		TrackingID:    q.Get("tid"),
		Kind:          kind,
		TargetURL:     q.Get("u"),
		SourceAddress: identity.ClientIP(r),
		UserAgent:     r.UserAgent(),
	}
}

func (h *TrackingHandler) servePixel(w http.ResponseWriter) {
	// Every fetch must reach the server to count as an open
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Content-Type", tracking.PixelContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(h.pixel)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.pixel)
}

func (h *TrackingHandler) redirect(w http.ResponseWriter, r *http.Request, target string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}
