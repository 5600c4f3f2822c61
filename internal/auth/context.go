// Package auth provides caller context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles. Authentication itself happens
// upstream; this package only carries the resolved caller.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/leadmeter/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// callerContextKey is the key used to store the caller in context.
	callerContextKey contextKey = "caller"
)

// Caller identifies who is performing a request for metering purposes.
type Caller struct {
	// UserID is the authenticated user, empty for anonymous callers.
	UserID string

	// PlanTier is the caller's subscription plan.
	PlanTier domain.PlanTier

	// Identifier keys usage counters: the user id, or an anonymous
	// fingerprint when UserID is empty.
	Identifier string
}

// Anonymous reports whether the caller has no user id.
func (c *Caller) Anonymous() bool {
	return c.UserID == ""
}

// GetCaller retrieves the caller from the context.
//
// Returns nil if no caller was resolved.
//
// Usage:
//
//	caller := auth.GetCaller(r.Context())
//	if caller == nil {
//	    // Handle unidentified request
//	}
func GetCaller(ctx context.Context) *Caller {
	caller, ok := ctx.Value(callerContextKey).(*Caller)
	if !ok {
		return nil
	}
	return caller
}

// GetCallerFromRequest retrieves the caller from the request context.
func GetCallerFromRequest(r *http.Request) *Caller {
	return GetCaller(r.Context())
}

// SetCaller stores a caller in the context.
func SetCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}
