// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth verifies the bearer tokens the web tier attaches to every
// API request and turns them into job requesters.
package auth

import (
	"context"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// Principal is the authenticated caller behind a request. UserID is empty
// for anonymous browser sessions.
type Principal struct {
	UserID    string
	SessionID string
}

// Requester converts p into the identity job ownership is checked against.
// A nil principal is the anonymous caller without a session.
func (p *Principal) Requester() model.Requester {
	if p == nil {
		return model.Requester{}
	}
	return model.Requester{UserID: p.UserID, SessionID: p.SessionID}
}

type contextKey struct{}

// WithPrincipal adds the principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext retrieves the principal from the context.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(contextKey{}).(*Principal); ok {
		return p
	}
	return nil
}

// RequesterFromContext is PrincipalFromContext(ctx).Requester().
func RequesterFromContext(ctx context.Context) model.Requester {
	return PrincipalFromContext(ctx).Requester()
}
