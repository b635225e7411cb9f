// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"errors"
	"net/http"

	"github.com/motivorastudios-blip/Motivora-studio/internal/control/http/problem"
	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
)

// Middleware rejects requests without a valid bearer token and stores the
// caller's principal in the request context.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := v.Verify(ExtractToken(r))
			if err != nil {
				detail := "invalid or expired token"
				if errors.Is(err, ErrNoToken) {
					detail = "missing authorization header"
				}
				logger := log.WithComponentFromContext(r.Context(), "auth")
				logger.Debug().
					Err(err).
					Str(log.FieldEvent, "auth.rejected").
					Msg("request rejected")
				w.Header().Set("WWW-Authenticate", `Bearer realm="motivora"`)
				problem.Write(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized", "UNAUTHORIZED", detail, nil)
				return
			}
			ctx := WithPrincipal(r.Context(), p)
			ctx = log.ContextWithOwnerKey(ctx, p.Requester().OwnerKey())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
