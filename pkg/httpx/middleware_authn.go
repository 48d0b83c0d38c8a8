package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

// ErrUnauthenticated marks a token that was checked and rejected. Authenticators
// return it, or an error matching it via errors.Is, for every credential
// failure. Any other error is treated as an outage.
var ErrUnauthenticated = errors.New("httpx: unauthenticated")

// Authenticator turns a raw bearer token into a Principal. Implementations
// verify the token as an access token and check revocation.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// AuthnMiddleware rejects requests without a valid access token with a 401.
// A failure that is not ErrUnauthenticated, such as an unreachable
// revocation store, is a 500.
func AuthnMiddleware(a Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := bearerToken(r)
			if !ok {
				writeBearerError(w, "Authentication required")
				return
			}

			p, err := a.Authenticate(ctx, raw)
			switch {
			case errors.Is(err, ErrUnauthenticated):
				log.Warn("bearer authentication failed", slog.Any("error", err))
				writeBearerError(w, "Invalid or expired token")
				return
			case err != nil:
				log.Error("bearer authentication unavailable", slog.Any("error", err))
				WriteError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			// Inject into context for downstream handlers.
			ctx = WithPrincipal(ctx, p, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthn attaches a Principal when a valid token is presented and
// otherwise lets the request through unauthenticated.
func OptionalAuthn(a Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			p, err := a.Authenticate(r.Context(), raw)
			if err != nil {
				slogx.FromContext(r.Context()).Debug("optional authentication ignored", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p, raw)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	return raw, raw != ""
}

// RFC 6750 challenge header with the service's JSON error body.
func writeBearerError(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	WriteError(w, http.StatusUnauthorized, msg)
}
