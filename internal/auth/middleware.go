package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/fiacom/gestionale/internal/platform/httpx"
	"github.com/fiacom/gestionale/internal/shared"
)

// IdentityMiddleware resolves the session user into a shared.Identity.
// Anonymous or stale sessions pass through without one; handlers that need
// a caller reject them.
func IdentityMiddleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.User() == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, err := service.Identify(r.Context(), sess.User())
			switch {
			case errors.Is(err, shared.ErrUnauthenticated):
				next.ServeHTTP(w, r)
				return
			case err != nil:
				logger.Error("resolve identity", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			ctx := shared.ContextWithIdentity(r.Context(), shared.Identity{UserID: user.ID, Role: user.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
