package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fiacom/gestionale/internal/auth"
	contohttp "github.com/fiacom/gestionale/internal/conto/http"
	"github.com/fiacom/gestionale/internal/observability"
	"github.com/fiacom/gestionale/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	AuthService    *auth.Service
	AuthHandler    *auth.Handler
	ContoHandler   *contohttp.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		var identity func(http.Handler) http.Handler
		if params.AuthService != nil {
			identity = auth.IdentityMiddleware(params.AuthService, params.Logger)
		}
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			Identity:       identity,
			Metrics:        params.Metrics,
		}) {
			r.Use(mw)
		}

		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.ContoHandler != nil {
			params.ContoHandler.MountRoutes(r)
		}
	})

	return r
}
