package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fiacom/gestionale/internal/auth"
	contohttp "github.com/fiacom/gestionale/internal/conto/http"
	"github.com/fiacom/gestionale/internal/conto/ingest"
	"github.com/fiacom/gestionale/internal/conto/report"
	"github.com/fiacom/gestionale/internal/conto/store"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/observability"
	"github.com/fiacom/gestionale/internal/shared"
)

type emptyDirectory struct{}

func (emptyDirectory) Snapshot(context.Context) (*directory.Snapshot, error) {
	return directory.NewSnapshot(nil, nil, nil), nil
}

func (emptyDirectory) LinkJobCenter(context.Context, uuid.UUID, uuid.UUID, string) error {
	return shared.ErrNotFound
}

func (emptyDirectory) GetUser(context.Context, uuid.UUID) (directory.User, error) {
	return directory.User{}, shared.ErrNotFound
}

func (emptyDirectory) FindUserByUsername(context.Context, string) (directory.User, error) {
	return directory.User{}, shared.ErrNotFound
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test_session", "secret", time.Hour, false)
	repo := store.NewMemory()
	reports := report.NewService(repo, emptyDirectory{}, nil, nil, nil, nil)
	ingestSvc := ingest.NewService(repo, emptyDirectory{}, reports, nil)
	authService := auth.NewService(emptyDirectory{})
	return NewRouter(RouterParams{
		Logger:         slogDiscard(),
		Config:         &Config{AppEnv: "test", AppRequestTimeout: time.Second},
		SessionManager: sessions,
		AuthService:    authService,
		AuthHandler:    auth.NewHandler(nil, authService, sessions),
		ContoHandler:   contohttp.NewHandler(nil, ingestSvc, reports, contohttp.Config{}),
		Metrics:        observability.NewMetrics(),
	})
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterRejectsAnonymousContoCalls(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/conto/servizi/summary", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Empty(t, rr.Result().Cookies())

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"ghost","password":"whatever1"}`))
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
