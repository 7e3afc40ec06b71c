// Package http exposes the conto engine over JSON endpoints mounted under
// /conto/{account}.
package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/ingest"
	"github.com/fiacom/gestionale/internal/conto/report"
	"github.com/fiacom/gestionale/internal/platform/httpx"
	"github.com/fiacom/gestionale/internal/shared"
)

const (
	dateLayout           = "2006-01-02"
	defaultMaxUpload     = 20 << 20
	defaultUploadsPerMin = 10
)

// Config tunes the upload endpoints.
type Config struct {
	MaxUploadBytes int64
	UploadsPerMin  int
}

// Handler wires the conto endpoints.
type Handler struct {
	logger    *slog.Logger
	ingest    *ingest.Service
	reports   *report.Service
	validator *validator.Validate
	maxUpload int64
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the conto handler.
func NewHandler(logger *slog.Logger, ingestSvc *ingest.Service, reports *report.Service, cfg Config) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.UploadsPerMin <= 0 {
		cfg.UploadsPerMin = defaultUploadsPerMin
	}
	limiter := httprate.Limit(cfg.UploadsPerMin, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if id, ok := shared.IdentityFromContext(r.Context()); ok {
			return "user:" + id.UserID.String(), nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{
		logger:    logger,
		ingest:    ingestSvc,
		reports:   reports,
		validator: validator.New(),
		maxUpload: cfg.MaxUploadBytes,
		rateLimit: limiter,
	}
}

// MountRoutes registers the conto routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/conto/{account}", func(r chi.Router) {
		r.Use(requireIdentity)
		r.Group(func(r chi.Router) {
			r.Use(requireIngest)
			r.Post("/transactions", h.handleCreateManual)
			r.Group(func(r chi.Router) {
				r.Use(h.rateLimit)
				r.Post("/preview", h.handlePreview)
				r.Post("/upload", h.handleUpload)
			})
		})
		r.Get("/summary", h.handleSummary)
		r.Get("/breakdown", h.handleBreakdown)
		r.Get("/transactions", h.handleListTransactions)
		r.Get("/non-riconciliate", h.handleListUnreconciled)
		r.Get("/imports", h.handleListImports)
	})
}

func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.IdentityFromContext(r.Context()); !ok {
			respondError(w, shared.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireIngest rejects callers that may not write before the body is read.
func requireIngest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := shared.IdentityFromContext(r.Context())
		if !conto.CanIngest(id.Role) {
			respondError(w, conto.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r)
	if err != nil {
		respondError(w, err)
		return
	}
	preview, err := h.ingest.Preview(r.Context(), up)
	if err != nil {
		h.fail(w, r, "conto preview", err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r)
	if err != nil {
		respondError(w, err)
		return
	}
	up.ConfirmDuplicates = parseBool(r.FormValue("confirmDuplicates"))
	result, err := h.ingest.Commit(r.Context(), up)
	if err != nil {
		h.fail(w, r, "conto upload", err)
		return
	}
	status := http.StatusCreated
	if result.RequiresConfirmation {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

type manualRequest struct {
	BaseAmount    decimal.Decimal `json:"baseAmount"`
	ManagerUserID string          `json:"managerUserId" validate:"required,uuid"`
	JobCenterID   string          `json:"jobCenterId" validate:"omitempty,uuid"`
	CompanyID     string          `json:"companyId" validate:"omitempty,uuid"`
	Description   string          `json:"description" validate:"max=500"`
	Date          string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (m manualRequest) toDomain() (ingest.ManualRequest, error) {
	if !m.BaseAmount.IsPositive() {
		return ingest.ManualRequest{}, fmt.Errorf("%w: baseAmount must be positive", conto.ErrInvalidRequest)
	}
	req := ingest.ManualRequest{
		BaseAmount:    m.BaseAmount,
		ManagerUserID: uuid.MustParse(m.ManagerUserID),
		Description:   strings.TrimSpace(m.Description),
	}
	if m.JobCenterID != "" {
		id := uuid.MustParse(m.JobCenterID)
		req.JobCenterID = &id
	}
	if m.CompanyID != "" {
		id := uuid.MustParse(m.CompanyID)
		req.CompanyID = &id
	}
	if m.Date != "" {
		d, err := time.Parse(dateLayout, m.Date)
		if err != nil {
			return ingest.ManualRequest{}, fmt.Errorf("%w: date: %v", conto.ErrInvalidRequest, err)
		}
		req.Date = &d
	}
	return req, nil
}

func (h *Handler) handleCreateManual(w http.ResponseWriter, r *http.Request) {
	account, err := conto.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		respondError(w, err)
		return
	}
	var body manualRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fields[0].Field()+": "+fields[0].Tag())
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := body.toDomain()
	if err != nil {
		respondError(w, err)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	result, err := h.ingest.CreateManual(r.Context(), id, account, req)
	if err != nil {
		h.fail(w, r, "conto manual create", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	payload, err := h.reports.SummaryJSON(r.Context(), id, q)
	if err != nil {
		h.fail(w, r, "conto summary", err)
		return
	}
	httpx.RawJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	payload, err := h.reports.BreakdownJSON(r.Context(), id, q)
	if err != nil {
		h.fail(w, r, "conto breakdown", err)
		return
	}
	httpx.RawJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, perPage := parsePaging(r)
	id, _ := shared.IdentityFromContext(r.Context())
	result, err := h.reports.ListTransactions(r.Context(), id, q, page, perPage)
	if err != nil {
		h.fail(w, r, "conto list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleListUnreconciled(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, perPage := parsePaging(r)
	id, _ := shared.IdentityFromContext(r.Context())
	result, err := h.reports.ListUnreconciled(r.Context(), id, q, page, perPage)
	if err != nil {
		h.fail(w, r, "conto list unreconciled", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleListImports(w http.ResponseWriter, r *http.Request) {
	account, err := conto.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		respondError(w, err)
		return
	}
	page, perPage := parsePaging(r)
	id, _ := shared.IdentityFromContext(r.Context())
	result, err := h.reports.ListImports(r.Context(), id, account, page, perPage)
	if err != nil {
		h.fail(w, r, "conto list imports", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// readUpload parses the multipart body and loads the "file" part in memory.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (ingest.Upload, error) {
	account, err := conto.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		return ingest.Upload{}, err
	}
	if r.ContentLength > h.maxUpload {
		return ingest.Upload{}, httpx.ErrPayloadTooLarge
	}
	id, _ := shared.IdentityFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ingest.Upload{}, err
		}
		return ingest.Upload{}, fmt.Errorf("%w: %v", conto.ErrInvalidRequest, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("%w: missing file part", conto.ErrInvalidRequest)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("%w: %v", conto.ErrUnreadableFile, err)
	}
	return ingest.Upload{
		Account:  account,
		FileName: header.Filename,
		Data:     data,
		Actor:    id,
	}, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status := statusFor(err); status == http.StatusInternalServerError {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	respondError(w, err)
}

func parseQuery(r *http.Request) (report.Query, error) {
	account, err := conto.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		return report.Query{}, err
	}
	values := r.URL.Query()
	q := report.Query{Account: account, Search: strings.TrimSpace(values.Get("q"))}
	if q.From, err = parseDate(values.Get("from")); err != nil {
		return report.Query{}, fmt.Errorf("%w: from: %v", conto.ErrInvalidRequest, err)
	}
	if q.To, err = parseDate(values.Get("to")); err != nil {
		return report.Query{}, fmt.Errorf("%w: to: %v", conto.ErrInvalidRequest, err)
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return report.Query{}, fmt.Errorf("%w: to precedes from", conto.ErrInvalidRequest)
	}
	return q, nil
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parsePaging(r *http.Request) (int, int) {
	values := r.URL.Query()
	page, _ := strconv.Atoi(values.Get("page"))
	perPage, _ := strconv.Atoi(values.Get("perPage"))
	return page, perPage
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
