package chi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	domauction "github.com/kailas-cloud/quotapool/internal/domain/auction"
	auctionuc "github.com/kailas-cloud/quotapool/internal/usecase/auction"
	healthuc "github.com/kailas-cloud/quotapool/internal/usecase/health"
	statusuc "github.com/kailas-cloud/quotapool/internal/usecase/status"
	"github.com/kailas-cloud/quotapool/internal/version"
)

const (
	maxBatchSize = 100
	// maxWalkLimit bounds a multi-page history walk.
	maxWalkLimit = 10000
)

// AuctionService serves auction and clan data.
type AuctionService interface {
	History(ctx context.Context, region, itemID string, p auctionuc.Page) (domauction.HistoryPage, error)
	MultiHistory(ctx context.Context, region string, itemIDs []string, p auctionuc.Page) ([]domauction.Sale, error)
	LongHistory(ctx context.Context, region, itemID string, q auctionuc.LongQuery) ([]domauction.Sale, error)
	Lots(ctx context.Context, region, itemID string, p auctionuc.Page) (domauction.LotsPage, error)
	MultiLots(ctx context.Context, region string, itemIDs []string, p auctionuc.Page) ([]domauction.Lot, error)
	Clan(ctx context.Context, region, clanID string) (domauction.ClanInfo, bool, error)
}

// StatusReporter builds the observability snapshot.
type StatusReporter interface {
	Report(ctx context.Context) (statusuc.Report, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Server is the HTTP API of the pool.
type Server struct {
	auction       AuctionService
	status        StatusReporter
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(auction AuctionService, status StatusReporter, health HealthChecker, logger *zap.Logger) *Server {
	return &Server{
		auction:       auction,
		status:        status,
		health:        health,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Routes mounts the API on r.
func (s *Server) Routes(r gochi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r gochi.Router) {
		r.Get("/status", s.GetStatus)
		r.Route("/{region}", func(r gochi.Router) {
			r.Get("/auction/{item}/history", s.GetHistory)
			r.Post("/auction/history", s.BatchHistory)
			r.Get("/auction/{item}/lots", s.GetLots)
			r.Post("/auction/lots", s.BatchLots)
			r.Get("/clan/{clan}", s.GetClan)
		})
	})
}

// GetHistory handles GET /v1/{region}/auction/{item}/history.
// A limit above one page or exact=true walks several pages.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	region, item := gochi.URLParam(r, "region"), gochi.URLParam(r, "item")

	p, err := pageFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
		return
	}
	if !checkLimit(w, p.Limit, maxWalkLimit) {
		return
	}
	exact, err := queryBool(r, "exact", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
		return
	}

	if exact || p.Limit > auctionuc.PageSize {
		sales, err := s.auction.LongHistory(r.Context(), region, item, auctionuc.LongQuery{
			Limit:      p.Limit,
			Offset:     p.Offset,
			Additional: p.Additional,
			Exact:      exact,
		})
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, salesToResponse(len(sales), sales))
		return
	}

	page, err := s.auction.History(r.Context(), region, item, p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, salesToResponse(page.Total, page.Sales))
}

// BatchHistory handles POST /v1/{region}/auction/history.
func (s *Server) BatchHistory(w http.ResponseWriter, r *http.Request) {
	items, p, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	sales, err := s.auction.MultiHistory(r.Context(), gochi.URLParam(r, "region"), items, p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, salesToResponse(len(sales), sales))
}

// GetLots handles GET /v1/{region}/auction/{item}/lots.
func (s *Server) GetLots(w http.ResponseWriter, r *http.Request) {
	p, err := pageFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
		return
	}
	if !checkLimit(w, p.Limit, auctionuc.PageSize) {
		return
	}

	page, err := s.auction.Lots(r.Context(), gochi.URLParam(r, "region"), gochi.URLParam(r, "item"), p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lotsToResponse(page.Total, page.Lots))
}

// BatchLots handles POST /v1/{region}/auction/lots.
func (s *Server) BatchLots(w http.ResponseWriter, r *http.Request) {
	items, p, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	lots, err := s.auction.MultiLots(r.Context(), gochi.URLParam(r, "region"), items, p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lotsToResponse(len(lots), lots))
}

// GetClan handles GET /v1/{region}/clan/{clan}.
func (s *Server) GetClan(w http.ResponseWriter, r *http.Request) {
	info, ok, err := s.auction.Clan(r.Context(), gochi.URLParam(r, "region"), gochi.URLParam(r, "clan"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, ErrorResponseCodeNotFound, "clan not found")
		return
	}
	writeJSON(w, http.StatusOK, clanToResponse(info))
}

// GetStatus handles GET /v1/status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.status.Report(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusToResponse(version.String(), report))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func decodeBatch(w http.ResponseWriter, r *http.Request) ([]string, auctionuc.Page, bool) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return nil, auctionuc.Page{}, false
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, "items must not be empty")
		return nil, auctionuc.Page{}, false
	}
	if len(req.Items) > maxBatchSize {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed,
			fmt.Sprintf("at most %d items per request", maxBatchSize))
		return nil, auctionuc.Page{}, false
	}

	p := auctionuc.Page{Limit: auctionuc.PageSize, Additional: true}
	if req.Limit != nil {
		p.Limit = *req.Limit
	}
	if req.Offset != nil {
		p.Offset = *req.Offset
	}
	if req.Additional != nil {
		p.Additional = *req.Additional
	}
	if !checkLimit(w, p.Limit, auctionuc.PageSize) {
		return nil, auctionuc.Page{}, false
	}
	return req.Items, p, true
}

// checkLimit writes a validation error unless 1 <= limit <= maxLimit.
func checkLimit(w http.ResponseWriter, limit, maxLimit int) bool {
	if limit >= 1 && limit <= maxLimit {
		return true
	}
	writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed,
		fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	return false
}

func pageFromQuery(r *http.Request) (auctionuc.Page, error) {
	limit, err := queryInt(r, "limit", auctionuc.PageSize)
	if err != nil {
		return auctionuc.Page{}, err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return auctionuc.Page{}, err
	}
	additional, err := queryBool(r, "additional", true)
	if err != nil {
		return auctionuc.Page{}, err
	}
	return auctionuc.Page{Limit: limit, Offset: offset, Additional: additional}, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func queryBool(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", name, v)
	}
	return b, nil
}
