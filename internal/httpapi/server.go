package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketpulse/internal/domain"
	"marketpulse/internal/fetch"
	"marketpulse/internal/gather"
	"marketpulse/internal/metrics"
	"marketpulse/internal/snapshot"
	"marketpulse/internal/store"
	"marketpulse/internal/util"
)

const (
	defaultHistoryDays = 365
	maxHistoryDays     = 3650
	defaultRunsLimit   = 20
	maxRequestBody     = 1 << 20
)

// Updater is the part of gather.Updater the API drives.
type Updater interface {
	StartCycle(ctx context.Context, trigger domain.RunTrigger) bool
	Running() bool
	LastRun() domain.Run
}

// Config wires a Server. Runs and Providers are optional.
type Config struct {
	Universe  []domain.Asset
	Bars      store.BarStore
	Snapshots store.SnapshotStore
	Runs      store.RunStore
	Updater   Updater
	Providers map[domain.ProviderClass]gather.Provider
	Fetcher   *fetch.Fetcher
	Analyzer  *metrics.Analyzer
	Calendar  *util.Calendar
	// BaseContext bounds update cycles started over HTTP. It should live as
	// long as the process, not the request.
	BaseContext context.Context
	Log         *slog.Logger
}

// Server serves the marketpulse HTTP API.
type Server struct {
	cfg     Config
	symbols map[string]domain.Asset // lower-cased symbol -> asset
	log     *slog.Logger
}

// NewServer creates a Server from cfg.
func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Calendar == nil {
		cfg.Calendar = util.NewCalendar()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	s := &Server{
		cfg:     cfg,
		symbols: make(map[string]domain.Asset, len(cfg.Universe)),
		log:     cfg.Log.With("component", "httpapi"),
	}
	for _, a := range cfg.Universe {
		s.symbols[strings.ToLower(a.Symbol)] = a
	}
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/market-data", s.handleSnapshots)
	mux.HandleFunc("GET /api/market-data/{class}", s.handleSnapshotsByClass)
	mux.HandleFunc("GET /api/stocks", s.classHandler(domain.AssetClassStock))
	mux.HandleFunc("GET /api/etfs", s.classHandler(domain.AssetClassETF))
	mux.HandleFunc("GET /api/crypto", s.classHandler(domain.AssetClassCrypto))
	mux.HandleFunc("GET /api/series/{symbol}", s.handleSeries)
	mux.HandleFunc("GET /api/quote/{symbol}", s.handleQuote)
	mux.HandleFunc("GET /api/history/{symbol}", s.handleHistory)
	mux.HandleFunc("POST /api/update", s.handleTriggerUpdate)
	mux.HandleFunc("GET /api/update/status", s.handleUpdateStatus)
	mux.HandleFunc("GET /api/update/runs", s.handleRuns)
	mux.HandleFunc("GET /api/update/runs/{id}", s.handleRunDetail)
	mux.HandleFunc("GET /api/metrics/{symbol}", s.handleAssetMetrics)
	mux.HandleFunc("POST /api/metrics/portfolio", s.handlePortfolioMetrics)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns an http.Handler with logging and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).Round(time.Microsecond),
		)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeProviderError maps a provider or store failure to a status code.
func writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrPersistence):
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTransient):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// resolve finds a universe asset ignoring case. Unknown symbols are
// returned as given with no class.
func (s *Server) resolve(id string) (domain.Asset, bool) {
	id = strings.TrimSpace(id)
	if a, ok := s.symbols[strings.ToLower(id)]; ok {
		return a, true
	}
	return domain.Asset{Symbol: id}, false
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.cfg.Snapshots.LoadSnapshots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, snaps)
}

func (s *Server) handleSnapshotsByClass(w http.ResponseWriter, r *http.Request) {
	class, ok := domain.ParseAssetClass(r.PathValue("class"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown asset class %q", r.PathValue("class")))
		return
	}
	s.writeClass(w, r, class)
}

func (s *Server) classHandler(class domain.AssetClass) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeClass(w, r, class)
	}
}

func (s *Server) writeClass(w http.ResponseWriter, r *http.Request, class domain.AssetClass) {
	snaps, err := s.cfg.Snapshots.LoadSnapshots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, snapshot.Filter(snaps, class))
}

// ---------------------------------------------------------------------------
// Series, quotes, history
// ---------------------------------------------------------------------------

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	asset, _ := s.resolve(r.PathValue("symbol"))
	series, err := s.cfg.Bars.Load(r.Context(), asset.Symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(series) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no series for %s", asset.Symbol))
		return
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if _, err := time.Parse(domain.DateLayout, from); err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		i := 0
		for i < len(series) && series[i].Date < from {
			i++
		}
		series = series[i:]
	}
	writeJSON(w, SeriesResponse{Symbol: asset.Symbol, Type: asset.Class, Bars: series})
}

// provider returns the provider serving a universe symbol.
func (s *Server) provider(w http.ResponseWriter, id string) (domain.Asset, gather.Provider, bool) {
	asset, ok := s.resolve(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w %q", domain.ErrUnknownSymbol, id).Error())
		return asset, nil, false
	}
	p, ok := s.cfg.Providers[asset.Class.Provider()]
	if !ok || s.cfg.Fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("no provider for %s", asset.Class))
		return asset, nil, false
	}
	return asset, p, true
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	asset, p, ok := s.provider(w, r.PathValue("symbol"))
	if !ok {
		return
	}
	qp, ok := p.(gather.QuoteProvider)
	if !ok {
		writeError(w, http.StatusNotImplemented, fmt.Sprintf("%s serves no quotes", p.Name()))
		return
	}
	q, err := fetch.Fetch(r.Context(), s.cfg.Fetcher, asset.Class.Provider(), "quote "+asset.Symbol, func(ctx context.Context) (domain.Quote, error) {
		return qp.Quote(ctx, asset.Symbol)
	})
	if err != nil {
		s.log.Warn("quote failed", "symbol", asset.Symbol, "error", err)
		writeProviderError(w, err)
		return
	}
	writeJSON(w, q)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryDays {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxHistoryDays))
			return
		}
		days = n
	}
	asset, p, ok := s.provider(w, r.PathValue("symbol"))
	if !ok {
		return
	}

	today := s.cfg.Calendar.Today()
	rng := gather.DateRange{Start: today.AddDate(0, 0, -days), End: today}
	bars, err := fetch.Fetch(r.Context(), s.cfg.Fetcher, asset.Class.Provider(), "history "+asset.Symbol, func(ctx context.Context) ([]domain.Bar, error) {
		return p.FetchDaily(ctx, asset.Symbol, rng)
	})
	if err != nil {
		s.log.Warn("history failed", "symbol", asset.Symbol, "error", err)
		writeProviderError(w, err)
		return
	}
	writeJSON(w, HistoryResponse{
		Symbol: asset.Symbol,
		From:   util.FormatDate(rng.Start),
		To:     util.FormatDate(rng.End),
		Bars:   store.Dedup(gather.Clip(bars, rng)),
	})
}

// ---------------------------------------------------------------------------
// Update control
// ---------------------------------------------------------------------------

// handleTriggerUpdate starts a cycle in the background. Calling it while a
// cycle runs is harmless and reports the running cycle.
func (s *Server) handleTriggerUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Updater.StartCycle(s.cfg.BaseContext, domain.TriggerManual) {
		writeJSON(w, UpdateResponse{Status: "running"})
		return
	}
	writeJSONStatus(w, http.StatusAccepted, UpdateResponse{Status: "started"})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	resp := UpdateStatusResponse{Running: s.cfg.Updater.Running()}
	if last := s.cfg.Updater.LastRun(); last.ID != "" {
		resp.LastRun = &last
	}
	writeJSON(w, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runs == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.cfg.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	writeJSON(w, RunsResponse{Runs: runs})
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runs == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	id := r.PathValue("id")
	results, err := s.cfg.Runs.RunResults(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(results) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no results for run %s", id))
		return
	}
	writeJSON(w, RunDetailResponse{ID: id, Results: results})
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func (s *Server) handleAssetMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tf, ok := domain.ParseTimeframe(q.Get("timeframe"))
	if !ok {
		writeError(w, http.StatusBadRequest, "timeframe must be daily, weekly or monthly")
		return
	}
	qty := decimal.NewFromInt(1)
	if v := q.Get("quantity"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			writeError(w, http.StatusBadRequest, "quantity must be a non-negative number")
			return
		}
		qty = d
	}

	asset, _ := s.resolve(r.PathValue("symbol"))
	m, err := s.cfg.Analyzer.Asset(r.Context(), asset.Symbol, qty, tf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, MetricsResponse{Symbol: asset.Symbol, Timeframe: tf, Metrics: m})
}

func (s *Server) handlePortfolioMetrics(w http.ResponseWriter, r *http.Request) {
	var req PortfolioMetricsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	tf, ok := domain.ParseTimeframe(req.Timeframe)
	if !ok {
		writeError(w, http.StatusBadRequest, "timeframe must be daily, weekly or monthly")
		return
	}
	for _, h := range req.Holdings {
		if h.Quantity.IsNegative() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("negative quantity for %s", h.AssetID))
			return
		}
	}

	m, err := s.cfg.Analyzer.Portfolio(r.Context(), req.Holdings, tf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, MetricsResponse{Timeframe: tf, Metrics: m})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Running: s.cfg.Updater.Running()})
}
