// Package server provides the HTTP API: market snapshots, K-line
// queries, stored signals, on-demand technical analysis, and service
// status.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"marketd/internal/domain"
	"marketd/internal/marketdata"
	"marketd/internal/modules/analysis"
	"marketd/internal/modules/klines"
	"marketd/internal/modules/market"
	"marketd/internal/monitor"
)

// MarketStore reads the watchlist and the cached tickers.
type MarketStore interface {
	Symbols() ([]string, error)
	Get(symbol string) (*market.CachedTicker, error)
}

// TickerSource fetches a live 24h ticker for one trading pair.
type TickerSource interface {
	Ticker24h(ctx context.Context, symbol string) (*domain.Ticker, error)
}

// IndicatorSource aggregates the macro indicator snapshot.
type IndicatorSource interface {
	Indicators(ctx context.Context) *marketdata.Indicators
	Freshness() map[string]float64
}

// CrawledStore reads scraped ETF flow and holdings points.
type CrawledStore interface {
	LatestByType(dataType string) (*domain.CrawledData, error)
}

// KlineStore reads stored bars and coverage.
type KlineStore interface {
	Recent(symbol, interval string, limit int) ([]domain.Kline, error)
	AllCoverage() ([]klines.Coverage, error)
}

// KlineSyncer brings a (symbol, timeframe) pair up to date before a
// read. A pair with no local history is backfilled.
type KlineSyncer interface {
	Incremental(ctx context.Context, symbol, interval string) (int, error)
}

// SignalStore persists and lists trading signals.
type SignalStore interface {
	Insert(s *domain.Signal) (int64, error)
	Recent(limit int, symbol string) ([]domain.Signal, error)
}

// Analyzer runs the multi-timeframe strategy.
type Analyzer interface {
	Analyze(ctx context.Context, cfg analysis.Config) (*analysis.Result, error)
}

// Pinger verifies database connectivity.
type Pinger interface {
	QuickCheck(ctx context.Context) error
}

// Deps bundles everything the handlers need.
type Deps struct {
	Log       zerolog.Logger
	Market    MarketStore
	Tickers   TickerSource
	Macro     IndicatorSource
	Crawled   CrawledStore
	Klines    KlineStore
	Sync      KlineSyncer
	Signals   SignalStore
	Analysis  Analyzer
	Monitor   *monitor.Monitor
	DB        Pinger
	StartedAt time.Time
}

// Server is the HTTP server with its router.
type Server struct {
	deps   Deps
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New creates the server and mounts all routes on addr.
func New(addr string, deps Deps) *Server {
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}

	s := &Server{
		deps: deps,
		log:  deps.Log.With().Str("component", "server").Logger(),
	}
	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/data", func(r chi.Router) {
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/klines/{symbol}", s.handleKlines)
			r.Post("/signals", s.handleCreateSignal)
			r.Get("/signals", s.handleListSignals)
		})
		r.Route("/ta", func(r chi.Router) {
			r.Post("/analyze", s.handleAnalyze)
			r.Get("/klines-status", s.handleKlinesStatus)
		})
		r.Get("/status", s.handleStatus)
		r.Get("/health", s.handleHealth)
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error body with the given status.
func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"error": detail})
}
