// Package server exposes the detection pipeline over HTTP for manual
// triggers and dashboard queries.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ambrusq/marketsig/internal/config"
	"github.com/ambrusq/marketsig/internal/detector"
	"github.com/ambrusq/marketsig/internal/logger"
	"github.com/ambrusq/marketsig/internal/models"
	"github.com/ambrusq/marketsig/internal/storage"
)

// Fetcher retrieves price history from an upstream market API. Satisfied
// by markets.Client; nil disables the collect endpoint.
type Fetcher interface {
	FetchHistory(ctx context.Context, marketID string, source models.Source, lookback time.Duration) ([]models.PricePoint, error)
}

type Server struct {
	cfg     config.ServerConfig
	store   *storage.Storage
	det     *detector.Detector
	fetcher Fetcher
	server  *http.Server
}

func NewServer(cfg config.ServerConfig, store *storage.Storage, det *detector.Detector, fetcher Fetcher) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		det:     det,
		fetcher: fetcher,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         3600,
	})

	s.server = &http.Server{
		Addr:    s.cfg.BindAddress,
		Handler: c.Handler(s.Router()),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Info("HTTP server listening on %s", s.cfg.BindAddress)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.getHealth).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/markets", s.getMarkets).Methods("GET")
	api.HandleFunc("/markets", s.trackMarket).Methods("POST")
	api.HandleFunc("/markets/{market_id}", s.deactivateMarket).Methods("DELETE")
	api.HandleFunc("/detect", s.runDetection).Methods("POST")
	api.HandleFunc("/collect", s.runCollection).Methods("POST")
	api.HandleFunc("/signals", s.getSignals).Methods("GET")

	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"status":    "error",
		"error":     err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getMarkets(w http.ResponseWriter, r *http.Request) {
	tracked, err := s.store.ActiveMarkets()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"markets": tracked,
		"count":   len(tracked),
	})
}

func (s *Server) trackMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MarketID string `json:"market_id"`
		Source   string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	source, err := models.ParseSource(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.TrackMarket(req.MarketID, source); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":    "success",
		"market_id": req.MarketID,
	})
}

func (s *Server) deactivateMarket(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["market_id"]

	if err := s.store.DeactivateMarket(marketID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"market_id": marketID,
	})
}

// runDetection runs the detector over stored price history. Optional
// query parameters: market_id restricts the run to one market,
// lookback_hours overrides the configured lookback for this request
// (0 scans all available history).
func (s *Server) runDetection(w http.ResponseWriter, r *http.Request) {
	det := s.det
	if raw := r.URL.Query().Get("lookback_hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours < 0 {
			writeError(w, http.StatusBadRequest, errBadLookback(raw))
			return
		}
		cfg := s.det.Config()
		cfg.Lookback = time.Duration(hours * float64(time.Hour))
		override, err := detector.New(cfg)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		det = override
	}

	tracked, err := s.store.ActiveMarkets()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if only := r.URL.Query().Get("market_id"); only != "" {
		var filtered []storage.TrackedMarket
		for _, m := range tracked {
			if m.MarketID == only {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) == 0 {
			writeError(w, http.StatusNotFound, errMarketNotTracked(only))
			return
		}
		tracked = filtered
	}

	since := historySince(det.Config())
	var inputs []detector.MarketInput
	for _, m := range tracked {
		rows, err := s.store.PriceHistory(m.MarketID, since)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		inputs = append(inputs, detector.MarketInput{
			MarketID: m.MarketID,
			Source:   m.Source,
			Rows:     rows,
		})
	}

	result := det.RunBatch(inputs)

	saved := 0
	for _, signals := range result.Signals {
		n, err := s.store.SaveSignals(signals)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		saved += n
	}

	failures := make(map[string]string, len(result.Errors))
	for marketID, marketErr := range result.Errors {
		failures[marketID] = marketErr.Error()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"stats": map[string]any{
			"markets":  len(inputs),
			"signals":  saved,
			"failures": failures,
		},
	})
}

// runCollection fetches fresh price history from the upstream APIs into
// storage for every active market.
func (s *Server) runCollection(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, errCollectorDisabled)
		return
	}

	tracked, err := s.store.ActiveMarkets()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	lookback := s.det.Config().Lookback
	collected := 0
	failures := make(map[string]string)
	for _, m := range tracked {
		points, err := s.fetcher.FetchHistory(r.Context(), m.MarketID, m.Source, lookback)
		if err != nil {
			logger.Warn("Collection failed for market %s: %v", m.MarketID, err)
			failures[m.MarketID] = err.Error()
			continue
		}
		for _, p := range points {
			if err := s.store.AddPrice(m.MarketID, p.Timestamp, p.Price); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
		}
		collected += len(points)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"stats": map[string]any{
			"markets":  len(tracked),
			"points":   collected,
			"failures": failures,
		},
	})
}

func (s *Server) getSignals(w http.ResponseWriter, r *http.Request) {
	marketID := r.URL.Query().Get("market_id")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errBadLimit(raw))
			return
		}
		limit = parsed
	}

	signals, err := s.store.RecentSignals(marketID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signals": signals,
		"count":   len(signals),
	})
}

// historySince converts the detector lookback into the earliest history
// timestamp to load. The zero time loads everything.
func historySince(cfg detector.Config) time.Time {
	if cfg.Unbounded() {
		return time.Time{}
	}
	return time.Now().UTC().Add(-cfg.Lookback)
}
