package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ambrusq/marketsig/internal/config"
	"github.com/ambrusq/marketsig/internal/detector"
	"github.com/ambrusq/marketsig/internal/models"
	"github.com/ambrusq/marketsig/internal/storage"
)

type stubFetcher struct {
	points []models.PricePoint
	err    error
}

func (f *stubFetcher) FetchHistory(ctx context.Context, marketID string, source models.Source, lookback time.Duration) ([]models.PricePoint, error) {
	return f.points, f.err
}

func newTestServer(t *testing.T, fetcher Fetcher) (*Server, *storage.Storage) {
	t.Helper()

	store, err := storage.New(100, ":memory:")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	det, err := detector.New(detector.DefaultConfig())
	if err != nil {
		t.Fatalf("detector.New() error = %v", err)
	}

	cfg := config.ServerConfig{
		BindAddress: ":0",
		CORSOrigins: []string{"*"},
	}
	return NewServer(cfg, store, det, fetcher), store
}

func doRequest(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("response is not JSON: %v\nbody: %s", err, rec.Body.String())
	}
	return rec, decoded
}

func TestGetHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, body := doRequest(t, s, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", body["status"])
	}
}

func TestTrackAndListMarkets(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, _ := doRequest(t, s, "POST", "/api/v1/markets", `{"market_id":"will-rates-drop","source":"polymarket"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("track status = %d, want %d", rec.Code, http.StatusCreated)
	}

	rec, body := doRequest(t, s, "GET", "/api/v1/markets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestTrackMarket_RejectsUnknownSource(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, _ := doRequest(t, s, "POST", "/api/v1/markets", `{"market_id":"m1","source":"betfair"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDeactivateMarket(t *testing.T) {
	s, store := newTestServer(t, nil)

	if err := store.TrackMarket("m1", models.SourcePolymarket); err != nil {
		t.Fatalf("TrackMarket() error = %v", err)
	}

	rec, _ := doRequest(t, s, "DELETE", "/api/v1/markets/m1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	tracked, err := store.ActiveMarkets()
	if err != nil {
		t.Fatalf("ActiveMarkets() error = %v", err)
	}
	if len(tracked) != 0 {
		t.Errorf("got %d active markets, want 0", len(tracked))
	}
}

func TestRunDetection(t *testing.T) {
	s, store := newTestServer(t, nil)

	if err := store.TrackMarket("will-rates-drop", models.SourcePolymarket); err != nil {
		t.Fatalf("TrackMarket() error = %v", err)
	}

	// A 20-point move inside the short window triggers both rules.
	now := time.Now().UTC()
	prices := map[time.Time]float64{
		now.Add(-time.Hour):                 0.40,
		now.Add(-45 * time.Minute):          0.60,
		now.Add(-44*time.Minute - 30*time.Second): 0.61,
	}
	for ts, price := range prices {
		if err := store.AddPrice("will-rates-drop", ts, price); err != nil {
			t.Fatalf("AddPrice() error = %v", err)
		}
	}

	rec, body := doRequest(t, s, "POST", "/api/v1/detect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detect status = %d, want %d\nbody: %v", rec.Code, http.StatusOK, body)
	}

	stats := body["stats"].(map[string]any)
	if stats["signals"].(float64) < 1 {
		t.Errorf("signals = %v, want >= 1", stats["signals"])
	}

	rec, body = doRequest(t, s, "GET", "/api/v1/signals?market_id=will-rates-drop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("signals status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body["count"].(float64) < 1 {
		t.Errorf("stored signal count = %v, want >= 1", body["count"])
	}
}

func TestRunDetection_UnknownMarketFilter(t *testing.T) {
	s, store := newTestServer(t, nil)

	if err := store.TrackMarket("m1", models.SourcePolymarket); err != nil {
		t.Fatalf("TrackMarket() error = %v", err)
	}

	rec, _ := doRequest(t, s, "POST", "/api/v1/detect?market_id=nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRunDetection_LookbackOverride(t *testing.T) {
	s, store := newTestServer(t, nil)

	if err := store.TrackMarket("m1", models.SourcePolymarket); err != nil {
		t.Fatalf("TrackMarket() error = %v", err)
	}

	// A qualifying move two days old, outside the default lookback once
	// the per-request override narrows it.
	now := time.Now().UTC()
	for ts, price := range map[time.Time]float64{
		now.Add(-48 * time.Hour):                 0.40,
		now.Add(-48*time.Hour + 10*time.Minute): 0.60,
	} {
		if err := store.AddPrice("m1", ts, price); err != nil {
			t.Fatalf("AddPrice() error = %v", err)
		}
	}

	rec, body := doRequest(t, s, "POST", "/api/v1/detect?lookback_hours=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := body["stats"].(map[string]any)["signals"].(float64); got != 0 {
		t.Errorf("narrow lookback found %v signals, want 0", got)
	}

	rec, body = doRequest(t, s, "POST", "/api/v1/detect?lookback_hours=0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := body["stats"].(map[string]any)["signals"].(float64); got < 1 {
		t.Errorf("unbounded lookback found %v signals, want >= 1", got)
	}
}

func TestRunDetection_RejectsBadLookback(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, _ := doRequest(t, s, "POST", "/api/v1/detect?lookback_hours=soon", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetSignals_RejectsBadLimit(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, _ := doRequest(t, s, "GET", "/api/v1/signals?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRunCollection_DisabledWithoutFetcher(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, _ := doRequest(t, s, "POST", "/api/v1/collect", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRunCollection(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	fetcher := &stubFetcher{
		points: []models.PricePoint{
			{Timestamp: now.Add(-2 * time.Minute), Price: 0.40},
			{Timestamp: now.Add(-time.Minute), Price: 0.42},
		},
	}
	s, store := newTestServer(t, fetcher)

	if err := store.TrackMarket("m1", models.SourceKalshi); err != nil {
		t.Fatalf("TrackMarket() error = %v", err)
	}

	rec, body := doRequest(t, s, "POST", "/api/v1/collect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %v", rec.Code, http.StatusOK, body)
	}

	stats := body["stats"].(map[string]any)
	if stats["points"] != float64(2) {
		t.Errorf("points = %v, want 2", stats["points"])
	}

	rows, err := store.PriceHistory("m1", time.Time{})
	if err != nil {
		t.Fatalf("PriceHistory() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("stored %d rows, want 2", len(rows))
	}
}
