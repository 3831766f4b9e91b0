package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ambrusq/marketsig/internal/config"
	"github.com/ambrusq/marketsig/internal/detector"
	"github.com/ambrusq/marketsig/internal/ingest"
	"github.com/ambrusq/marketsig/internal/logger"
	"github.com/ambrusq/marketsig/internal/markets"
	"github.com/ambrusq/marketsig/internal/models"
	"github.com/ambrusq/marketsig/internal/server"
	"github.com/ambrusq/marketsig/internal/storage"
	"github.com/ambrusq/marketsig/internal/telegram"
)

var (
	configPath      = flag.String("config", "configs/config.yaml", "Path to configuration file")
	csvPath         = flag.String("csv", "", "Detect signals in a CSV file and exit")
	marketID        = flag.String("market-id", "", "Market identifier (defaults to the CSV file name)")
	sourceName      = flag.String("source", "", "Market source: polymarket, kalshi or csv")
	timestampColumn = flag.String("timestamp-column", "", "CSV timestamp column (auto-detected when empty)")
	priceColumn     = flag.String("price-column", "", "CSV price column (auto-detected when empty)")
	lookbackHours   = flag.Float64("lookback-hours", -1, "Override history lookback in hours (0 = unbounded)")
	minAbsolute     = flag.Float64("min-absolute", -1, "Override the minimum absolute price change")
	minRelative     = flag.Float64("min-relative", -1, "Override the minimum relative price change")
	serveMode       = flag.Bool("serve", false, "Run the HTTP trigger server")
	collectMode     = flag.Bool("collect", false, "Fetch fresh price history for tracked markets and exit")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	detCfg := cfg.DetectorConfig()
	applyOverrides(&detCfg)

	det, err := detector.New(detCfg)
	if err != nil {
		logger.Fatal("Invalid detector configuration: %v", err)
	}

	if *csvPath != "" {
		if err := runCSV(det); err != nil {
			logger.Fatal("CSV detection failed: %v", err)
		}
		return
	}

	store, err := storage.New(cfg.Storage.MaxSignals, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	fetcher := markets.NewClient(
		cfg.Sources.PolymarketAPIURL,
		cfg.Sources.KalshiAPIURL,
		cfg.Sources.Timeout,
		cfg.Sources.RatePerSecond,
		cfg.Sources.MaxRetries,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	switch {
	case *serveMode:
		srv := server.NewServer(cfg.Server, store, det, fetcher)
		if err := srv.Run(ctx); err != nil {
			logger.Fatal("Server failed: %v", err)
		}

	case *collectMode:
		if err := runCollection(ctx, store, fetcher, detCfg.Lookback); err != nil {
			logger.Fatal("Collection failed: %v", err)
		}

	default:
		if err := runBatch(cfg, store, det); err != nil {
			logger.Fatal("Batch detection failed: %v", err)
		}
	}
}

// applyOverrides folds command-line threshold flags into the detector
// configuration. Negative values leave the configured value in place.
func applyOverrides(detCfg *detector.Config) {
	if *lookbackHours >= 0 {
		detCfg.Lookback = time.Duration(*lookbackHours * float64(time.Hour))
	}
	if *minAbsolute >= 0 {
		detCfg.MinAbsoluteChange = *minAbsolute
	}
	if *minRelative >= 0 {
		detCfg.MinRelativeChange = *minRelative
	}
}

// runCSV detects signals in a single CSV file and prints them as JSON.
func runCSV(det *detector.Detector) error {
	rows, err := ingest.ReadFile(*csvPath, *timestampColumn, *priceColumn)
	if err != nil {
		return err
	}

	id := *marketID
	if id == "" {
		base := filepath.Base(*csvPath)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}

	source := models.SourceCSV
	if *sourceName != "" {
		source, err = models.ParseSource(*sourceName)
		if err != nil {
			return err
		}
	}

	signals, err := det.Detect(id, source, rows)
	if err != nil {
		return err
	}

	logger.Info("Detected %d signals in %d rows from %s", len(signals), len(rows), *csvPath)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if signals == nil {
		signals = []models.Signal{}
	}
	return enc.Encode(signals)
}

// runCollection fetches fresh price history for every tracked market.
func runCollection(ctx context.Context, store *storage.Storage, fetcher *markets.Client, lookback time.Duration) error {
	tracked, err := store.ActiveMarkets()
	if err != nil {
		return err
	}
	if len(tracked) == 0 {
		logger.Warn("No tracked markets to collect")
		return nil
	}

	total := 0
	for _, m := range tracked {
		points, err := fetcher.FetchHistory(ctx, m.MarketID, m.Source, lookback)
		if err != nil {
			logger.Error("Failed to fetch history for market %s: %v", m.MarketID, err)
			continue
		}
		for _, p := range points {
			if err := store.AddPrice(m.MarketID, p.Timestamp, p.Price); err != nil {
				return fmt.Errorf("failed to store price for market %s: %w", m.MarketID, err)
			}
		}
		logger.Info("Collected %d points for market %s", len(points), m.MarketID)
		total += len(points)
	}

	logger.Info("Collection complete: %d points across %d markets", total, len(tracked))
	return nil
}

// runBatch runs detection over stored price history for every tracked
// market, persists the signals and sends the Telegram digest.
func runBatch(cfg *config.Config, store *storage.Storage, det *detector.Detector) error {
	startTime := time.Now()

	tracked, err := store.ActiveMarkets()
	if err != nil {
		return err
	}
	if len(tracked) == 0 {
		logger.Warn("No tracked markets, nothing to detect")
		return nil
	}

	detCfg := det.Config()
	since := time.Time{}
	if !detCfg.Unbounded() {
		since = time.Now().UTC().Add(-detCfg.Lookback)
	}

	var inputs []detector.MarketInput
	for _, m := range tracked {
		rows, err := store.PriceHistory(m.MarketID, since)
		if err != nil {
			return fmt.Errorf("failed to load history for market %s: %w", m.MarketID, err)
		}
		inputs = append(inputs, detector.MarketInput{
			MarketID: m.MarketID,
			Source:   m.Source,
			Rows:     rows,
		})
	}

	result := det.RunBatch(inputs)
	logger.Info("Detection complete: %d signals across %d markets (%d failures)",
		result.Detected(), len(inputs), len(result.Errors))

	var all []models.Signal
	for _, signals := range result.Signals {
		all = append(all, signals...)
	}

	saved, err := store.SaveSignals(all)
	if err != nil {
		return fmt.Errorf("failed to save signals: %w", err)
	}
	logger.Info("Saved %d signals", saved)

	var tg *telegram.Client
	if cfg.Telegram.Enabled {
		tg, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, 3, time.Second)
		if err != nil {
			logger.Error("Failed to initialize Telegram client: %v", err)
			tg = nil
		}
	}
	if tg != nil {
		if len(all) > 0 {
			if err := tg.Send(all); err != nil {
				logger.Error("Failed to send Telegram notification: %v", err)
			}
		}
		if batchErr := batchFailureError(result.Errors); batchErr != nil {
			if err := tg.SendError(batchErr); err != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", err)
			}
		}
	}

	if err := store.RotateSignals(); err != nil {
		logger.Warn("Failed to rotate signals: %v", err)
	}

	logger.Info("Batch run completed in %v", time.Since(startTime))
	return nil
}

// batchFailureError folds per-market failures into one notifiable error,
// ordered by market ID so repeated runs produce the same text. Nil when
// the batch had no failures.
func batchFailureError(failures map[string]error) error {
	if len(failures) == 0 {
		return nil
	}
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, failures[id]))
	}
	return fmt.Errorf("%d market(s) failed: %s", len(ids), strings.Join(parts, "; "))
}
