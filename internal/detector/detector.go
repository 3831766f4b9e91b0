// Package detector implements the signal-detection pipeline: normalize a
// raw price series, scan it across windows, classify threshold breaches,
// and deduplicate overlapping detections.
package detector

import (
	"time"

	"github.com/ambrusq/marketsig/internal/logger"
	"github.com/ambrusq/marketsig/internal/models"
)

// Detector runs the detection pipeline with one immutable Config.
type Detector struct {
	cfg Config
}

// New validates cfg and returns a Detector. A ConfigError is returned for
// any value outside its valid range.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Config returns the configuration the detector was built with.
func (d *Detector) Config() Config {
	return d.cfg
}

// MarketInput is one market's raw rows, as supplied by an input
// collaborator.
type MarketInput struct {
	MarketID string
	Source   models.Source
	Rows     []models.RawRow
}

// Detect runs the single-market pipeline. It fails only when the rows
// cannot be interpreted as timestamp/price pairs; empty input yields
// empty output, not an error.
func (d *Detector) Detect(marketID string, source models.Source, rows []models.RawRow) ([]models.Signal, error) {
	return d.detectAt(marketID, source, rows, time.Now().UTC())
}

func (d *Detector) detectAt(marketID string, source models.Source, rows []models.RawRow, detectedAt time.Time) ([]models.Signal, error) {
	series, err := Normalize(marketID, source, rows, d.cfg)
	if err != nil {
		return nil, err
	}
	series = trimToLookback(series, d.cfg)
	if len(series.Points) < 2 {
		logger.Debug("Market %s: %d usable points, nothing to scan", marketID, len(series.Points))
		return nil, nil
	}

	comparisons := Scan(series, d.cfg)
	var candidates []models.Signal
	for _, cmp := range comparisons {
		candidates = append(candidates, Classify(series, cmp, d.cfg, detectedAt)...)
	}
	signals := Dedup(candidates, d.cfg)

	logger.Debug("Market %s: %d points, %d comparisons, %d candidates, %d signals",
		marketID, len(series.Points), len(comparisons), len(candidates), len(signals))
	return signals, nil
}

// BatchResult aggregates a RunBatch: per-market signals and per-market
// failures. One bad market never aborts the others.
type BatchResult struct {
	Signals map[string][]models.Signal
	Errors  map[string]error
}

// Detected returns the total signal count across all markets.
func (r BatchResult) Detected() int {
	n := 0
	for _, signals := range r.Signals {
		n += len(signals)
	}
	return n
}

// RunBatch runs Detect once per market. Markets are independent; a
// ParseError for one is recorded in Errors and the batch continues.
func (d *Detector) RunBatch(markets []MarketInput) BatchResult {
	result := BatchResult{
		Signals: make(map[string][]models.Signal, len(markets)),
		Errors:  make(map[string]error),
	}
	detectedAt := time.Now().UTC()

	for _, market := range markets {
		signals, err := d.detectAt(market.MarketID, market.Source, market.Rows, detectedAt)
		if err != nil {
			logger.Warn("Skipping market %s: %v", market.MarketID, err)
			result.Errors[market.MarketID] = err
			continue
		}
		result.Signals[market.MarketID] = signals
	}
	return result
}
