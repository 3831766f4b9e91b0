package detector

import (
	"time"

	"github.com/ambrusq/marketsig/internal/models"
)

// Comparison pairs a "to" point with the earliest prior point that falls
// inside one configured window.
type Comparison struct {
	From   models.PricePoint
	To     models.PricePoint
	Window models.Window
}

// windowSpan couples a window label with its duration for one scan.
type windowSpan struct {
	label models.Window
	width time.Duration
}

// windows builds the scan set: short, medium, long, and a window covering
// the whole lookback. With an unbounded lookback the last window spans the
// entire series, so the earliest point is always reachable.
func windows(cfg Config, series *models.MarketSeries) []windowSpan {
	lookback := cfg.Lookback
	if cfg.Unbounded() {
		lookback = series.Span()
	}
	return []windowSpan{
		{models.WindowShort, cfg.ShortWindow},
		{models.WindowMedium, cfg.MediumWindow},
		{models.WindowLong, cfg.LongWindow},
		{models.WindowLookback, lookback},
	}
}

// Scan walks the series once per window with a monotonic pointer: as the
// "to" point advances, each window's start boundary only moves forward,
// keeping the whole pass O(n) per window. A point with no prior point
// inside a window is skipped for that window.
func Scan(series *models.MarketSeries, cfg Config) []Comparison {
	points := series.Points
	if len(points) < 2 {
		return nil
	}

	spans := windows(cfg, series)
	starts := make([]int, len(spans))
	var comparisons []Comparison

	for i := 1; i < len(points); i++ {
		to := points[i]
		for w, span := range spans {
			if span.width <= 0 {
				continue
			}
			cutoff := to.Timestamp.Add(-span.width)
			for starts[w] < i && points[starts[w]].Timestamp.Before(cutoff) {
				starts[w]++
			}
			if starts[w] >= i {
				continue
			}
			comparisons = append(comparisons, Comparison{
				From:   points[starts[w]],
				To:     to,
				Window: span.label,
			})
		}
	}
	return comparisons
}

// trimToLookback drops points older than the lookback bound, measured
// from the latest timestamp in the series. Unbounded keeps everything.
func trimToLookback(series *models.MarketSeries, cfg Config) *models.MarketSeries {
	if cfg.Unbounded() || len(series.Points) == 0 {
		return series
	}
	latest := series.Points[len(series.Points)-1].Timestamp
	cutoff := latest.Add(-cfg.Lookback)
	i := 0
	for i < len(series.Points) && series.Points[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return series
	}
	return &models.MarketSeries{
		MarketID: series.MarketID,
		Source:   series.Source,
		Points:   series.Points[i:],
	}
}
