package detector

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ambrusq/marketsig/internal/logger"
	"github.com/ambrusq/marketsig/internal/models"
)

// Timestamp layouts accepted from raw rows, tried in order after the
// epoch-seconds fast path.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimestamp interprets a raw timestamp field as epoch seconds or one
// of the accepted date-time layouts, always in UTC.
func parseTimestamp(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if epoch, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Normalize converts raw rows into a canonical MarketSeries: prices on
// the 0-1 scale, ascending timestamps, duplicate timestamps collapsed to
// the last-seen value, and noise-prone rows below the price floor
// excluded. A timestamp or price no format can interpret returns a
// ParseError, which aborts this market only.
func Normalize(marketID string, source models.Source, rows []models.RawRow, cfg Config) (*models.MarketSeries, error) {
	points := make([]models.PricePoint, 0, len(rows))
	for _, row := range rows {
		ts, ok := parseTimestamp(row.Timestamp)
		if !ok {
			return nil, &ParseError{MarketID: marketID, Field: "timestamp", Value: row.Timestamp}
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(row.Price), 64)
		if err != nil {
			return nil, &ParseError{MarketID: marketID, Field: "price", Value: row.Price, Err: err}
		}

		// Kalshi publishes cents; rescale to probability.
		if source == models.SourceKalshi && price > 1 {
			price /= 100
		}
		if price < 0 || price > 1 {
			logger.Warn("Dropping out-of-range price %.4f for %s at %s", price, marketID, ts.Format(time.RFC3339))
			continue
		}
		if price < cfg.MinPriceThreshold {
			logger.Debug("Skipping sub-floor price %.4f for %s (floor %.4f)", price, marketID, cfg.MinPriceThreshold)
			continue
		}
		points = append(points, models.PricePoint{Timestamp: ts, Price: price})
	}

	// Stable sort keeps input order among equal timestamps, so the last
	// element of each run is the last-seen value.
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	deduped := points[:0]
	for i, p := range points {
		if i+1 < len(points) && points[i+1].Timestamp.Equal(p.Timestamp) {
			continue
		}
		deduped = append(deduped, p)
	}

	return &models.MarketSeries{MarketID: marketID, Source: source, Points: deduped}, nil
}
