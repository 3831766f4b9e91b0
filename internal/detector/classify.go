package detector

import (
	"math"
	"time"

	"github.com/ambrusq/marketsig/internal/models"
)

// direction of the movement described by a comparison.
func direction(deltaAbs float64) models.Direction {
	switch {
	case deltaAbs > 0:
		return models.DirectionUp
	case deltaAbs < 0:
		return models.DirectionDown
	default:
		return models.DirectionFlat
	}
}

// Classify applies the threshold rules to one comparison. A comparison
// can satisfy the absolute and relative rules independently, so it yields
// zero, one, or two signals. Short-window comparisons that qualify are
// tagged rapid rather than forming a separate record. Pure: same inputs,
// same signals.
func Classify(series *models.MarketSeries, cmp Comparison, cfg Config, detectedAt time.Time) []models.Signal {
	deltaAbs := cmp.To.Price - cmp.From.Price
	rapid := cmp.Window == models.WindowShort

	base := models.Signal{
		MarketID:   series.MarketID,
		Source:     series.Source,
		Direction:  direction(deltaAbs),
		Window:     cmp.Window,
		From:       cmp.From,
		To:         cmp.To,
		DeltaAbs:   deltaAbs,
		DetectedAt: detectedAt,
	}

	var signals []models.Signal

	if math.Abs(deltaAbs) >= cfg.MinAbsoluteChange {
		s := base
		s.Kind = models.KindAbsolute
		s.Rapid = rapid
		s.Severity = models.SeverityModerate
		if math.Abs(deltaAbs) >= cfg.LargeAbsoluteChange {
			s.Severity = models.SeverityLarge
		}
		signals = append(signals, s)
	}

	// Relative change is undefined at a zero prior price; skip silently.
	if cmp.From.Price > 0 {
		deltaRel := deltaAbs / cmp.From.Price
		if math.Abs(deltaRel) >= cfg.MinRelativeChange {
			s := base
			s.Kind = models.KindRelative
			s.Rapid = rapid
			s.DeltaRel = deltaRel
			s.Severity = models.SeverityModerate
			if math.Abs(deltaRel) >= cfg.LargeRelativeChange {
				s.Severity = models.SeverityLarge
			}
			signals = append(signals, s)
		}
	}

	// Propagate the relative delta onto absolute signals for reporting.
	if len(signals) > 0 && cmp.From.Price > 0 {
		rel := deltaAbs / cmp.From.Price
		for i := range signals {
			signals[i].DeltaRel = rel
		}
	}

	return signals
}
