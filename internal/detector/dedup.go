package detector

import (
	"math"
	"sort"

	"github.com/ambrusq/marketsig/internal/models"
)

// preferred reports whether a should be kept over b when the two describe
// the same price move: larger absolute delta wins, then higher severity,
// then the earlier "to" timestamp, then the shorter window label as the
// final stable tie-break.
func preferred(a, b models.Signal) bool {
	da, db := math.Abs(a.DeltaAbs), math.Abs(b.DeltaAbs)
	if da != db {
		return da > db
	}
	if a.Severity != b.Severity {
		return a.Severity.Stronger(b.Severity)
	}
	if !a.To.Timestamp.Equal(b.To.Timestamp) {
		return a.To.Timestamp.Before(b.To.Timestamp)
	}
	return a.Window.Shorter(b.Window)
}

// Dedup collapses signals that describe the same price move for one
// market: same market and kind, with "to" timestamps within the shortest
// configured window of each other. Candidates are considered best-first,
// so any signal suppressed by a kept one can never itself suppress a
// better signal; that makes the reduction idempotent. The result is
// ordered by "to" timestamp, then kind.
func Dedup(candidates []models.Signal, cfg Config) []models.Signal {
	if len(candidates) == 0 {
		return nil
	}

	ranked := make([]models.Signal, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return preferred(ranked[i], ranked[j])
	})

	type key struct {
		marketID string
		kind     models.Kind
	}
	kept := make(map[key][]models.Signal)
	var result []models.Signal

	for _, cand := range ranked {
		k := key{cand.MarketID, cand.Kind}
		duplicate := false
		for _, existing := range kept[k] {
			gap := cand.To.Timestamp.Sub(existing.To.Timestamp)
			if gap < 0 {
				gap = -gap
			}
			if gap <= cfg.ShortWindow {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept[k] = append(kept[k], cand)
		result = append(result, cand)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].To.Timestamp.Equal(result[j].To.Timestamp) {
			return result[i].To.Timestamp.Before(result[j].To.Timestamp)
		}
		return result[i].Kind < result[j].Kind
	})
	return result
}
