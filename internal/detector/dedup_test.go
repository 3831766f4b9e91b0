package detector

import (
	"reflect"
	"testing"
	"time"

	"github.com/ambrusq/marketsig/internal/models"
)

func dedupSignal(kind models.Kind, window models.Window, toOffset time.Duration, deltaAbs float64, severity models.Severity) models.Signal {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return models.Signal{
		MarketID:  "cond-1",
		Source:    models.SourcePolymarket,
		Kind:      kind,
		Severity:  severity,
		Direction: models.DirectionUp,
		Window:    window,
		From:      models.PricePoint{Timestamp: base.Add(toOffset - time.Hour), Price: 0.50},
		To:        models.PricePoint{Timestamp: base.Add(toOffset), Price: 0.50 + deltaAbs},
		DeltaAbs:  deltaAbs,
	}
}

func TestDedup_OverlappingWindowsCollapse(t *testing.T) {
	cfg := DefaultConfig() // short window 15m
	candidates := []models.Signal{
		dedupSignal(models.KindAbsolute, models.WindowShort, 0, 0.15, models.SeverityModerate),
		dedupSignal(models.KindAbsolute, models.WindowMedium, 0, 0.15, models.SeverityModerate),
		dedupSignal(models.KindAbsolute, models.WindowLong, 0, 0.15, models.SeverityModerate),
	}
	got := Dedup(candidates, cfg)
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	// Equal delta, severity, and timestamp: the shortest window wins the
	// final tie-break.
	if got[0].Window != models.WindowShort {
		t.Errorf("kept window = %s, want short", got[0].Window)
	}
}

func TestDedup_LargerDeltaWins(t *testing.T) {
	cfg := DefaultConfig()
	candidates := []models.Signal{
		dedupSignal(models.KindAbsolute, models.WindowShort, 0, 0.12, models.SeverityModerate),
		dedupSignal(models.KindAbsolute, models.WindowLong, 5*time.Minute, 0.30, models.SeverityLarge),
	}
	got := Dedup(candidates, cfg)
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	if got[0].DeltaAbs != 0.30 {
		t.Errorf("kept delta = %f, want the larger movement", got[0].DeltaAbs)
	}
}

func TestDedup_SeverityBreaksDeltaTies(t *testing.T) {
	cfg := DefaultConfig()
	candidates := []models.Signal{
		dedupSignal(models.KindRelative, models.WindowMedium, 0, 0.15, models.SeverityModerate),
		dedupSignal(models.KindRelative, models.WindowLong, 5*time.Minute, 0.15, models.SeverityLarge),
	}
	got := Dedup(candidates, cfg)
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	if got[0].Severity != models.SeverityLarge {
		t.Errorf("kept severity = %s, want large", got[0].Severity)
	}
}

func TestDedup_DifferentKindsKeptApart(t *testing.T) {
	cfg := DefaultConfig()
	candidates := []models.Signal{
		dedupSignal(models.KindAbsolute, models.WindowShort, 0, 0.15, models.SeverityModerate),
		dedupSignal(models.KindRelative, models.WindowShort, 0, 0.15, models.SeverityModerate),
	}
	got := Dedup(candidates, cfg)
	if len(got) != 2 {
		t.Errorf("got %d signals, want 2 (kinds never collapse together)", len(got))
	}
}

func TestDedup_SeparatedMovesKept(t *testing.T) {
	cfg := DefaultConfig()
	candidates := []models.Signal{
		dedupSignal(models.KindAbsolute, models.WindowShort, 0, 0.15, models.SeverityModerate),
		dedupSignal(models.KindAbsolute, models.WindowShort, time.Hour, 0.12, models.SeverityModerate),
	}
	got := Dedup(candidates, cfg)
	if len(got) != 2 {
		t.Errorf("got %d signals, want 2 (moves an hour apart are distinct)", len(got))
	}
}

func TestDedup_Idempotent(t *testing.T) {
	cfg := DefaultConfig()
	candidates := []models.Signal{
		dedupSignal(models.KindAbsolute, models.WindowShort, 0, 0.15, models.SeverityModerate),
		dedupSignal(models.KindAbsolute, models.WindowMedium, 10*time.Minute, 0.22, models.SeverityLarge),
		dedupSignal(models.KindAbsolute, models.WindowLong, 40*time.Minute, 0.11, models.SeverityModerate),
		dedupSignal(models.KindRelative, models.WindowShort, 0, 0.15, models.SeverityModerate),
		dedupSignal(models.KindRelative, models.WindowMedium, 3*time.Minute, 0.15, models.SeverityModerate),
		dedupSignal(models.KindRelative, models.WindowLong, 2*time.Hour, 0.40, models.SeverityLarge),
	}
	once := Dedup(candidates, cfg)
	twice := Dedup(once, cfg)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("dedup not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestDedup_Empty(t *testing.T) {
	if got := Dedup(nil, DefaultConfig()); got != nil {
		t.Errorf("got %v, want nil for empty input", got)
	}
}
