package models

import (
	"testing"
	"time"
)

func TestSignalValidate(t *testing.T) {
	now := time.Now()
	valid := Signal{
		MarketID:  "KXBTC-25DEC31",
		Source:    SourceKalshi,
		Kind:      KindAbsolute,
		Severity:  SeverityModerate,
		Direction: DirectionUp,
		Window:    WindowShort,
		From:      PricePoint{Timestamp: now.Add(-10 * time.Minute), Price: 0.50},
		To:        PricePoint{Timestamp: now, Price: 0.65},
		DeltaAbs:  0.15,
		DeltaRel:  0.30,
	}

	tests := []struct {
		name    string
		mutate  func(*Signal)
		wantErr bool
	}{
		{"valid signal", func(s *Signal) {}, false},
		{"empty market ID", func(s *Signal) { s.MarketID = "" }, true},
		{"unknown source", func(s *Signal) { s.Source = "bovada" }, true},
		{"unknown kind", func(s *Signal) { s.Kind = "volatility" }, true},
		{"unknown severity", func(s *Signal) { s.Severity = "huge" }, true},
		{"from price above scale", func(s *Signal) { s.From.Price = 1.2 }, true},
		{"negative to price", func(s *Signal) { s.To.Price = -0.1 }, true},
		{"to before from", func(s *Signal) {
			s.To.Timestamp = s.From.Timestamp.Add(-time.Minute)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseSource(t *testing.T) {
	for _, ok := range []string{"polymarket", "kalshi", "csv"} {
		if _, err := ParseSource(ok); err != nil {
			t.Errorf("ParseSource(%q) unexpected error: %v", ok, err)
		}
	}
	if _, err := ParseSource("predictit"); err == nil {
		t.Error("ParseSource accepted an unknown source")
	}
}

func TestWindowShorter(t *testing.T) {
	ordered := []Window{WindowShort, WindowMedium, WindowLong, WindowLookback}
	for i := 0; i < len(ordered)-1; i++ {
		if !ordered[i].Shorter(ordered[i+1]) {
			t.Errorf("%s should be shorter than %s", ordered[i], ordered[i+1])
		}
	}
	if WindowLong.Shorter(WindowShort) {
		t.Error("long must not rank shorter than short")
	}
}

func TestSeverityStronger(t *testing.T) {
	if !SeverityLarge.Stronger(SeverityModerate) {
		t.Error("large should outrank moderate")
	}
	if SeverityModerate.Stronger(SeverityModerate) {
		t.Error("equal severities must not outrank each other")
	}
}

func TestMarketSeriesSpan(t *testing.T) {
	now := time.Now()
	s := MarketSeries{Points: []PricePoint{
		{Timestamp: now, Price: 0.4},
		{Timestamp: now.Add(3 * time.Hour), Price: 0.5},
	}}
	if got := s.Span(); got != 3*time.Hour {
		t.Errorf("Span() = %v, want 3h", got)
	}
	empty := MarketSeries{}
	if got := empty.Span(); got != 0 {
		t.Errorf("empty Span() = %v, want 0", got)
	}
}
