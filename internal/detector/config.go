package detector

import "time"

// Config holds signal-detection thresholds and windows. It is immutable
// for the duration of a run; every pipeline call receives it explicitly.
type Config struct {
	// Absolute-change thresholds, as fractions of the probability scale.
	MinAbsoluteChange   float64
	LargeAbsoluteChange float64

	// Relative-change thresholds, as fractions of the earlier price.
	MinRelativeChange   float64
	LargeRelativeChange float64

	// Comparison windows, shortest to longest.
	ShortWindow  time.Duration
	MediumWindow time.Duration
	LongWindow   time.Duration

	// Prices below this floor are excluded as noise-prone.
	MinPriceThreshold float64

	// Lookback bounds how far back from the latest observation the scan
	// reaches. Zero or negative means all available data.
	Lookback time.Duration
}

// DefaultConfig mirrors the thresholds the collector shipped with.
func DefaultConfig() Config {
	return Config{
		MinAbsoluteChange:   0.10,
		LargeAbsoluteChange: 0.20,
		MinRelativeChange:   0.25,
		LargeRelativeChange: 0.50,
		ShortWindow:         15 * time.Minute,
		MediumWindow:        time.Hour,
		LongWindow:          4 * time.Hour,
		MinPriceThreshold:   0.05,
		Lookback:            24 * time.Hour,
	}
}

// Unbounded reports whether the lookback sentinel selects all available
// history.
func (c Config) Unbounded() bool {
	return c.Lookback <= 0
}

// Validate checks every configuration value against its valid range.
func (c Config) Validate() error {
	type bound struct {
		field string
		value float64
	}
	for _, b := range []bound{
		{"min_absolute_change", c.MinAbsoluteChange},
		{"large_absolute_change", c.LargeAbsoluteChange},
		{"min_relative_change", c.MinRelativeChange},
		{"large_relative_change", c.LargeRelativeChange},
		{"min_price_threshold", c.MinPriceThreshold},
	} {
		if b.value < 0 {
			return &ConfigError{Field: b.field, Reason: "must not be negative"}
		}
	}
	if c.MinAbsoluteChange > 1 || c.LargeAbsoluteChange > 1 {
		return &ConfigError{Field: "absolute thresholds", Reason: "must not exceed the probability scale"}
	}
	if c.LargeAbsoluteChange < c.MinAbsoluteChange {
		return &ConfigError{Field: "large_absolute_change", Reason: "must be >= min_absolute_change"}
	}
	if c.LargeRelativeChange < c.MinRelativeChange {
		return &ConfigError{Field: "large_relative_change", Reason: "must be >= min_relative_change"}
	}
	if c.MinPriceThreshold > 1 {
		return &ConfigError{Field: "min_price_threshold", Reason: "must not exceed the probability scale"}
	}
	if c.ShortWindow <= 0 {
		return &ConfigError{Field: "short_window", Reason: "must be positive"}
	}
	if c.MediumWindow <= 0 {
		return &ConfigError{Field: "medium_window", Reason: "must be positive"}
	}
	if c.LongWindow <= 0 {
		return &ConfigError{Field: "long_window", Reason: "must be positive"}
	}
	if c.MediumWindow < c.ShortWindow {
		return &ConfigError{Field: "medium_window", Reason: "must be >= short_window"}
	}
	if c.LongWindow < c.MediumWindow {
		return &ConfigError{Field: "long_window", Reason: "must be >= medium_window"}
	}
	return nil
}
