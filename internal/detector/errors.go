package detector

import "fmt"

// ParseError reports that raw rows for one market could not be
// interpreted as timestamp/price pairs. It is fatal for that market and
// recoverable at the batch level.
type ParseError struct {
	MarketID string
	Field    string
	Value    string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("market %s: cannot parse %s %q: %v", e.MarketID, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("market %s: cannot parse %s %q", e.MarketID, e.Field, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConfigError reports a detection configuration value outside its valid
// range. Surfaced immediately; no value is auto-repaired.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}
