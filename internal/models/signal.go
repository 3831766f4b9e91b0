// Package models defines the core domain entities: price series, raw
// observations, and detected signals.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Source identifies the platform a price series came from.
type Source string

const (
	SourcePolymarket Source = "polymarket"
	SourceKalshi     Source = "kalshi"
	SourceCSV        Source = "csv"
)

// ParseSource converts a string into a Source.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourcePolymarket, SourceKalshi, SourceCSV:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown source %q (want polymarket, kalshi, or csv)", s)
	}
}

// Kind classifies what rule a signal was emitted by.
type Kind string

const (
	KindAbsolute Kind = "absolute"
	KindRelative Kind = "relative"
)

// Severity grades how far past the threshold a movement landed.
type Severity string

const (
	SeverityModerate Severity = "moderate"
	SeverityLarge    Severity = "large"
)

// rank orders severities for tie-breaking; higher wins.
func (s Severity) rank() int {
	if s == SeverityLarge {
		return 1
	}
	return 0
}

// Stronger reports whether s outranks other.
func (s Severity) Stronger(other Severity) bool {
	return s.rank() > other.rank()
}

// Direction of a price movement.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// Window labels the time span a comparison was made over.
type Window string

const (
	WindowShort    Window = "short"
	WindowMedium   Window = "medium"
	WindowLong     Window = "long"
	WindowLookback Window = "lookback"
)

// rank orders windows shortest-first for deterministic tie-breaking.
func (w Window) rank() int {
	switch w {
	case WindowShort:
		return 0
	case WindowMedium:
		return 1
	case WindowLong:
		return 2
	default:
		return 3
	}
}

// Shorter reports whether w is a shorter window label than other.
func (w Window) Shorter(other Window) bool {
	return w.rank() < other.rank()
}

// RawRow is one unnormalized observation as supplied by an input
// collaborator (CSV reader, price-history store, API client). Both fields
// are strings because formats vary by source; the normalizer interprets
// them.
type RawRow struct {
	Timestamp string
	Price     string
}

// PricePoint is one normalized observation: probability-scale price in
// [0, 1] at an instant. Immutable once created.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// MarketSeries is the normalized, ascending-time price series for one
// market. It is built once by the normalizer and only read afterwards.
type MarketSeries struct {
	MarketID string
	Source   Source
	Points   []PricePoint
}

// Span returns the time covered from first to last point.
func (s *MarketSeries) Span() time.Duration {
	if len(s.Points) < 2 {
		return 0
	}
	return s.Points[len(s.Points)-1].Timestamp.Sub(s.Points[0].Timestamp)
}

// Signal is one detected, classified price movement. Signals are never
// mutated after creation; deduplication selects between them.
type Signal struct {
	ID         string     `json:"id,omitempty"`
	MarketID   string     `json:"market_id"`
	Source     Source     `json:"source"`
	Kind       Kind       `json:"kind"`
	Rapid      bool       `json:"rapid"`
	Severity   Severity   `json:"severity"`
	Direction  Direction  `json:"direction"`
	Window     Window     `json:"window"`
	From       PricePoint `json:"from"`
	To         PricePoint `json:"to"`
	DeltaAbs   float64    `json:"delta_abs"`
	DeltaRel   float64    `json:"delta_rel"`
	DetectedAt time.Time  `json:"detected_at"`
}

// Validate checks signal field constraints before persistence.
func (s *Signal) Validate() error {
	if s.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	switch s.Source {
	case SourcePolymarket, SourceKalshi, SourceCSV:
	default:
		return fmt.Errorf("invalid source %q", s.Source)
	}
	switch s.Kind {
	case KindAbsolute, KindRelative:
	default:
		return fmt.Errorf("invalid kind %q", s.Kind)
	}
	switch s.Severity {
	case SeverityModerate, SeverityLarge:
	default:
		return fmt.Errorf("invalid severity %q", s.Severity)
	}
	if s.From.Price < 0 || s.From.Price > 1 {
		return errors.New("from price must be between 0.0 and 1.0")
	}
	if s.To.Price < 0 || s.To.Price > 1 {
		return errors.New("to price must be between 0.0 and 1.0")
	}
	if s.To.Timestamp.Before(s.From.Timestamp) {
		return errors.New("to timestamp must not precede from timestamp")
	}
	return nil
}
