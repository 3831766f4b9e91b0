package server

import (
	"errors"
	"fmt"
)

var errCollectorDisabled = errors.New("price collection is not configured")

func errMarketNotTracked(marketID string) error {
	return fmt.Errorf("market %q is not tracked", marketID)
}

func errBadLimit(raw string) error {
	return fmt.Errorf("invalid limit %q", raw)
}

func errBadLookback(raw string) error {
	return fmt.Errorf("invalid lookback_hours %q", raw)
}
