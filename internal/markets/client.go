// Package markets fetches historical price data from prediction-market APIs.
package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/ambrusq/marketsig/internal/models"
)

// kalshiMaxCandles is the per-request candlestick limit enforced by the
// Kalshi API. Longer ranges are fetched in chunks.
const kalshiMaxCandles = 5000

// Client provides access to the Polymarket CLOB and Kalshi market APIs.
type Client struct {
	polymarketURL string
	kalshiURL     string
	httpClient    *http.Client
	limiter       *rate.Limiter
	maxRetries    int
}

// NewClient creates a new history client. ratePerSecond throttles all
// outgoing requests across both upstreams.
func NewClient(polymarketURL, kalshiURL string, timeout time.Duration, ratePerSecond float64, maxRetries int) *Client {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	// A negative value would wrap when converted for the retry policy.
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		polymarketURL: polymarketURL,
		kalshiURL:     kalshiURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		maxRetries: maxRetries,
	}
}

// FetchHistory retrieves price history for a market from its source API.
// A non-positive lookback fetches all available history.
func (c *Client) FetchHistory(ctx context.Context, marketID string, source models.Source, lookback time.Duration) ([]models.PricePoint, error) {
	switch source {
	case models.SourcePolymarket:
		return c.FetchPolymarketHistory(ctx, marketID, lookback)
	case models.SourceKalshi:
		return c.FetchKalshiHistory(ctx, marketID, lookback)
	default:
		return nil, fmt.Errorf("source %q has no history API", source)
	}
}

// polymarketHistory is the response from the CLOB prices-history endpoint.
type polymarketHistory struct {
	History []struct {
		T int64   `json:"t"`
		P float64 `json:"p"`
	} `json:"history"`
}

// FetchPolymarketHistory retrieves price history for a CLOB token.
func (c *Client) FetchPolymarketHistory(ctx context.Context, tokenID string, lookback time.Duration) ([]models.PricePoint, error) {
	u, err := url.Parse(c.polymarketURL + "/prices-history")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("market", tokenID)
	q.Set("fidelity", "1")
	if lookback > 0 {
		now := time.Now().UTC()
		q.Set("startTs", fmt.Sprintf("%d", now.Add(-lookback).Unix()))
		q.Set("endTs", fmt.Sprintf("%d", now.Unix()))
	} else {
		q.Set("interval", "max")
	}
	u.RawQuery = q.Encode()

	var hist polymarketHistory
	if err := c.getJSON(ctx, u.String(), &hist); err != nil {
		return nil, fmt.Errorf("failed to fetch polymarket history: %w", err)
	}

	points := make([]models.PricePoint, 0, len(hist.History))
	for _, h := range hist.History {
		points = append(points, models.PricePoint{
			Timestamp: time.Unix(h.T, 0).UTC(),
			Price:     h.P,
		})
	}
	return points, nil
}

// kalshiCandles is the response from the Kalshi candlesticks endpoint.
// Prices are in cents; close is preferred with mean as fallback for
// candles without trades.
type kalshiCandles struct {
	Candlesticks []struct {
		EndPeriodTS int64 `json:"end_period_ts"`
		Price       struct {
			Close *float64 `json:"close"`
			Mean  *float64 `json:"mean"`
		} `json:"price"`
	} `json:"candlesticks"`
}

// FetchKalshiHistory retrieves minute candlesticks for a Kalshi market,
// chunking requests to stay under the API's candle limit. The series
// ticker is derived from the market ticker.
func (c *Client) FetchKalshiHistory(ctx context.Context, marketTicker string, lookback time.Duration) ([]models.PricePoint, error) {
	end := time.Now().UTC().Unix()
	var start int64
	if lookback > 0 {
		start = end - int64(lookback.Seconds())
	} else {
		// The API rejects open-ended ranges, so cap unbounded
		// fetches at 90 days of minute candles.
		start = end - 90*24*3600
	}

	series := SeriesTicker(marketTicker)
	chunk := int64(kalshiMaxCandles * 60)

	var points []models.PricePoint
	for cur := start; cur < end; cur += chunk {
		curEnd := cur + chunk
		if curEnd > end {
			curEnd = end
		}

		batch, err := c.fetchKalshiChunk(ctx, series, marketTicker, cur, curEnd)
		if err != nil {
			return nil, err
		}
		points = append(points, batch...)
	}
	return points, nil
}

func (c *Client) fetchKalshiChunk(ctx context.Context, series, ticker string, startTs, endTs int64) ([]models.PricePoint, error) {
	u, err := url.Parse(fmt.Sprintf("%s/series/%s/markets/%s/candlesticks", c.kalshiURL, series, ticker))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("start_ts", fmt.Sprintf("%d", startTs))
	q.Set("end_ts", fmt.Sprintf("%d", endTs))
	q.Set("period_interval", "1")
	u.RawQuery = q.Encode()

	var resp kalshiCandles
	if err := c.getJSON(ctx, u.String(), &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch kalshi candlesticks: %w", err)
	}

	var points []models.PricePoint
	for _, candle := range resp.Candlesticks {
		price := candle.Price.Close
		if price == nil {
			price = candle.Price.Mean
		}
		if price == nil {
			continue
		}
		points = append(points, models.PricePoint{
			Timestamp: time.Unix(candle.EndPeriodTS, 0).UTC(),
			Price:     *price,
		})
	}
	return points, nil
}

// SeriesTicker derives the series ticker from a market ticker by taking
// its leading uppercase-letter prefix, e.g. "KXHIGHNY-25JUN01" -> "KXHIGHNY".
func SeriesTicker(marketTicker string) string {
	for i := 0; i < len(marketTicker); i++ {
		ch := marketTicker[i]
		if ch < 'A' || ch > 'Z' {
			return marketTicker[:i]
		}
	}
	return marketTicker
}

// getJSON performs a rate-limited GET with exponential-backoff retries
// and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, urlStr string, out interface{}) error {
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("server error: %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("unexpected status: %d", resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	return backoff.Retry(op, bo)
}
