// Package ingest reads raw price observations from CSV files, resolving
// timestamp and price columns by name sniffing.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ambrusq/marketsig/internal/logger"
	"github.com/ambrusq/marketsig/internal/models"
)

// Column candidates tried in order, after any caller preference.
var (
	priceCandidates     = []string{"price", "price_close", "close", "price_mean"}
	timestampCandidates = []string{"timestamp", "datetime", "time", "date"}
)

// Columns is the resolved pair of header names for one file.
type Columns struct {
	Timestamp string
	Price     string
}

// ResolveColumns finds the timestamp and price columns in a header row,
// case-insensitively. Caller preferences are tried first, then the
// standard candidates.
func ResolveColumns(headers []string, preferTimestamp, preferPrice string) (Columns, error) {
	byLower := make(map[string]string, len(headers))
	for _, h := range headers {
		byLower[strings.ToLower(strings.TrimSpace(h))] = h
	}

	find := func(prefer string, candidates []string) (string, bool) {
		if prefer != "" {
			if name, ok := byLower[strings.ToLower(prefer)]; ok {
				return name, true
			}
		}
		for _, c := range candidates {
			if name, ok := byLower[c]; ok {
				return name, true
			}
		}
		return "", false
	}

	tsCol, ok := find(preferTimestamp, timestampCandidates)
	if !ok {
		return Columns{}, fmt.Errorf("no timestamp column found (headers: %v)", headers)
	}
	priceCol, ok := find(preferPrice, priceCandidates)
	if !ok {
		return Columns{}, fmt.Errorf("no price column found (headers: %v)", headers)
	}
	return Columns{Timestamp: tsCol, Price: priceCol}, nil
}

// ReadFile reads a CSV file into raw rows using sniffed columns. Rows
// with missing fields are skipped with a warning; interpretation of the
// values is left to the detection pipeline.
func ReadFile(path, preferTimestamp, preferPrice string) ([]models.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()
	return Read(f, preferTimestamp, preferPrice)
}

// Read reads CSV content from r. The first record must be a header row.
func Read(r io.Reader, preferTimestamp, preferPrice string) ([]models.RawRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate ragged rows, skip them below

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols, err := ResolveColumns(headers, preferTimestamp, preferPrice)
	if err != nil {
		return nil, err
	}
	logger.Debug("Using CSV columns: timestamp=%s, price=%s", cols.Timestamp, cols.Price)

	tsIdx, priceIdx := -1, -1
	for i, h := range headers {
		switch h {
		case cols.Timestamp:
			tsIdx = i
		case cols.Price:
			priceIdx = i
		}
	}

	var rows []models.RawRow
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}
		if tsIdx >= len(record) || priceIdx >= len(record) {
			logger.Warn("Skipping CSV row %d: missing fields", line)
			continue
		}
		rows = append(rows, models.RawRow{
			Timestamp: record[tsIdx],
			Price:     record[priceIdx],
		})
	}
	return rows, nil
}
