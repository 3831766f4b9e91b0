// Package storage provides SQLite-backed persistence for tracked
// markets, price history, and detected signals.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ambrusq/marketsig/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db         *sql.DB
	maxSignals int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/marketsig/data.db.
func New(maxSignals int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "marketsig", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxSignals: maxSignals}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracked_markets (
			market_id TEXT PRIMARY KEY,
			source    TEXT NOT NULL CHECK (source IN ('polymarket', 'kalshi', 'csv')),
			active    INTEGER NOT NULL DEFAULT 1,
			added_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			market_id TEXT NOT NULL,
			ts        INTEGER NOT NULL,
			price     REAL NOT NULL,
			PRIMARY KEY (market_id, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS market_signals (
			id          TEXT PRIMARY KEY,
			market_id   TEXT NOT NULL,
			source      TEXT NOT NULL,
			kind        TEXT NOT NULL CHECK (kind IN ('absolute', 'relative')),
			rapid       INTEGER NOT NULL DEFAULT 0,
			severity    TEXT NOT NULL CHECK (severity IN ('moderate', 'large')),
			direction   TEXT NOT NULL CHECK (direction IN ('up', 'down', 'flat')),
			window_label TEXT NOT NULL,
			from_ts     INTEGER NOT NULL,
			from_price  REAL NOT NULL,
			to_ts       INTEGER NOT NULL,
			to_price    REAL NOT NULL,
			delta_abs   REAL NOT NULL,
			delta_rel   REAL NOT NULL,
			detected_at INTEGER NOT NULL,
			created_at  INTEGER NOT NULL,
			UNIQUE (market_id, kind, to_ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_ts ON price_history(market_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_market ON market_signals(market_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_to_ts ON market_signals(to_ts DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// TrackedMarket is one market registered for batch detection runs.
type TrackedMarket struct {
	MarketID string        `json:"market_id"`
	Source   models.Source `json:"source"`
	Active   bool          `json:"active"`
}

// TrackMarket registers (or re-activates) a market for batch runs.
func (s *Storage) TrackMarket(marketID string, source models.Source) error {
	if marketID == "" {
		return fmt.Errorf("market ID must not be empty")
	}
	_, err := s.db.Exec(`
		INSERT INTO tracked_markets (market_id, source, active, added_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (market_id) DO UPDATE SET source = excluded.source, active = 1`,
		marketID, string(source), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to track market: %w", err)
	}
	return nil
}

// DeactivateMarket keeps the market's history but excludes it from
// future batch runs.
func (s *Storage) DeactivateMarket(marketID string) error {
	res, err := s.db.Exec(`UPDATE tracked_markets SET active = 0 WHERE market_id = ?`, marketID)
	if err != nil {
		return fmt.Errorf("failed to deactivate market: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("market not found: %s", marketID)
	}
	return nil
}

// ActiveMarkets returns every market currently registered for batch runs.
func (s *Storage) ActiveMarkets() ([]TrackedMarket, error) {
	rows, err := s.db.Query(`
		SELECT market_id, source, active FROM tracked_markets
		WHERE active = 1 ORDER BY market_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked markets: %w", err)
	}
	defer rows.Close()

	var markets []TrackedMarket
	for rows.Next() {
		var m TrackedMarket
		var src string
		var active int
		if err := rows.Scan(&m.MarketID, &src, &active); err != nil {
			return nil, fmt.Errorf("failed to scan tracked market: %w", err)
		}
		m.Source = models.Source(src)
		m.Active = active != 0
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// AddPrice stores one raw price observation. The value is kept exactly as
// collected (Kalshi cents included); scaling happens in the detector.
func (s *Storage) AddPrice(marketID string, ts time.Time, price float64) error {
	_, err := s.db.Exec(`
		INSERT INTO price_history (market_id, ts, price) VALUES (?, ?, ?)
		ON CONFLICT (market_id, ts) DO UPDATE SET price = excluded.price`,
		marketID, ts.Unix(), price,
	)
	if err != nil {
		return fmt.Errorf("failed to insert price: %w", err)
	}
	return nil
}

// maxHistoryRows caps one PriceHistory load. When a market holds more
// rows in the queried range, the newest ones are kept: signals live at
// the recent end of the series.
const maxHistoryRows = 10000

// PriceHistory returns raw rows for one market at or after since, oldest
// first, capped at the newest maxHistoryRows rows. A zero since returns
// all available data.
func (s *Storage) PriceHistory(marketID string, since time.Time) ([]models.RawRow, error) {
	query := `SELECT ts, price FROM price_history WHERE market_id = ?`
	args := []any{marketID}
	if !since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, since.Unix())
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, maxHistoryRows)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var raw []models.RawRow
	for rows.Next() {
		var ts int64
		var price float64
		if err := rows.Scan(&ts, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		raw = append(raw, models.RawRow{
			Timestamp: strconv.FormatInt(ts, 10),
			Price:     strconv.FormatFloat(price, 'f', -1, 64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The query returned newest first; the pipeline wants ascending time.
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return raw, nil
}

// SaveSignals upserts signals on their natural key (market, kind, "to"
// timestamp), making repeated runs over the same history idempotent.
// Returns the number of rows written.
func (s *Storage) SaveSignals(signals []models.Signal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixNano()
	count := 0
	for _, sig := range signals {
		if err := sig.Validate(); err != nil {
			return 0, fmt.Errorf("invalid signal: %w", err)
		}
		id := sig.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.Exec(`
			INSERT INTO market_signals
				(id, market_id, source, kind, rapid, severity, direction, window_label,
				 from_ts, from_price, to_ts, to_price, delta_abs, delta_rel,
				 detected_at, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (market_id, kind, to_ts) DO UPDATE SET
				rapid = excluded.rapid,
				severity = excluded.severity,
				direction = excluded.direction,
				window_label = excluded.window_label,
				from_ts = excluded.from_ts,
				from_price = excluded.from_price,
				to_price = excluded.to_price,
				delta_abs = excluded.delta_abs,
				delta_rel = excluded.delta_rel,
				detected_at = excluded.detected_at`,
			id, sig.MarketID, string(sig.Source), string(sig.Kind), boolToInt(sig.Rapid),
			string(sig.Severity), string(sig.Direction), string(sig.Window),
			sig.From.Timestamp.UnixNano(), sig.From.Price,
			sig.To.Timestamp.UnixNano(), sig.To.Price,
			sig.DeltaAbs, sig.DeltaRel,
			sig.DetectedAt.UnixNano(), now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert signal: %w", err)
		}
		count++
	}
	return count, tx.Commit()
}

const signalCols = `id, market_id, source, kind, rapid, severity, direction, window_label,
	from_ts, from_price, to_ts, to_price, delta_abs, delta_rel, detected_at`

// RecentSignals returns stored signals newest first. An empty marketID
// returns signals across all markets.
func (s *Storage) RecentSignals(marketID string, limit int) ([]models.Signal, error) {
	if limit < 1 {
		limit = 100
	}
	query := `SELECT ` + signalCols + ` FROM market_signals`
	args := []any{}
	if marketID != "" {
		query += ` WHERE market_id = ?`
		args = append(args, marketID)
	}
	query += ` ORDER BY to_ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		sig, err := scanSignal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, *sig)
	}
	return signals, rows.Err()
}

// RotateSignals keeps at most maxSignals newest signals by "to"
// timestamp.
func (s *Storage) RotateSignals() error {
	_, err := s.db.Exec(`
		DELETE FROM market_signals WHERE id NOT IN (
			SELECT id FROM market_signals ORDER BY to_ts DESC LIMIT ?
		)`, s.maxSignals)
	if err != nil {
		return fmt.Errorf("failed to rotate signals: %w", err)
	}
	return nil
}

func scanSignal(scan func(...any) error) (*models.Signal, error) {
	var sig models.Signal
	var source, kind, severity, direction, window string
	var rapid int
	var fromTS, toTS, detectedAt int64
	err := scan(
		&sig.ID, &sig.MarketID, &source, &kind, &rapid, &severity, &direction, &window,
		&fromTS, &sig.From.Price, &toTS, &sig.To.Price,
		&sig.DeltaAbs, &sig.DeltaRel, &detectedAt,
	)
	if err != nil {
		return nil, err
	}
	sig.Source = models.Source(source)
	sig.Kind = models.Kind(kind)
	sig.Rapid = rapid != 0
	sig.Severity = models.Severity(severity)
	sig.Direction = models.Direction(direction)
	sig.Window = models.Window(window)
	sig.From.Timestamp = time.Unix(0, fromTS).UTC()
	sig.To.Timestamp = time.Unix(0, toTS).UTC()
	sig.DetectedAt = time.Unix(0, detectedAt).UTC()
	return &sig, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
