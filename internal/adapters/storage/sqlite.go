package storage

// sqlite.go — audit log idempotente de trades sobre SQLite.
//
// Estrategia:
//   - `markets`: una fila por mercado (UPSERT). `first_seen` se escribe una
//     vez y nunca se pisa; `last_updated` avanza en cada upsert.
//   - `trades`: append-only. El trade_id es un fingerprint determinista de
//     (asset_id, timestamp, price, size) — entregar el mismo trade por
//     stream y por backfill colapsa a una sola fila vía INSERT OR IGNORE.
//   - Timestamps como TEXT UTC de ancho fijo (milisegundos): el orden
//     lexicográfico coincide con el cronológico, así los índices sirven
//     para range queries [start, end).
//   - Single-writer: SQLite con una sola conexión, sin locking adicional
//     en el proceso.

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alejandrodnm/polyticks/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Metadata de mercados binarios
CREATE TABLE IF NOT EXISTS markets (
    market_id    TEXT PRIMARY KEY,
    question     TEXT NOT NULL,
    outcome_up   TEXT,
    outcome_down TEXT,
    token_up     TEXT NOT NULL,
    token_down   TEXT NOT NULL,
    created_at   TEXT,
    closed       INTEGER NOT NULL DEFAULT 0,
    closed_time  TEXT,
    first_seen   TEXT NOT NULL,
    last_updated TEXT NOT NULL
);

-- Tick data individual, deduplicada por fingerprint
CREATE TABLE IF NOT EXISTS trades (
    trade_id     TEXT PRIMARY KEY,
    market_id    TEXT NOT NULL REFERENCES markets(market_id),
    asset_id     TEXT NOT NULL,
    side         TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
    outcome      TEXT,
    price        REAL NOT NULL,
    size         REAL NOT NULL,
    fee_rate_bps INTEGER,
    timestamp    TEXT NOT NULL,
    source       TEXT NOT NULL CHECK (source IN ('stream', 'backfill')),
    recorded_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_market    ON trades(market_id);
CREATE INDEX IF NOT EXISTS idx_trades_asset     ON trades(asset_id);
CREATE INDEX IF NOT EXISTS idx_trades_ts        ON trades(timestamp);
CREATE INDEX IF NOT EXISTS idx_trades_market_ts ON trades(market_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_markets_closed   ON markets(closed);
`

// tsLayout es el formato de todos los timestamps persistidos. Ancho fijo
// con milisegundos y siempre UTC — imprescindible para que el orden
// lexicográfico del TEXT coincida con el temporal.
const tsLayout = "2006-01-02T15:04:05.000Z"

// SQLiteStore implementa ports.TickStore usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// MarketSummary son las estadísticas agregadas de un mercado,
// calculadas en SQL, no iterando filas en la aplicación.
type MarketSummary struct {
	TotalTrades int64
	TotalVolume float64
	OldestTrade time.Time // zero si no hay trades
	NewestTrade time.Time
	Sources     map[string]int64 // source → count
}

// QueryOpts acota una query de trades. Start es inclusivo, End exclusivo
// (misma convención de fechas que la API de mercados). Los campos zero
// no filtran.
type QueryOpts struct {
	Start   time.Time
	End     time.Time
	Outcome string // solo aplica a queries por mercado
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada y aplica
// el schema. Crea el directorio padre si hace falta.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage.NewSQLiteStore: mkdir %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// tradeFingerprint deriva el trade_id determinista. Price y size se
// renderizan a 6 decimales fijos: la misma codificación sin importar si
// el valor llegó como string del websocket o como número de la Data API.
func tradeFingerprint(assetID string, ts time.Time, price, size float64) string {
	key := fmt.Sprintf("%s_%s_%.6f_%.6f", assetID, ts.UTC().Format(tsLayout), price, size)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// UpsertMarket inserta o actualiza la metadata de un mercado.
// first_seen solo se escribe en el insert inicial — el ON CONFLICT no lo
// toca. last_updated siempre se pone a now.
func (s *SQLiteStore) UpsertMarket(ctx context.Context, m domain.Market) error {
	now := time.Now().UTC().Format(tsLayout)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets
			(market_id, question, outcome_up, outcome_down, token_up, token_down,
			 created_at, closed, closed_time, first_seen, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			question     = excluded.question,
			outcome_up   = excluded.outcome_up,
			outcome_down = excluded.outcome_down,
			token_up     = excluded.token_up,
			token_down   = excluded.token_down,
			created_at   = excluded.created_at,
			closed       = excluded.closed,
			closed_time  = excluded.closed_time,
			last_updated = excluded.last_updated
	`,
		m.ID, m.Question, m.OutcomeUp, m.OutcomeDown, m.TokenUp, m.TokenDown,
		m.CreatedAt, boolToInt(m.Closed), m.ClosedTime,
		now, // first_seen: ignorado en ON CONFLICT (no se sobreescribe)
		now, // last_updated
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertMarket: %s: %w", m.ID, err)
	}
	return nil
}

// InsertTrade inserta un trade si no existe ya uno lógicamente idéntico.
// Devuelve true si escribió una fila nueva, false si era un duplicado.
func (s *SQLiteStore) InsertTrade(ctx context.Context, t domain.Trade) (bool, error) {
	tradeID := tradeFingerprint(t.AssetID, t.Timestamp, t.Price, t.Size)

	recordedAt := t.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	var fee any
	if t.FeeRateBPS != nil {
		fee = *t.FeeRateBPS
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(trade_id, market_id, asset_id, side, outcome,
			 price, size, fee_rate_bps, timestamp, source, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tradeID, t.MarketID, t.AssetID, t.Side, t.Outcome,
		t.Price, t.Size, fee,
		t.Timestamp.UTC().Format(tsLayout),
		t.Source,
		recordedAt.Format(tsLayout),
	)
	if err != nil {
		return false, fmt.Errorf("storage.InsertTrade: %s: %w", tradeID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.InsertTrade: rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertBatch aplica InsertTrade por item. El fallo de un item se loguea
// y no revierte los anteriores. Devuelve cuántas filas nuevas escribió.
func (s *SQLiteStore) InsertBatch(ctx context.Context, trades []domain.Trade) (int, error) {
	inserted := 0
	for _, t := range trades {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		ok, err := s.InsertTrade(ctx, t)
		if err != nil {
			slog.Warn("batch insert: trade failed, continuing",
				"asset", shortID(t.AssetID),
				"err", err,
			)
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// TradesByMarket devuelve los trades de un mercado ordenados por
// timestamp ascendente, con filtros opcionales de rango y outcome.
func (s *SQLiteStore) TradesByMarket(ctx context.Context, marketID string, opts QueryOpts) ([]domain.Trade, error) {
	query := `SELECT market_id, asset_id, side, outcome, price, size,
	                 fee_rate_bps, timestamp, source, recorded_at
	          FROM trades WHERE market_id = ?`
	args := []any{marketID}

	query, args = appendRange(query, args, opts)
	if opts.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, opts.Outcome)
	}
	query += " ORDER BY timestamp ASC"

	return s.queryTrades(ctx, "storage.TradesByMarket", query, args)
}

// TradesByToken devuelve los trades de un asset ordenados por
// timestamp ascendente, con filtro opcional de rango.
func (s *SQLiteStore) TradesByToken(ctx context.Context, assetID string, opts QueryOpts) ([]domain.Trade, error) {
	query := `SELECT market_id, asset_id, side, outcome, price, size,
	                 fee_rate_bps, timestamp, source, recorded_at
	          FROM trades WHERE asset_id = ?`
	args := []any{assetID}

	query, args = appendRange(query, args, opts)
	query += " ORDER BY timestamp ASC"

	return s.queryTrades(ctx, "storage.TradesByToken", query, args)
}

// Summary calcula las estadísticas agregadas de un mercado en SQL.
func (s *SQLiteStore) Summary(ctx context.Context, marketID string) (MarketSummary, error) {
	summary := MarketSummary{Sources: make(map[string]int64)}

	var volume sql.NullFloat64
	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(size), MIN(timestamp), MAX(timestamp)
		FROM trades WHERE market_id = ?
	`, marketID).Scan(&summary.TotalTrades, &volume, &oldest, &newest)
	if err != nil {
		return summary, fmt.Errorf("storage.Summary: %s: %w", marketID, err)
	}
	summary.TotalVolume = volume.Float64
	if oldest.Valid {
		summary.OldestTrade, _ = time.Parse(tsLayout, oldest.String)
	}
	if newest.Valid {
		summary.NewestTrade, _ = time.Parse(tsLayout, newest.String)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*) FROM trades WHERE market_id = ? GROUP BY source
	`, marketID)
	if err != nil {
		return summary, fmt.Errorf("storage.Summary: sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return summary, fmt.Errorf("storage.Summary: scan source: %w", err)
		}
		summary.Sources[source] = count
	}
	return summary, rows.Err()
}

// csvHeader es el orden fijo de columnas del export.
var csvHeader = []string{
	"timestamp", "market_id", "asset_id", "side", "outcome",
	"price", "size", "value", "fee_rate_bps", "source",
}

// ExportCSV escribe todos los trades de un mercado, ascendentes por
// timestamp, al archivo dado. Devuelve cuántas filas exportó; cero filas
// no es un error — queda un archivo solo con header.
func (s *SQLiteStore) ExportCSV(ctx context.Context, marketID, path string) (int, error) {
	trades, err := s.TradesByMarket(ctx, marketID, QueryOpts{})
	if err != nil {
		return 0, fmt.Errorf("storage.ExportCSV: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("storage.ExportCSV: create %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("storage.ExportCSV: write header: %w", err)
	}

	for _, t := range trades {
		fee := ""
		if t.FeeRateBPS != nil {
			fee = strconv.FormatInt(*t.FeeRateBPS, 10)
		}
		record := []string{
			t.Timestamp.UTC().Format(tsLayout),
			t.MarketID,
			t.AssetID,
			t.Side,
			t.Outcome,
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.Size, 'f', -1, 64),
			strconv.FormatFloat(t.Value(), 'f', 4, 64),
			fee,
			t.Source,
		}
		if err := w.Write(record); err != nil {
			return 0, fmt.Errorf("storage.ExportCSV: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("storage.ExportCSV: flush: %w", err)
	}
	return len(trades), nil
}

// GetMarket devuelve la metadata de un mercado. ok es false si no existe.
func (s *SQLiteStore) GetMarket(ctx context.Context, marketID string) (domain.Market, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT market_id, question, outcome_up, outcome_down, token_up, token_down,
		       created_at, closed, closed_time, first_seen, last_updated
		FROM markets WHERE market_id = ?
	`, marketID)

	m, err := scanMarket(row)
	if err == sql.ErrNoRows {
		return domain.Market{}, false, nil
	}
	if err != nil {
		return domain.Market{}, false, fmt.Errorf("storage.GetMarket: %s: %w", marketID, err)
	}
	return m, true, nil
}

// ListMarkets devuelve los mercados conocidos, los más recientes primero.
// closed nil devuelve todos; si no, filtra por estado.
func (s *SQLiteStore) ListMarkets(ctx context.Context, closed *bool) ([]domain.Market, error) {
	query := `SELECT market_id, question, outcome_up, outcome_down, token_up, token_down,
	                 created_at, closed, closed_time, first_seen, last_updated
	          FROM markets`
	var args []any
	if closed != nil {
		query += " WHERE closed = ?"
		args = append(args, boolToInt(*closed))
	}
	query += " ORDER BY last_updated DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListMarkets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListMarkets: scan: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// LatestTradeTimestamp devuelve el timestamp del trade más reciente del
// asset. ok es false si no hay trades — útil para retomar backfills.
func (s *SQLiteStore) LatestTradeTimestamp(ctx context.Context, assetID string) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM trades WHERE asset_id = ?`, assetID,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("storage.LatestTradeTimestamp: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(tsLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("storage.LatestTradeTimestamp: parse %q: %w", latest.String, err)
	}
	return ts, true, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// appendRange añade los filtros [start, end) a una query de trades.
func appendRange(query string, args []any, opts QueryOpts) (string, []any) {
	if !opts.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.Start.UTC().Format(tsLayout))
	}
	if !opts.End.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, opts.End.UTC().Format(tsLayout))
	}
	return query, args
}

// queryTrades ejecuta una query de trades y escanea las filas.
func (s *SQLiteStore) queryTrades(ctx context.Context, op, query string, args []any) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var fee sql.NullInt64
		var ts, recordedAt string

		if err := rows.Scan(
			&t.MarketID, &t.AssetID, &t.Side, &t.Outcome,
			&t.Price, &t.Size, &fee, &ts, &t.Source, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}

		if fee.Valid {
			v := fee.Int64
			t.FeeRateBPS = &v
		}
		t.Timestamp, _ = time.Parse(tsLayout, ts)
		t.RecordedAt, _ = time.Parse(tsLayout, recordedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// scanner cubre tanto *sql.Row como *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanMarket escanea una fila de markets a domain.Market.
func scanMarket(row scanner) (domain.Market, error) {
	var m domain.Market
	var closed int
	var outcomeUp, outcomeDown, createdAt, closedTime sql.NullString
	var firstSeen, lastUpdated string

	if err := row.Scan(
		&m.ID, &m.Question, &outcomeUp, &outcomeDown, &m.TokenUp, &m.TokenDown,
		&createdAt, &closed, &closedTime, &firstSeen, &lastUpdated,
	); err != nil {
		return m, err
	}

	m.OutcomeUp = outcomeUp.String
	m.OutcomeDown = outcomeDown.String
	m.CreatedAt = createdAt.String
	m.Closed = closed == 1
	m.ClosedTime = closedTime.String
	m.FirstSeen, _ = time.Parse(tsLayout, firstSeen)
	m.LastUpdated, _ = time.Parse(tsLayout, lastUpdated)
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// shortID acorta un asset id para logs.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
