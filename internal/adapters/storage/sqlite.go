package storage

// sqlite.go: persistencia del copybot.
//
// Tablas:
//   - `trades`: historial de trades por wallet. INSERT OR IGNORE por tx signature,
//     así los re-fetch solapados no duplican filas.
//   - `positions`: UNA fila por posición (UPSERT). Abierta o cerrada; las cerradas
//     son el historial de outcomes que alimenta Kelly y el componente histórico.
//   - `breaker`: siempre 1 fila con el estado del circuit breaker.
//   - `daily_pnl`: PnL realizado por día UTC.
//   - Prune automático al arrancar: trades > 90d, daily_pnl > 1 año.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/copybot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id        TEXT PRIMARY KEY,
    wallet    TEXT NOT NULL,
    asset     TEXT NOT NULL,
    side      TEXT NOT NULL,
    amount    REAL NOT NULL DEFAULT 0,
    price     REAL NOT NULL DEFAULT 0,
    ts        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    id            TEXT PRIMARY KEY,
    asset         TEXT    NOT NULL,
    kind          TEXT    NOT NULL,
    confidence    REAL    NOT NULL DEFAULT 0,
    wallets       TEXT    NOT NULL DEFAULT '',
    size_usd      REAL    NOT NULL DEFAULT 0,
    entry_price   REAL    NOT NULL DEFAULT 0,
    entry_time    TEXT    NOT NULL,
    stop_loss     REAL    NOT NULL DEFAULT 0,
    take_profit   REAL    NOT NULL DEFAULT 0,
    peak_price    REAL    NOT NULL DEFAULT 0,
    current_price REAL    NOT NULL DEFAULT 0,
    status        TEXT    NOT NULL,
    exit_price    REAL    NOT NULL DEFAULT 0,
    exit_time     TEXT    NOT NULL DEFAULT '',
    exit_trigger  TEXT    NOT NULL DEFAULT '',
    realized_pnl  REAL    NOT NULL DEFAULT 0,
    entry_sig     TEXT    NOT NULL DEFAULT '',
    exit_sig      TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS breaker (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    status             TEXT    NOT NULL,
    reason             TEXT    NOT NULL DEFAULT '',
    tripped_at         TEXT    NOT NULL DEFAULT '',
    cooldown_until     TEXT    NOT NULL DEFAULT '',
    manual             INTEGER NOT NULL DEFAULT 0,
    consecutive_losses INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS daily_pnl (
    date       TEXT PRIMARY KEY,
    pnl        REAL    NOT NULL DEFAULT 0,
    closed     INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_wallet_ts ON trades(wallet, ts);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_exit   ON positions(exit_time);
`

const (
	retentionTrades = 90 * 24 * time.Hour
	retentionDaily  = 365 * 24 * time.Hour
)

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada, aplica el
// schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background(), time.Now().UTC())
	return s, nil
}

// SaveTrades inserta los trades nuevos; los ya guardados se ignoran.
func (s *SQLiteStorage) SaveTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveTrades: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO trades (id, wallet, asset, side, amount, price, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveTrades: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx,
			t.ID, t.Wallet, t.Asset, string(t.Side), t.Amount, t.Price, fmtTime(t.Timestamp),
		); err != nil {
			return fmt.Errorf("storage.SaveTrades: insert %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveTrades: commit: %w", err)
	}
	return nil
}

// LoadTrades devuelve los trades de una wallet desde `since`, ordenados por tiempo.
func (s *SQLiteStorage) LoadTrades(ctx context.Context, wallet string, since time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, asset, side, amount, price, ts
		FROM trades
		WHERE wallet = ? AND ts >= ?
		ORDER BY ts ASC, id ASC
	`, wallet, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadTrades: query: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, ts string
		if err := rows.Scan(&t.ID, &t.Wallet, &t.Asset, &side, &t.Amount, &t.Price, &ts); err != nil {
			return nil, fmt.Errorf("storage.LoadTrades: scan row: %w", err)
		}
		t.Side = domain.Side(side)
		t.Timestamp = parseTime(ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SavePosition hace upsert de la posición completa.
func (s *SQLiteStorage) SavePosition(ctx context.Context, p domain.Position) error {
	trigger := ""
	if p.ExitTrigger != domain.TriggerNone {
		trigger = p.ExitTrigger.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(id, asset, kind, confidence, wallets, size_usd, entry_price, entry_time,
			 stop_loss, take_profit, peak_price, current_price, status, exit_price,
			 exit_time, exit_trigger, realized_pnl, entry_sig, exit_sig)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			peak_price    = excluded.peak_price,
			current_price = excluded.current_price,
			stop_loss     = excluded.stop_loss,
			take_profit   = excluded.take_profit,
			status        = excluded.status,
			exit_price    = excluded.exit_price,
			exit_time     = excluded.exit_time,
			exit_trigger  = excluded.exit_trigger,
			realized_pnl  = excluded.realized_pnl,
			exit_sig      = excluded.exit_sig
	`,
		p.ID,
		p.Asset,
		p.Kind.String(),
		p.Confidence,
		strings.Join(p.Wallets, ","),
		p.SizeUSD,
		p.EntryPrice,
		fmtTime(p.EntryTime),
		p.StopLoss,
		p.TakeProfit,
		p.PeakPrice,
		p.CurrentPrice,
		string(p.Status),
		p.ExitPrice,
		fmtTime(p.ExitTime),
		trigger,
		p.RealizedPnL,
		p.EntrySignature,
		p.ExitSignature,
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: upsert %s: %w", p.ID, err)
	}
	return nil
}

// LoadOpenPositions devuelve las posiciones abiertas.
func (s *SQLiteStorage) LoadOpenPositions(ctx context.Context) ([]domain.Position, error) {
	pos, err := s.queryPositions(ctx, `WHERE status = ? ORDER BY entry_time ASC`, string(domain.PositionOpen))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadOpenPositions: %w", err)
	}
	return pos, nil
}

// LoadOutcomes devuelve el resultado de cada posición cerrada, la más antigua
// primero.
func (s *SQLiteStorage) LoadOutcomes(ctx context.Context) ([]domain.Outcome, error) {
	closed, err := s.queryPositions(ctx, `WHERE status = ? ORDER BY exit_time ASC`, string(domain.PositionClosed))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadOutcomes: %w", err)
	}
	out := make([]domain.Outcome, 0, len(closed))
	for _, p := range closed {
		out = append(out, domain.OutcomeOf(p))
	}
	return out, nil
}

// SaveCircuitBreaker guarda el estado del breaker (fila única).
func (s *SQLiteStorage) SaveCircuitBreaker(ctx context.Context, cb domain.CircuitBreaker) error {
	manual := 0
	if cb.Manual {
		manual = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breaker (id, status, reason, tripped_at, cooldown_until, manual, consecutive_losses)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status             = excluded.status,
			reason             = excluded.reason,
			tripped_at         = excluded.tripped_at,
			cooldown_until     = excluded.cooldown_until,
			manual             = excluded.manual,
			consecutive_losses = excluded.consecutive_losses
	`, string(cb.Status), cb.Reason, fmtTime(cb.TrippedAt), fmtTime(cb.CooldownUntil), manual, cb.ConsecutiveLosses)
	if err != nil {
		return fmt.Errorf("storage.SaveCircuitBreaker: %w", err)
	}
	return nil
}

// LoadCircuitBreaker devuelve el breaker guardado, o uno armado si no hay fila.
func (s *SQLiteStorage) LoadCircuitBreaker(ctx context.Context) (domain.CircuitBreaker, error) {
	var cb domain.CircuitBreaker
	var status, tripped, until string
	var manual int
	err := s.db.QueryRowContext(ctx, `
		SELECT status, reason, tripped_at, cooldown_until, manual, consecutive_losses
		FROM breaker WHERE id = 1
	`).Scan(&status, &cb.Reason, &tripped, &until, &manual, &cb.ConsecutiveLosses)
	if err == sql.ErrNoRows {
		return domain.CircuitBreaker{Status: domain.BreakerArmed}, nil
	}
	if err != nil {
		return domain.CircuitBreaker{}, fmt.Errorf("storage.LoadCircuitBreaker: %w", err)
	}
	cb.Status = domain.BreakerStatus(status)
	cb.TrippedAt = parseTime(tripped)
	cb.CooldownUntil = parseTime(until)
	cb.Manual = manual == 1
	return cb, nil
}

// SaveDailyPnL guarda el PnL realizado de un día UTC.
func (s *SQLiteStorage) SaveDailyPnL(ctx context.Context, date string, pnl float64, closed int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_pnl (date, pnl, closed, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			pnl        = excluded.pnl,
			closed     = excluded.closed,
			updated_at = excluded.updated_at
	`, date, pnl, closed, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("storage.SaveDailyPnL: %s: %w", date, err)
	}
	return nil
}

// DailyPnL es una fila de daily_pnl.
type DailyPnL struct {
	Date   string
	PnL    float64
	Closed int
}

// LoadDailyPnL devuelve los últimos `days` días con PnL guardado, el más
// reciente primero.
func (s *SQLiteStorage) LoadDailyPnL(ctx context.Context, days int) ([]DailyPnL, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, pnl, closed FROM daily_pnl ORDER BY date DESC LIMIT ?`, days)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadDailyPnL: query: %w", err)
	}
	defer rows.Close()

	var out []DailyPnL
	for rows.Next() {
		var d DailyPnL
		if err := rows.Scan(&d.Date, &d.PnL, &d.Closed); err != nil {
			return nil, fmt.Errorf("storage.LoadDailyPnL: scan row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func (s *SQLiteStorage) queryPositions(ctx context.Context, where string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset, kind, confidence, wallets, size_usd, entry_price, entry_time,
		       stop_loss, take_profit, peak_price, current_price, status, exit_price,
		       exit_time, exit_trigger, realized_pnl, entry_sig, exit_sig
		FROM positions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var kind, wallets, entryTime, status, exitTime, trigger string
		if err := rows.Scan(
			&p.ID, &p.Asset, &kind, &p.Confidence, &wallets, &p.SizeUSD, &p.EntryPrice, &entryTime,
			&p.StopLoss, &p.TakeProfit, &p.PeakPrice, &p.CurrentPrice, &status, &p.ExitPrice,
			&exitTime, &trigger, &p.RealizedPnL, &p.EntrySignature, &p.ExitSignature,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		p.Kind = parseKind(kind)
		if wallets != "" {
			p.Wallets = strings.Split(wallets, ",")
		}
		p.EntryTime = parseTime(entryTime)
		p.Status = domain.PositionStatus(status)
		p.ExitTime = parseTime(exitTime)
		p.ExitTrigger = domain.ParseExitTrigger(trigger)
		out = append(out, p)
	}
	return out, rows.Err()
}

// pruneOld elimina datos antiguos para mantener la DB ligera. Las posiciones
// no se borran: son el historial de outcomes.
func (s *SQLiteStorage) pruneOld(ctx context.Context, now time.Time) {
	s.db.ExecContext(ctx, `DELETE FROM trades WHERE ts < ?`, fmtTime(now.Add(-retentionTrades)))
	s.db.ExecContext(ctx, `DELETE FROM daily_pnl WHERE date < ?`, now.Add(-retentionDaily).Format("2006-01-02"))
}

// Los timestamps se guardan como RFC3339 UTC con nanosegundos de ancho fijo,
// así el orden lexicográfico coincide con el cronológico.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseKind(s string) domain.SignalKind {
	for _, k := range []domain.SignalKind{domain.KindWalletConvergence, domain.KindHotWalletActivity, domain.KindChartPattern} {
		if k.String() == s {
			return k
		}
	}
	return domain.KindWalletConvergence
}
