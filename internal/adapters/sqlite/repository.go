package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dauphongxd/tradingbot/internal/domain"
	"github.com/dauphongxd/tradingbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.LedgerStore interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite ledger store.
type Config struct {
	DBPath string
	Logger ports.Logger

	// Defaults seeded into the settings table on first run only.
	InitialBalance  float64
	DefaultLeverage float64
	DefaultRisk     float64
}

// NewRepository creates a new SQLite ledger store instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the monitor and handlers.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := repo.seedDefaults(context.Background(), cfg); err != nil {
		db.Close()
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite ledger store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS open_trades (
		trade_id         TEXT PRIMARY KEY,
		symbol           TEXT NOT NULL,
		entry_price      REAL NOT NULL,
		stop_price       REAL NOT NULL,
		initial_size     REAL NOT NULL,
		remaining_size   REAL NOT NULL,
		leverage         REAL NOT NULL,
		direction        TEXT NOT NULL,
		tp_ladder        TEXT NOT NULL,
		stop_moved_to_be INTEGER NOT NULL DEFAULT 0,
		realized_pnl     REAL NOT NULL DEFAULT 0,
		opened_at        TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		trade_id     TEXT PRIMARY KEY,
		symbol       TEXT NOT NULL,
		pnl          REAL NOT NULL,
		direction    TEXT NOT NULL,
		entry_price  REAL NOT NULL,
		exit_price   REAL NOT NULL,
		close_reason TEXT NOT NULL,
		closed_at    TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_confirmations (
		request_id  TEXT PRIMARY KEY,
		symbol      TEXT NOT NULL,
		image_ref   TEXT NOT NULL,
		message_ref TEXT,
		created_at  TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_open_trades_symbol ON open_trades (symbol);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_closed_at ON trade_history (symbol, closed_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// seedDefaults writes the initial settings only when the keys do not exist
// yet, so a restart never resets the balance.
func (r *Repository) seedDefaults(ctx context.Context, cfg Config) error {
	defaults := map[string]string{
		ports.SettingBalance:      strconv.FormatFloat(cfg.InitialBalance, 'f', -1, 64),
		ports.SettingLeverage:     strconv.FormatFloat(cfg.DefaultLeverage, 'f', -1, 64),
		ports.SettingRiskPerTrade: strconv.FormatFloat(cfg.DefaultRisk, 'f', -1, 64),
	}
	for key, value := range defaults {
		if _, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- Open trades ---

const tradeColumns = `trade_id, symbol, entry_price, stop_price, initial_size, remaining_size,
	       leverage, direction, tp_ladder, stop_moved_to_be, realized_pnl, opened_at`

// GetOpenTrades retrieves every trade in the open set.
func (r *Repository) GetOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM open_trades ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan open trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open trade rows: %w", err)
	}
	return trades, nil
}

// GetTrade retrieves an open trade by id. Returns nil, nil when not open.
func (r *Repository) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM open_trades WHERE trade_id = ?`, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %s: %w", id, err)
	}
	return t, nil
}

// FindOpenBySymbol retrieves the open trade for a symbol, if any.
func (r *Repository) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM open_trades WHERE symbol = ?`, symbol)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No open trade found for symbol", map[string]interface{}{"symbol": symbol})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open trade for symbol %s: %w", symbol, err)
	}
	return t, nil
}

// UpsertTrade inserts or replaces a single open trade record.
func (r *Repository) UpsertTrade(ctx context.Context, t *domain.Trade) error {
	ladder, err := json.Marshal(t.TPLadder)
	if err != nil {
		return fmt.Errorf("failed to serialize ladder for trade %s: %w", t.ID, err)
	}
	const query = `
	INSERT OR REPLACE INTO open_trades
		(trade_id, symbol, entry_price, stop_price, initial_size, remaining_size,
		 leverage, direction, tp_ladder, stop_moved_to_be, realized_pnl, opened_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query,
		t.ID, t.Symbol, t.EntryPrice, t.StopPrice, t.InitialSize, t.RemainingSize,
		t.Leverage, t.Direction, string(ladder), t.StopMovedToBreakEven, t.RealizedPnL, t.OpenedAt); err != nil {
		return fmt.Errorf("failed to upsert trade %s: %w: %w", t.ID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Trade upserted", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol})
	return nil
}

// CloseTrade atomically appends the history record and removes the trade
// from the open set. A failure of either step rolls back the whole move, so
// the trade can never be duplicated in history or vanish without a record.
func (r *Repository) CloseTrade(ctx context.Context, id string, rec *domain.HistoryRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin close transaction for %s: %w: %w", id, ports.ErrCloseFailed, err)
	}
	defer tx.Rollback()

	const insertHistory = `
	INSERT INTO trade_history (trade_id, symbol, pnl, direction, entry_price, exit_price, close_reason, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertHistory,
		rec.TradeID, rec.Symbol, rec.PnL, rec.Direction, rec.EntryPrice, rec.ExitPrice, rec.Reason, rec.ClosedAt); err != nil {
		return fmt.Errorf("failed to insert history for trade %s: %w: %w", id, ports.ErrCloseFailed, err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM open_trades WHERE trade_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete open trade %s: %w: %w", id, ports.ErrCloseFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected closing trade %s: %w: %w", id, ports.ErrCloseFailed, err)
	}
	if rowsAffected == 0 {
		// Already closed by a concurrent handler; rolling back discards the
		// duplicate history insert.
		return fmt.Errorf("trade %s not found for close: %w", id, ports.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit close for trade %s: %w: %w", id, ports.ErrCloseFailed, err)
	}
	r.logger.Debug(ctx, "Trade moved to history", map[string]interface{}{"tradeID": id, "reason": rec.Reason, "pnl": rec.PnL})
	return nil
}

// GetHistory retrieves closed-trade records, newest first.
func (r *Repository) GetHistory(ctx context.Context) ([]*domain.HistoryRecord, error) {
	const query = `
	SELECT trade_id, symbol, pnl, direction, entry_price, exit_price, close_reason, closed_at
	FROM trade_history ORDER BY closed_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	records := make([]*domain.HistoryRecord, 0)
	for rows.Next() {
		rec := &domain.HistoryRecord{}
		var direction, reason string
		if err := rows.Scan(&rec.TradeID, &rec.Symbol, &rec.PnL, &direction, &rec.EntryPrice, &rec.ExitPrice, &reason, &rec.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		rec.Direction = domain.Direction(direction)
		rec.Reason = domain.CloseReason(reason)
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return records, nil
}

// --- Settings ---

// GetSetting retrieves a scalar setting value.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %s: %w", key, ports.ErrNotFound)
		}
		return "", fmt.Errorf("failed to query setting %s: %w: %w", key, ports.ErrQueryFailed, err)
	}
	return value, nil
}

// SetSetting writes a scalar setting value.
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	if _, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w: %w", key, ports.ErrUpdateFailed, err)
	}
	return nil
}

// --- Pending confirmations ---

// CreatePendingConfirmation stores a deferred signal awaiting a decision.
func (r *Repository) CreatePendingConfirmation(ctx context.Context, pc *domain.PendingConfirmation) error {
	const query = `
	INSERT INTO pending_confirmations (request_id, symbol, image_ref, message_ref, created_at)
	VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, pc.ID, pc.Symbol, pc.ImageRef, pc.MessageRef, pc.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert pending confirmation %s: %w: %w", pc.ID, ports.ErrUpdateFailed, err)
	}
	return nil
}

// ConsumePendingConfirmation deletes the record and returns it, or nil, nil
// when it was already consumed.
func (r *Repository) ConsumePendingConfirmation(ctx context.Context, id string) (*domain.PendingConfirmation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin consume transaction for %s: %w", id, err)
	}
	defer tx.Rollback()

	pc := &domain.PendingConfirmation{}
	var messageRef sql.NullString
	row := tx.QueryRowContext(ctx, `SELECT request_id, symbol, image_ref, message_ref, created_at FROM pending_confirmations WHERE request_id = ?`, id)
	if err := row.Scan(&pc.ID, &pc.Symbol, &pc.ImageRef, &messageRef, &pc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query pending confirmation %s: %w", id, err)
	}
	pc.MessageRef = messageRef.String

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_confirmations WHERE request_id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete pending confirmation %s: %w: %w", id, ports.ErrUpdateFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit consume for %s: %w", id, err)
	}
	return pc, nil
}

// ListPendingConfirmations retrieves all unconsumed requests, oldest first.
func (r *Repository) ListPendingConfirmations(ctx context.Context) ([]*domain.PendingConfirmation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT request_id, symbol, image_ref, message_ref, created_at FROM pending_confirmations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending confirmations: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	pending := make([]*domain.PendingConfirmation, 0)
	for rows.Next() {
		pc := &domain.PendingConfirmation{}
		var messageRef sql.NullString
		if err := rows.Scan(&pc.ID, &pc.Symbol, &pc.ImageRef, &messageRef, &pc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending confirmation: %w", err)
		}
		pc.MessageRef = messageRef.String
		pending = append(pending, pc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending confirmation rows: %w", err)
	}
	return pending, nil
}

// --- Scan helpers ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var direction, ladder string
	err := s.Scan(
		&t.ID, &t.Symbol, &t.EntryPrice, &t.StopPrice, &t.InitialSize, &t.RemainingSize,
		&t.Leverage, &direction, &ladder, &t.StopMovedToBreakEven, &t.RealizedPnL, &t.OpenedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Direction = domain.Direction(direction)
	if err := json.Unmarshal([]byte(ladder), &t.TPLadder); err != nil {
		return nil, fmt.Errorf("failed to deserialize ladder for trade %s: %w", t.ID, err)
	}
	return t, nil
}
