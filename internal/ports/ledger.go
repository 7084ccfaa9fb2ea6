package ports

import (
	"context"

	"github.com/dauphongxd/tradingbot/internal/domain"
)

// Well-known settings keys.
const (
	SettingBalance      = "balance"
	SettingLeverage     = "leverage"
	SettingRiskPerTrade = "risk_per_trade"
)

// LedgerStore is the persistence contract for the trading ledger: scalar
// settings, the open-trade set and the append-only closed-trade history.
//
// Mutations are single-record operations only; there is deliberately no bulk
// overwrite, so concurrent tasks mutating different trades cannot lose each
// other's updates.
type LedgerStore interface {
	// GetOpenTrades retrieves every trade in the open set.
	GetOpenTrades(ctx context.Context) ([]*domain.Trade, error)
	// GetTrade retrieves an open trade by id.
	// Returns nil, nil if the trade is not in the open set.
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	// FindOpenBySymbol retrieves the open trade for a symbol, if any.
	// Returns nil, nil if no open trade exists for the symbol.
	FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Trade, error)
	// UpsertTrade inserts or replaces a single open trade record.
	UpsertTrade(ctx context.Context, trade *domain.Trade) error
	// CloseTrade atomically appends the history record and removes the trade
	// from the open set: either both happen or neither. Returns ErrNotFound
	// when the trade is no longer open.
	CloseTrade(ctx context.Context, id string, rec *domain.HistoryRecord) error
	// GetHistory retrieves closed-trade records, newest first.
	GetHistory(ctx context.Context) ([]*domain.HistoryRecord, error)

	// GetSetting retrieves a scalar setting value.
	// Returns ErrNotFound when the key has never been set.
	GetSetting(ctx context.Context, key string) (string, error)
	// SetSetting writes a scalar setting value.
	SetSetting(ctx context.Context, key, value string) error

	// CreatePendingConfirmation stores a deferred signal awaiting a decision.
	CreatePendingConfirmation(ctx context.Context, pc *domain.PendingConfirmation) error
	// ConsumePendingConfirmation deletes the record and returns it. The
	// delete reports existence, so concurrent consumers cannot both act on
	// the same request. Returns nil, nil when already consumed.
	ConsumePendingConfirmation(ctx context.Context, id string) (*domain.PendingConfirmation, error)
	// ListPendingConfirmations retrieves all unconsumed requests, oldest first.
	ListPendingConfirmations(ctx context.Context) ([]*domain.PendingConfirmation, error)
}
