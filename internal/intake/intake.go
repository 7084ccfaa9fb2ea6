package intake

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dauphongxd/tradingbot/internal/domain"
	"github.com/dauphongxd/tradingbot/internal/ports"
)

// TradeOpener is the slice of the lifecycle engine the intake needs.
// Satisfied by *engine.Engine.
type TradeOpener interface {
	Open(ctx context.Context, symbol string, entry, stop float64, target *float64, risk, leverage float64) (*domain.Trade, error)
	CloseAtMarket(ctx context.Context, t *domain.Trade, reason domain.CloseReason) error
}

// Config holds intake settings.
type Config struct {
	Blacklist   []string // Symbols that are never traded
	QuoteSuffix string   // Appended to caption tags to form a pair, e.g. "USDT"
}

// Intake accepts inbound signals and decides whether to auto-execute,
// request confirmation, or reject (blacklist, invalid geometry, duplicate
// direction). Opposite-direction signals reverse the existing position.
type Intake struct {
	cfg       Config
	store     ports.LedgerStore
	engine    TradeOpener
	extractor ports.PriceExtractor
	notifier  ports.Notifier
	logger    ports.Logger

	blacklist map[string]bool
}

// New creates an Intake instance.
func New(cfg Config, store ports.LedgerStore, eng TradeOpener, extractor ports.PriceExtractor, notifier ports.Notifier, logger ports.Logger) (*Intake, error) {
	if store == nil || eng == nil || extractor == nil || notifier == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Intake")
	}
	if cfg.QuoteSuffix == "" {
		cfg.QuoteSuffix = "USDT"
	}
	blacklist := make(map[string]bool, len(cfg.Blacklist))
	for _, s := range cfg.Blacklist {
		blacklist[s] = true
	}
	return &Intake{cfg: cfg, store: store, engine: eng, extractor: extractor, notifier: notifier, logger: logger, blacklist: blacklist}, nil
}

// HandleSignal routes an inbound signal. Clean signals (caption carries only
// direction keywords and the symbol tag) execute immediately; anything with
// extra text is parked as a PendingConfirmation for the operator to decide.
func (i *Intake) HandleSignal(ctx context.Context, sig domain.Signal) error {
	if sig.Symbol == "" {
		tag := domain.ParseSymbolTag(sig.Caption)
		if tag == "" {
			i.logger.Debug(ctx, "Signal carries no symbol tag, ignoring")
			return nil
		}
		sig.Symbol = tag + i.cfg.QuoteSuffix
	}
	if i.blacklist[sig.Symbol] {
		i.logger.Info(ctx, "Signal rejected: symbol blacklisted", map[string]interface{}{"symbol": sig.Symbol})
		return fmt.Errorf("signal for %s: %w", sig.Symbol, ports.ErrSymbolBlacklisted)
	}

	if !domain.IsClean(sig.Caption) {
		pc := &domain.PendingConfirmation{
			ID:         uuid.NewString(),
			Symbol:     sig.Symbol,
			ImageRef:   sig.ImageRef,
			MessageRef: sig.MessageRef,
			CreatedAt:  time.Now().UTC(),
		}
		if err := i.store.CreatePendingConfirmation(ctx, pc); err != nil {
			return fmt.Errorf("failed to park signal for confirmation: %w", err)
		}
		i.logger.Info(ctx, "Complex signal detected, asking for confirmation", map[string]interface{}{
			"requestID": pc.ID, "symbol": sig.Symbol,
		})
		i.notify(ctx, fmt.Sprintf("Signal for **%s** contains extra text. Confirm or ignore request `%s` to proceed.", sig.Symbol, pc.ID))
		return nil
	}

	i.logger.Info(ctx, "Clean signal detected, executing automatically", map[string]interface{}{"symbol": sig.Symbol})
	return i.execute(ctx, sig.Symbol, sig.ImageRef)
}

// Confirm consumes a pending confirmation and opens the trade from the
// originally captured image reference. At-most-once: a request already
// consumed (confirmed or ignored) returns ErrNotFound.
func (i *Intake) Confirm(ctx context.Context, requestID string) error {
	pc, err := i.store.ConsumePendingConfirmation(ctx, requestID)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", requestID, err)
	}
	if pc == nil {
		return fmt.Errorf("confirm %s: %w", requestID, ports.ErrNotFound)
	}
	i.logger.Info(ctx, "Confirmation accepted, opening trade", map[string]interface{}{"requestID": requestID, "symbol": pc.Symbol})
	return i.execute(ctx, pc.Symbol, pc.ImageRef)
}

// Ignore consumes a pending confirmation without acting on it.
func (i *Intake) Ignore(ctx context.Context, requestID string) error {
	pc, err := i.store.ConsumePendingConfirmation(ctx, requestID)
	if err != nil {
		return fmt.Errorf("ignore %s: %w", requestID, err)
	}
	if pc == nil {
		return fmt.Errorf("ignore %s: %w", requestID, ports.ErrNotFound)
	}
	i.logger.Info(ctx, "Signal ignored", map[string]interface{}{"requestID": requestID, "symbol": pc.Symbol})
	i.notify(ctx, fmt.Sprintf("Signal for **%s** ignored.", pc.Symbol))
	return nil
}

// execute extracts the price triple, resolves duplicates/reversals and opens
// the trade with the configured risk amount and leverage.
func (i *Intake) execute(ctx context.Context, symbol, imageRef string) error {
	prices, err := i.extractor.Extract(ctx, imageRef)
	if err != nil {
		i.notify(ctx, fmt.Sprintf("Analysis failed for **%s**: %v", symbol, err))
		return fmt.Errorf("extract %s: %w", symbol, err)
	}
	if !prices.HasEntry() || !prices.HasStopLoss() {
		i.notify(ctx, fmt.Sprintf("Analysis failed for **%s**. Missing entry or stop-loss price.", symbol))
		return fmt.Errorf("extract %s: %w", symbol, ports.ErrPricesNotFound)
	}
	entry, stop := *prices.Entry, *prices.StopLoss
	if entry == stop {
		i.notify(ctx, fmt.Sprintf("Analysis failed for **%s**. Entry and stop-loss prices cannot be the same.", symbol))
		return fmt.Errorf("signal %s: %w", symbol, ports.ErrZeroStopDistance)
	}
	dir := domain.DirectionFor(entry, stop)

	existing, err := i.store.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("signal %s: failed to check open trades: %w", symbol, err)
	}
	if existing != nil {
		if existing.Direction == dir {
			i.logger.Info(ctx, "Signal rejected: duplicate direction", map[string]interface{}{
				"symbol": symbol, "direction": dir, "tradeID": existing.ID,
			})
			return fmt.Errorf("signal %s (%s): %w", symbol, dir, ports.ErrDuplicateDirection)
		}
		// Opposite direction: reverse. Close at market, then open the new
		// trade as an independent step. A feed failure in between leaves the
		// symbol flat, which is a safe state for a paper account.
		i.logger.Info(ctx, "Reversal signal: closing existing trade", map[string]interface{}{
			"symbol": symbol, "oldDirection": existing.Direction, "newDirection": dir,
		})
		if err := i.engine.CloseAtMarket(ctx, existing, domain.CloseReasonReversal); err != nil {
			i.notify(ctx, fmt.Sprintf("🚨 Reversal for **%s** aborted: failed to close the existing %s trade: %v", symbol, existing.Direction, err))
			return fmt.Errorf("reversal %s: %w", symbol, err)
		}
	}

	risk, err := i.floatSetting(ctx, ports.SettingRiskPerTrade)
	if err != nil {
		return fmt.Errorf("signal %s: %w", symbol, err)
	}
	leverage, err := i.floatSetting(ctx, ports.SettingLeverage)
	if err != nil {
		return fmt.Errorf("signal %s: %w", symbol, err)
	}

	_, err = i.engine.Open(ctx, symbol, entry, stop, prices.Target, risk, leverage)
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientBalance) {
			i.notify(ctx, fmt.Sprintf("Insufficient balance to open **%s**: %v", symbol, err))
		}
		return err
	}
	return nil
}

func (i *Intake) floatSetting(ctx context.Context, key string) (float64, error) {
	raw, err := i.store.GetSetting(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed setting %s=%q: %w", key, raw, err)
	}
	return v, nil
}

func (i *Intake) notify(ctx context.Context, text string) {
	if err := i.notifier.Send(ctx, text); err != nil {
		i.logger.Warn(ctx, "Failed to send notification", map[string]interface{}{"error": err.Error()})
	}
}
