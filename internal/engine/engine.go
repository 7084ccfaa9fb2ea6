package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dauphongxd/tradingbot/internal/domain"
	"github.com/dauphongxd/tradingbot/internal/ports"
)

// Engine owns the trade lifecycle state machine: creation, partial
// take-profit execution, stop relocation and closure. All shared-state
// mutation (the open set and the balance) goes through the ledger store's
// single-record operations, serialized by the engine's mutex.
type Engine struct {
	store    ports.LedgerStore
	feed     ports.PriceFeed
	notifier ports.Notifier
	logger   ports.Logger

	mu sync.Mutex // Serializes balance read-modify-write and open/close paths
}

// New creates an Engine instance.
func New(store ports.LedgerStore, feed ports.PriceFeed, notifier ports.Notifier, logger ports.Logger) (*Engine, error) {
	if store == nil || feed == nil || notifier == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	return &Engine{store: store, feed: feed, notifier: notifier, logger: logger}, nil
}

// Open validates a price triple, sizes the position from the risk amount and
// inserts the new trade into the open set. This is the only creation path.
//
// An invalid target (wrong side of entry) is discarded with a warning, not
// fatal; the ladder then falls back to the default reward multiple.
func (e *Engine) Open(ctx context.Context, symbol string, entry, stop float64, target *float64, risk, leverage float64) (*domain.Trade, error) {
	op := "open"
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry == stop {
		return nil, fmt.Errorf("%s %s: %w", op, symbol, ports.ErrZeroStopDistance)
	}
	dir := domain.DirectionFor(entry, stop)

	ladderTarget := domain.DefaultTarget(entry, stop, dir)
	if target != nil {
		if domain.ValidTarget(entry, *target, dir) {
			ladderTarget = *target
		} else {
			e.logger.Warn(ctx, "Target price is on the wrong side of entry, ignoring target", map[string]interface{}{
				"symbol": symbol, "entry": entry, "target": *target, "direction": dir,
			})
			e.notify(ctx, fmt.Sprintf("Warning: target price for **%s** is on the wrong side of entry. Ignoring target.", symbol))
			target = nil
		}
	}

	balance, err := e.balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read balance: %w", op, symbol, err)
	}
	if risk > balance {
		return nil, fmt.Errorf("%s %s: risk %.2f, available %.2f: %w", op, symbol, risk, balance, ports.ErrInsufficientBalance)
	}

	size := risk / math.Abs(entry-stop)
	trade := &domain.Trade{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		EntryPrice:    entry,
		StopPrice:     stop,
		InitialSize:   size,
		RemainingSize: size,
		Leverage:      leverage,
		Direction:     dir,
		TPLadder:      domain.BuildLadder(entry, ladderTarget, dir),
		OpenedAt:      time.Now().UTC(),
	}

	if err := e.store.UpsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("%s %s: failed to persist trade: %w", op, symbol, err)
	}
	e.logger.Info(ctx, "Trade opened", map[string]interface{}{
		"tradeID": trade.ID, "symbol": symbol, "direction": dir,
		"entry": entry, "stop": stop, "size": size, "leverage": leverage,
	})

	tpText := "Not set (default ladder)"
	if target != nil {
		tpText = fmt.Sprintf("10 partial TPs up to `%v`", *target)
	}
	e.notify(ctx, fmt.Sprintf(
		"✅ **Trade Opened for %s** (%s)\n\nLeverage: **%vx**\nRisk Amount: `$%.2f`\nPosition Value (USD): `$%.2f`\n\nEntry: `%v`\nStop-Loss: `%v` (%.2f%% move)\nTake-Profit: %s\n\nCurrent Balance: `$%.2f`",
		symbol, dir, leverage, risk, size*entry, entry, stop, math.Abs(entry-stop)/entry*100, tpText, balance,
	))
	return trade, nil
}

// Evaluate runs one deterministic pass of the state machine for a trade at
// the current price, mutating the passed copy and returning the effects to
// apply. It performs no I/O. Evaluation order matters:
//
//  1. closure retry for an already-exhausted trade
//  2. stop check (full closure, nothing else runs this cycle)
//  3. the single next-pending ladder level
//  4. stop relocation, only right after a level transitioned to hit
//  5. full closure on the final level or size residue
func (e *Engine) Evaluate(t *domain.Trade, price float64) []Effect {
	var effects []Effect

	// An exhausted trade still in the open set means a previous closure
	// failed to persist. Re-emit it so the history write is retried,
	// instead of leaving the trade stranded with nothing left to fill.
	if t.NextPendingLevel() < 0 || t.RemainingSize < domain.SizeEpsilon {
		pnl := t.PnL(price, t.RemainingSize)
		t.RealizedPnL += pnl
		t.RemainingSize = 0
		return append(effects, Closed{Reason: domain.CloseReasonTargetReached, ExitPrice: price, PnL: pnl})
	}

	if t.StopCrossed(price) {
		pnl := t.PnL(t.StopPrice, t.RemainingSize)
		t.RealizedPnL += pnl
		exit := t.StopPrice
		t.RemainingSize = 0
		return append(effects, Closed{Reason: domain.CloseReasonStopHit, ExitPrice: exit, PnL: pnl})
	}

	i := t.NextPendingLevel()
	if i < 0 || !t.LevelReached(i, price) {
		return effects
	}

	// Close one slice of the ORIGINAL size at this level's price. Levels are
	// never skipped: even if price gapped through several, only this one is
	// consumed per cycle.
	slice := t.SliceSize()
	if slice > t.RemainingSize {
		slice = t.RemainingSize
	}
	levelPrice := t.TPLadder[i].Price
	pnl := t.PnL(levelPrice, slice)
	t.RemainingSize -= slice
	t.RealizedPnL += pnl
	t.TPLadder[i].Status = domain.LevelHit
	effects = append(effects, PartialTakeProfit{Level: i, Price: levelPrice, Size: slice, PnL: pnl})

	// Hybrid stop relocation: break-even once the 2nd level is consumed,
	// then trail two rungs behind the latest hit. Only an actual price
	// change is applied or announced.
	switch {
	case i == 1 && !t.StopMovedToBreakEven:
		if t.StopPrice != t.EntryPrice {
			effects = append(effects, StopAdjusted{From: t.StopPrice, To: t.EntryPrice, BreakEven: true})
			t.StopPrice = t.EntryPrice
		}
		t.StopMovedToBreakEven = true
	case i > 1:
		if trail := t.TPLadder[i-2].Price; trail != t.StopPrice {
			effects = append(effects, StopAdjusted{From: t.StopPrice, To: trail})
			t.StopPrice = trail
		}
	}

	if i == domain.NumTPLevels-1 || t.RemainingSize < domain.SizeEpsilon {
		residual := t.PnL(levelPrice, t.RemainingSize)
		t.RealizedPnL += residual
		t.RemainingSize = 0
		effects = append(effects, Closed{Reason: domain.CloseReasonTargetReached, ExitPrice: levelPrice, PnL: residual})
	}
	return effects
}

// Apply settles the effects of one evaluation: balance deltas through the
// settings store, persistence writes and operator notifications. The trade's
// continued presence in the open set is re-checked first, so applying
// effects for a trade closed by a concurrent handler is a no-op.
func (e *Engine) Apply(ctx context.Context, t *domain.Trade, effects []Effect) error {
	if len(effects) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.GetTrade(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("apply %s: failed to re-check trade: %w", t.ID, err)
	}
	if existing == nil {
		e.logger.Debug(ctx, "Skipping effects for trade no longer open", map[string]interface{}{"tradeID": t.ID})
		return nil
	}

	for _, eff := range effects {
		switch eff := eff.(type) {
		case PartialTakeProfit:
			if err := e.store.UpsertTrade(ctx, t); err != nil {
				return fmt.Errorf("apply %s: failed to persist partial TP: %w", t.ID, err)
			}
			balance, err := e.settleBalance(ctx, eff.PnL)
			if err != nil {
				return fmt.Errorf("apply %s: failed to settle partial PnL: %w", t.ID, err)
			}
			e.logger.Info(ctx, "Partial take profit hit", map[string]interface{}{
				"tradeID": t.ID, "symbol": t.Symbol, "level": eff.Level + 1, "price": eff.Price, "pnl": eff.PnL,
			})
			e.notify(ctx, fmt.Sprintf(
				"🎯 PARTIAL TAKE PROFIT %d/%d 🎯\n\nTrade: **%s**\nClosed **10%%** of position at `%v`\nPortion PNL: `$%.2f`\n\n**New Balance: `$%.2f`**\nRemaining Size: `%.4f`",
				eff.Level+1, domain.NumTPLevels, t.Symbol, eff.Price, eff.PnL, balance, t.RemainingSize,
			))

		case StopAdjusted:
			if err := e.store.UpsertTrade(ctx, t); err != nil {
				return fmt.Errorf("apply %s: failed to persist stop relocation: %w", t.ID, err)
			}
			e.logger.Info(ctx, "Stop-loss relocated", map[string]interface{}{
				"tradeID": t.ID, "symbol": t.Symbol, "from": eff.From, "to": eff.To, "breakEven": eff.BreakEven,
			})
			if eff.BreakEven {
				e.notify(ctx, fmt.Sprintf(
					"✅ **Stop-Loss Updated for %s** ✅\n\nTP2 was hit. The trade is now risk-free.\n\nOriginal SL: `%v`\n**New SL: `%v`** (Break-Even)",
					t.Symbol, eff.From, eff.To,
				))
			} else {
				e.notify(ctx, fmt.Sprintf(
					"🔒 **Stop-Loss Trailed for %s**\n\nOld SL: `%v`\n**New SL: `%v`** (two rungs behind price)",
					t.Symbol, eff.From, eff.To,
				))
			}

		case Closed:
			if err := e.closeLocked(ctx, t, eff.Reason, eff.ExitPrice, eff.PnL); err != nil {
				return err
			}
		}
	}
	return nil
}

// CloseAtMarket fully closes an open trade at the current feed price. Used
// by the manual-close command and by reversal handling.
func (e *Engine) CloseAtMarket(ctx context.Context, t *domain.Trade, reason domain.CloseReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.GetTrade(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("close %s: failed to re-check trade: %w", t.ID, err)
	}
	if existing == nil {
		return fmt.Errorf("close %s: %w", t.ID, ports.ErrNotFound)
	}
	t = existing

	price, err := e.feed.FetchPrice(ctx, t.Symbol)
	if err != nil {
		return fmt.Errorf("close %s: failed to fetch market price: %w", t.ID, err)
	}
	pnl := t.PnL(price, t.RemainingSize)
	t.RealizedPnL += pnl
	t.RemainingSize = 0
	return e.closeLocked(ctx, t, reason, price, pnl)
}

// closeLocked performs the atomic move to history plus balance settlement.
// Caller must hold e.mu and have already folded the closing slice into the
// trade's realized PnL.
func (e *Engine) closeLocked(ctx context.Context, t *domain.Trade, reason domain.CloseReason, exitPrice, slicePnL float64) error {
	rec := &domain.HistoryRecord{
		TradeID:    t.ID,
		Symbol:     t.Symbol,
		PnL:        t.RealizedPnL,
		Direction:  t.Direction,
		EntryPrice: t.EntryPrice,
		ExitPrice:  exitPrice,
		Reason:     reason,
		ClosedAt:   time.Now().UTC(),
	}
	if err := e.store.CloseTrade(ctx, t.ID, rec); err != nil {
		// The store rolled back: the trade is still open and will be
		// re-evaluated next cycle rather than vanish without history.
		return fmt.Errorf("close %s: %w", t.ID, err)
	}
	balance, err := e.settleBalance(ctx, slicePnL)
	if err != nil {
		return fmt.Errorf("close %s: trade closed but balance settlement failed: %w", t.ID, err)
	}
	e.logger.Info(ctx, "Trade fully closed", map[string]interface{}{
		"tradeID": t.ID, "symbol": t.Symbol, "reason": reason, "exitPrice": exitPrice, "totalPnL": t.RealizedPnL,
	})

	var header string
	switch reason {
	case domain.CloseReasonStopHit:
		header = "❌ STOP LOSS ❌"
	case domain.CloseReasonTargetReached:
		header = "🎯 POSITION FULLY CLOSED 🎯"
	case domain.CloseReasonReversal:
		header = "🔄 REVERSAL CLOSE 🔄"
	default:
		header = "🔵 MANUAL CLOSE 🔵"
	}
	e.notify(ctx, fmt.Sprintf(
		"%s\n\nTrade Closed: **%s**\nExit: `%v`\nPNL: `$%.2f`\n\n**New Balance: `$%.2f`**",
		header, t.Symbol, exitPrice, t.RealizedPnL, balance,
	))
	return nil
}

// Balance reads the current account balance from the settings store.
func (e *Engine) Balance(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance(ctx)
}

func (e *Engine) balance(ctx context.Context) (float64, error) {
	raw, err := e.store.GetSetting(ctx, ports.SettingBalance)
	if err != nil {
		return 0, err
	}
	balance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed balance setting %q: %w", raw, err)
	}
	return balance, nil
}

// settleBalance applies a realized PnL delta to the balance setting and
// returns the new balance. Caller must hold e.mu.
func (e *Engine) settleBalance(ctx context.Context, delta float64) (float64, error) {
	balance, err := e.balance(ctx)
	if err != nil {
		return 0, err
	}
	balance += delta
	if err := e.store.SetSetting(ctx, ports.SettingBalance, strconv.FormatFloat(balance, 'f', -1, 64)); err != nil {
		return 0, err
	}
	return balance, nil
}

// notify sends a best-effort operator message; failures are logged only.
func (e *Engine) notify(ctx context.Context, text string) {
	if err := e.notifier.Send(ctx, text); err != nil {
		e.logger.Warn(ctx, "Failed to send notification", map[string]interface{}{"error": err.Error()})
	}
}
