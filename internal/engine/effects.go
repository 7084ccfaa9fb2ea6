package engine

import "github.com/dauphongxd/tradingbot/internal/domain"

// Effect is a side effect produced by evaluating a trade against a price.
// Evaluate performs no I/O itself; Apply translates effects into balance
// settlement, persistence writes and notifications.
type Effect interface {
	effect()
}

// PartialTakeProfit records that a ladder level was hit and a slice of the
// position closed at its price.
type PartialTakeProfit struct {
	Level int // zero-based ladder index
	Price float64
	Size  float64
	PnL   float64
}

// StopAdjusted records a stop-loss relocation. BreakEven distinguishes the
// one-time move to entry from ordinary trailing.
type StopAdjusted struct {
	From      float64
	To        float64
	BreakEven bool
}

// Closed records a full closure. PnL is the profit or loss of the closing
// slice only (the remaining size); earlier partials have already settled
// their own slices. The history record carries the trade's cumulative
// realized PnL instead.
type Closed struct {
	Reason    domain.CloseReason
	ExitPrice float64
	PnL       float64
}

func (PartialTakeProfit) effect() {}
func (StopAdjusted) effect()      {}
func (Closed) effect()            {}
