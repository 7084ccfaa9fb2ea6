package domain

import "time"

// HistoryRecord is the immutable record of a fully closed trade. It is
// written only by the ledger store's atomic close and never mutated.
type HistoryRecord struct {
	TradeID    string
	Symbol     string
	PnL        float64 // Total realized PnL across partial and final closures
	Direction  Direction
	EntryPrice float64
	ExitPrice  float64
	Reason     CloseReason
	ClosedAt   time.Time
}
