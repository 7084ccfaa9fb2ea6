package domain

import (
	"math"
	"time"
)

const (
	// NumTPLevels is the fixed length of every take-profit ladder.
	NumTPLevels = 10

	// DefaultRewardMultiple sizes the fallback ladder when a signal carries
	// no target: the ladder spans this multiple of the entry-to-stop distance.
	DefaultRewardMultiple = 10.0

	// SizeEpsilon guards against floating-point residue when the last
	// partial closure leaves a remaining size that is not exactly zero.
	SizeEpsilon = 1e-8
)

// TPLevel is a single rung of the take-profit ladder.
type TPLevel struct {
	Price  float64     `json:"price"`
	Status LevelStatus `json:"status"`
}

// Trade represents an open simulated position.
//
// RemainingSize only ever decreases, ladder levels are consumed strictly in
// order, and StopMovedToBreakEven is set at most once. A trade whose
// remaining size reaches zero must be moved to history, never left in the
// open set.
type Trade struct {
	ID                   string    // Assigned at creation, immutable
	Symbol               string    // Trading pair (e.g. "BTCUSDT"), immutable
	EntryPrice           float64   // Immutable
	StopPrice            float64   // Mutable: break-even and trailing relocation
	InitialSize          float64   // Position size in base asset at open
	RemainingSize        float64   // Currently active size, 0 <= remaining <= initial
	Leverage             float64   // Informational multiplier, immutable
	Direction            Direction // Derived from entry/stop at creation, immutable
	TPLadder             []TPLevel // Exactly NumTPLevels entries, monotonic away from entry
	StopMovedToBreakEven bool
	RealizedPnL          float64 // Running total of PnL settled by partial and full closures
	OpenedAt             time.Time
}

// IsLong reports whether the trade profits from rising prices.
func (t *Trade) IsLong() bool {
	return t.Direction == Long
}

// SliceSize is the portion of the original position closed per ladder level.
func (t *Trade) SliceSize() float64 {
	return t.InitialSize / NumTPLevels
}

// StopCrossed reports whether price has crossed the stop against the trade.
func (t *Trade) StopCrossed(price float64) bool {
	if t.IsLong() {
		return price <= t.StopPrice
	}
	return price >= t.StopPrice
}

// NextPendingLevel returns the lowest-index pending ladder level, or -1 when
// the ladder is fully consumed.
func (t *Trade) NextPendingLevel() int {
	for i, level := range t.TPLadder {
		if level.Status == LevelPending {
			return i
		}
	}
	return -1
}

// LevelReached reports whether price has favorably reached ladder level i.
func (t *Trade) LevelReached(i int, price float64) bool {
	if t.IsLong() {
		return price >= t.TPLadder[i].Price
	}
	return price <= t.TPLadder[i].Price
}

// PnL returns the realized profit or loss for closing the given size at
// exitPrice, signed by the trade's direction.
func (t *Trade) PnL(exitPrice, size float64) float64 {
	diff := exitPrice - t.EntryPrice
	if !t.IsLong() {
		diff = -diff
	}
	return diff * size
}

// ValidTarget reports whether target lies on the profitable side of entry
// for the given direction.
func ValidTarget(entry, target float64, dir Direction) bool {
	if dir == Long {
		return target > entry
	}
	return target < entry
}

// DefaultTarget computes the fallback ladder endpoint: the reward multiple
// of the entry-to-stop distance, on the profitable side of entry.
func DefaultTarget(entry, stop float64, dir Direction) float64 {
	span := DefaultRewardMultiple * math.Abs(entry-stop)
	if dir == Long {
		return entry + span
	}
	return entry - span
}

// BuildLadder places NumTPLevels take-profit rungs at equal price increments
// between entry (exclusive) and target (inclusive).
func BuildLadder(entry, target float64, dir Direction) []TPLevel {
	step := math.Abs(target-entry) / NumTPLevels
	ladder := make([]TPLevel, NumTPLevels)
	for i := range ladder {
		offset := step * float64(i+1)
		price := entry + offset
		if dir == Short {
			price = entry - offset
		}
		ladder[i] = TPLevel{Price: price, Status: LevelPending}
	}
	return ladder
}
