package domain

// Direction represents which side of the market a trade is on.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Opposite returns the other market side.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// DirectionFor derives the trade direction from the entry/stop geometry:
// a stop below entry implies a long position, a stop above entry a short.
func DirectionFor(entry, stop float64) Direction {
	if stop < entry {
		return Long
	}
	return Short
}

// LevelStatus represents the state of a single take-profit ladder level.
type LevelStatus string

const (
	LevelPending LevelStatus = "pending"
	LevelHit     LevelStatus = "hit"
)

// CloseReason indicates why a trade was fully closed.
type CloseReason string

const (
	CloseReasonStopHit       CloseReason = "SL_HIT"
	CloseReasonTargetReached CloseReason = "TP_COMPLETE"
	CloseReasonManual        CloseReason = "MANUAL_CLOSE"
	CloseReasonReversal      CloseReason = "REVERSAL"
)
