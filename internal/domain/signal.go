package domain

import (
	"regexp"
	"strings"
	"time"
)

// Keyword sets recognized in signal captions. A caption containing anything
// beyond these words and the #symbol tag is not "clean" and must be routed
// through the confirmation workflow instead of auto-executing.
var (
	BuyWords  = []string{"buy", "long", "bullish", "buying", "bought", "longed"}
	SellWords = []string{"sell", "short", "bearish", "selling", "sold", "shorted"}
)

var symbolTagRe = regexp.MustCompile(`#(\w+)`)

// Signal is an inbound trade signal: a captioned chart image for a symbol.
type Signal struct {
	Symbol     string // Trading pair (e.g. "BTCUSDT")
	Caption    string // Raw text accompanying the image
	ImageRef   string // Opaque reference handed to the price extractor
	MessageRef string // Transport-level reference to the originating message
}

// ParseSymbolTag extracts the #tag from a caption, upper-cased, or "" when
// the caption carries no tag.
func ParseSymbolTag(caption string) string {
	m := symbolTagRe.FindStringSubmatch(caption)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// IsClean reports whether the caption contains nothing beyond direction
// keywords and #symbol tags.
func IsClean(caption string) bool {
	stripped := strings.ToLower(caption)
	for _, word := range BuyWords {
		stripped = strings.ReplaceAll(stripped, word, "")
	}
	for _, word := range SellWords {
		stripped = strings.ReplaceAll(stripped, word, "")
	}
	stripped = symbolTagRe.ReplaceAllString(stripped, "")
	return strings.TrimSpace(stripped) == ""
}

// ExtractedPrices holds the optional numeric fields recovered from a chart
// image. Absence of entry or stop-loss is terminal for the signal; a missing
// target falls back to the default ladder.
type ExtractedPrices struct {
	Entry    *float64
	StopLoss *float64
	Target   *float64
}

// HasEntry reports whether an entry price was recovered.
func (p ExtractedPrices) HasEntry() bool { return p.Entry != nil }

// HasStopLoss reports whether a stop-loss price was recovered.
func (p ExtractedPrices) HasStopLoss() bool { return p.StopLoss != nil }

// HasTarget reports whether a target price was recovered.
func (p ExtractedPrices) HasTarget() bool { return p.Target != nil }

// PendingConfirmation is a deferred signal awaiting an operator decision.
// It is consumed at most once, by either confirmation or rejection; entries
// have no automatic expiry, so lingering ones are surfaced as anomalies.
type PendingConfirmation struct {
	ID         string // Request id, assigned at creation
	Symbol     string
	ImageRef   string // Captured image reference replayed on confirmation
	MessageRef string // Transport-level reference to the prompt message
	CreatedAt  time.Time
}
