package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSymbolTag(t *testing.T) {
	assert.Equal(t, "BTC", ParseSymbolTag("buy #btc now"))
	assert.Equal(t, "ETH", ParseSymbolTag("#ETH short"))
	assert.Equal(t, "", ParseSymbolTag("no tag here"))
	// First tag wins when several are present.
	assert.Equal(t, "SOL", ParseSymbolTag("#sol vs #btc"))
}

func TestIsClean(t *testing.T) {
	tests := []struct {
		name    string
		caption string
		want    bool
	}{
		{"keyword and tag only", "buy #btc", true},
		{"sell keyword", "shorting... no, sold #eth", false},
		{"plain sell with tag", "sell #eth", true},
		{"multiple keywords", "long bullish #sol", true},
		{"empty caption", "", true},
		{"extra commentary", "buy #btc when London opens", false},
		{"numbers present", "buy #btc 65000", false},
		{"mixed case keywords", "BUY #BTC", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsClean(tt.caption))
		})
	}
}
