package ports

import "context"

// PriceFeed retrieves current market prices. Implementations must be assumed
// to fail transiently (network, exchange maintenance); callers wrap calls in
// the bounded retry policy rather than blocking indefinitely.
type PriceFeed interface {
	// FetchPrices retrieves last prices for a set of symbols in one batched
	// call. There is no guarantee of atomic batch success: a symbol missing
	// from the result map is not an error.
	FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error)
	// FetchPrice retrieves the last price for a single symbol.
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}
