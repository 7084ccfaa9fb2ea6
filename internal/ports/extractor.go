package ports

import (
	"context"

	"github.com/dauphongxd/tradingbot/internal/domain"
)

// PriceExtractor recovers the entry/stop-loss/target price triple from a
// chart image. The result fields are individually optional; validation of
// which fields are required happens at the signal intake boundary.
type PriceExtractor interface {
	Extract(ctx context.Context, imageRef string) (domain.ExtractedPrices, error)
}
