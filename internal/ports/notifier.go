package ports

import "context"

// Notifier delivers operator-facing messages. Delivery is best-effort:
// failures are logged by callers and never block trade-state progress.
type Notifier interface {
	Send(ctx context.Context, text string) error
}
