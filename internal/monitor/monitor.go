package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/dauphongxd/tradingbot/internal/domain"
	"github.com/dauphongxd/tradingbot/internal/engine"
	"github.com/dauphongxd/tradingbot/internal/ports"
)

// Evaluator drives the lifecycle state machine for one trade. Satisfied by
// *engine.Engine.
type Evaluator interface {
	Evaluate(t *domain.Trade, price float64) []engine.Effect
	Apply(ctx context.Context, t *domain.Trade, effects []engine.Effect) error
}

// RetryConfig bounds the feed retry policy: a fixed number of attempts with
// a fixed delay between them. Exhausting the attempts yields "no data" and
// the cycle is skipped rather than evaluated with stale or partial prices.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// Config holds Monitor settings.
type Config struct {
	PollInterval    time.Duration // Cadence of evaluation cycles
	Cooldown        time.Duration // Pause after an unexpected cycle failure
	Retry           RetryConfig
	StaleConfirmAge time.Duration // Age past which pending confirmations are flagged
}

// Monitor polls the price feed for every symbol with an open trade and
// drives the engine's evaluation step for each trade, once per cycle.
type Monitor struct {
	cfg      Config
	store    ports.LedgerStore
	feed     ports.PriceFeed
	eval     Evaluator
	notifier ports.Notifier
	logger   ports.Logger

	cycles uint64
}

// New creates a Monitor instance.
func New(cfg Config, store ports.LedgerStore, feed ports.PriceFeed, eval Evaluator, notifier ports.Notifier, logger ports.Logger) (*Monitor, error) {
	if store == nil || feed == nil || eval == nil || notifier == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Monitor")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Delay <= 0 {
		cfg.Retry.Delay = 5 * time.Second
	}
	if cfg.StaleConfirmAge <= 0 {
		cfg.StaleConfirmAge = time.Hour
	}
	return &Monitor{cfg: cfg, store: store, feed: feed, eval: eval, notifier: notifier, logger: logger}, nil
}

// Run executes evaluation cycles on the configured cadence until the context
// is canceled. A failed cycle never terminates the loop: the error is logged
// and the loop re-arms after the cooldown.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info(ctx, "Market monitor started", map[string]interface{}{"interval": m.cfg.PollInterval.String()})
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "Market monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := m.safeCycle(ctx); err != nil {
				m.logger.Error(ctx, err, "Monitor cycle failed, cooling down")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(m.cfg.Cooldown):
				}
			}
		}
	}
}

// safeCycle is the task boundary: panics in a cycle are recovered and
// reported as errors so the loop can re-arm.
func (m *Monitor) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor cycle panicked: %v", r)
		}
	}()
	return m.cycle(ctx)
}

// cycle loads the open set, batch-fetches prices for the distinct symbols
// and evaluates every trade sequentially, applying each trade's effects
// before moving on to the next. A trade closed mid-cycle by a concurrent
// handler is simply skipped.
func (m *Monitor) cycle(ctx context.Context) error {
	m.cycles++
	if m.cycles%20 == 0 {
		m.flagStaleConfirmations(ctx)
	}

	trades, err := m.store.GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open trades: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(trades))
	symbols := make([]string, 0, len(trades))
	for _, t := range trades {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			symbols = append(symbols, t.Symbol)
		}
	}

	prices, err := m.fetchPricesWithRetry(ctx, symbols)
	if err != nil {
		// Skip the cycle: evaluating with missing prices is worse than
		// evaluating late.
		m.logger.Warn(ctx, "Price feed unavailable, skipping cycle", map[string]interface{}{"error": err.Error()})
		if nerr := m.notifier.Send(ctx, fmt.Sprintf("⚠️ Price feed unavailable after %d attempts, monitor skipped a cycle: %v", m.cfg.Retry.MaxAttempts, err)); nerr != nil {
			m.logger.Warn(ctx, "Failed to send feed alert", map[string]interface{}{"error": nerr.Error()})
		}
		return nil
	}

	for _, stale := range trades {
		// Re-load right before evaluating: a manual close or confirmation
		// handler may have consumed the trade between cycle start and now.
		t, err := m.store.GetTrade(ctx, stale.ID)
		if err != nil {
			m.logger.Error(ctx, err, "Failed to re-load trade, skipping", map[string]interface{}{"tradeID": stale.ID})
			continue
		}
		if t == nil {
			continue
		}
		price, ok := prices[t.Symbol]
		if !ok {
			m.logger.Debug(ctx, "No price for symbol this cycle", map[string]interface{}{"symbol": t.Symbol})
			continue
		}
		effects := m.eval.Evaluate(t, price)
		if err := m.eval.Apply(ctx, t, effects); err != nil {
			m.logger.Error(ctx, err, "Failed to apply trade effects", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol})
		}
	}
	return nil
}

// fetchPricesWithRetry wraps the batched feed call in the bounded retry
// policy: fixed attempts, fixed delay.
func (m *Monitor) fetchPricesWithRetry(ctx context.Context, symbols []string) (map[string]float64, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.Retry.MaxAttempts; attempt++ {
		prices, err := m.feed.FetchPrices(ctx, symbols)
		if err == nil {
			return prices, nil
		}
		lastErr = err
		m.logger.Warn(ctx, "Price fetch failed", map[string]interface{}{
			"attempt": attempt, "maxAttempts": m.cfg.Retry.MaxAttempts, "error": err.Error(),
		})
		if attempt < m.cfg.Retry.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.cfg.Retry.Delay):
			}
		}
	}
	return nil, fmt.Errorf("%w: %w", ports.ErrFeedUnavailable, lastErr)
}

// flagStaleConfirmations surfaces pending confirmations that have lingered
// past the configured age. There is no automatic expiry; stale entries are
// an anomaly the operator should resolve.
func (m *Monitor) flagStaleConfirmations(ctx context.Context) {
	pending, err := m.store.ListPendingConfirmations(ctx)
	if err != nil {
		m.logger.Error(ctx, err, "Failed to list pending confirmations")
		return
	}
	cutoff := time.Now().UTC().Add(-m.cfg.StaleConfirmAge)
	for _, pc := range pending {
		if pc.CreatedAt.Before(cutoff) {
			m.logger.Warn(ctx, "Pending confirmation has gone stale", map[string]interface{}{
				"requestID": pc.ID, "symbol": pc.Symbol, "age": time.Since(pc.CreatedAt).Round(time.Second).String(),
			})
		}
	}
}
