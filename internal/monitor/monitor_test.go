package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dauphongxd/tradingbot/internal/domain"
	"github.com/dauphongxd/tradingbot/internal/engine"
	"github.com/dauphongxd/tradingbot/internal/ports"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockNotifier struct {
	messages []string
}

func (m *mockNotifier) Send(ctx context.Context, text string) error {
	m.messages = append(m.messages, text)
	return nil
}

type mockFeed struct {
	prices    map[string]float64
	failUntil int // Fail the first N calls
	calls     int
}

func (m *mockFeed) FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	m.calls++
	if m.calls <= m.failUntil {
		return nil, errors.New("connection reset")
	}
	return m.prices, nil
}

func (m *mockFeed) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return m.prices[symbol], nil
}

type mockStore struct {
	trades  map[string]*domain.Trade
	stale   []*domain.Trade // When set, GetOpenTrades returns this snapshot instead
	pending []*domain.PendingConfirmation
}

func (m *mockStore) GetOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	if m.stale != nil {
		return m.stale, nil
	}
	out := make([]*domain.Trade, 0, len(m.trades))
	for _, t := range m.trades {
		out = append(out, t)
	}
	return out, nil
}
func (m *mockStore) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	return m.trades[id], nil
}
func (m *mockStore) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Trade, error) {
	return nil, nil
}
func (m *mockStore) UpsertTrade(ctx context.Context, t *domain.Trade) error { return nil }
func (m *mockStore) CloseTrade(ctx context.Context, id string, rec *domain.HistoryRecord) error {
	return nil
}
func (m *mockStore) GetHistory(ctx context.Context) ([]*domain.HistoryRecord, error) {
	return nil, nil
}
func (m *mockStore) GetSetting(ctx context.Context, key string) (string, error) {
	return "", ports.ErrNotFound
}
func (m *mockStore) SetSetting(ctx context.Context, key, value string) error { return nil }
func (m *mockStore) CreatePendingConfirmation(ctx context.Context, pc *domain.PendingConfirmation) error {
	return nil
}
func (m *mockStore) ConsumePendingConfirmation(ctx context.Context, id string) (*domain.PendingConfirmation, error) {
	return nil, nil
}
func (m *mockStore) ListPendingConfirmations(ctx context.Context) ([]*domain.PendingConfirmation, error) {
	return m.pending, nil
}

type evalCall struct {
	tradeID string
	price   float64
}

type mockEvaluator struct {
	evals     []evalCall
	applies   int
	panicOnce bool
}

func (m *mockEvaluator) Evaluate(t *domain.Trade, price float64) []engine.Effect {
	if m.panicOnce {
		m.panicOnce = false
		panic("boom")
	}
	m.evals = append(m.evals, evalCall{t.ID, price})
	return nil
}

func (m *mockEvaluator) Apply(ctx context.Context, t *domain.Trade, effects []engine.Effect) error {
	m.applies++
	return nil
}

func testConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		Cooldown:     time.Millisecond,
		Retry:        RetryConfig{MaxAttempts: 3, Delay: time.Millisecond},
	}
}

func newTestMonitor(t *testing.T, store *mockStore, feed *mockFeed, eval *mockEvaluator) (*Monitor, *mockNotifier) {
	t.Helper()
	notifier := &mockNotifier{}
	m, err := New(testConfig(), store, feed, eval, notifier, &mockLogger{})
	require.NoError(t, err)
	return m, notifier
}

func openTrade(id, symbol string) *domain.Trade {
	return &domain.Trade{
		ID: id, Symbol: symbol, EntryPrice: 100, StopPrice: 90,
		InitialSize: 5, RemainingSize: 5, Direction: domain.Long,
		TPLadder: domain.BuildLadder(100, 200, domain.Long),
	}
}

func TestCycle_EvaluatesEveryOpenTrade(t *testing.T) {
	store := &mockStore{trades: map[string]*domain.Trade{
		"a": openTrade("a", "BTCUSDT"),
		"b": openTrade("b", "ETHUSDT"),
	}}
	feed := &mockFeed{prices: map[string]float64{"BTCUSDT": 105, "ETHUSDT": 106}}
	eval := &mockEvaluator{}
	m, _ := newTestMonitor(t, store, feed, eval)

	require.NoError(t, m.cycle(context.Background()))
	assert.Len(t, eval.evals, 2)
	assert.Equal(t, 2, eval.applies)
	assert.Equal(t, 1, feed.calls)
}

func TestCycle_EmptyOpenSetSkipsFeed(t *testing.T) {
	store := &mockStore{trades: map[string]*domain.Trade{}}
	feed := &mockFeed{}
	eval := &mockEvaluator{}
	m, _ := newTestMonitor(t, store, feed, eval)

	require.NoError(t, m.cycle(context.Background()))
	assert.Zero(t, feed.calls)
}

func TestCycle_RetryRecoversTransientFailure(t *testing.T) {
	store := &mockStore{trades: map[string]*domain.Trade{"a": openTrade("a", "BTCUSDT")}}
	feed := &mockFeed{prices: map[string]float64{"BTCUSDT": 105}, failUntil: 2}
	eval := &mockEvaluator{}
	m, _ := newTestMonitor(t, store, feed, eval)

	require.NoError(t, m.cycle(context.Background()))
	assert.Equal(t, 3, feed.calls)
	assert.Len(t, eval.evals, 1)
}

func TestCycle_RetryExhaustionSkipsCycleAndAlerts(t *testing.T) {
	store := &mockStore{trades: map[string]*domain.Trade{"a": openTrade("a", "BTCUSDT")}}
	feed := &mockFeed{failUntil: 100}
	eval := &mockEvaluator{}
	m, notifier := newTestMonitor(t, store, feed, eval)

	// Exhaustion is not a cycle error: the loop must keep its cadence.
	require.NoError(t, m.cycle(context.Background()))
	assert.Equal(t, 3, feed.calls)
	assert.Empty(t, eval.evals)
	require.NotEmpty(t, notifier.messages)
	assert.Contains(t, notifier.messages[0], "skipped a cycle")
}

func TestCycle_SkipsTradeClosedMidCycle(t *testing.T) {
	tr := openTrade("a", "BTCUSDT")
	store := &mockStore{trades: map[string]*domain.Trade{"a": tr}}
	feed := &mockFeed{prices: map[string]float64{"BTCUSDT": 105}}
	eval := &mockEvaluator{}
	m, _ := newTestMonitor(t, store, feed, eval)

	// Simulate a concurrent close between the open-set load and the
	// per-trade re-load: the snapshot still lists the trade, the store no
	// longer has it.
	store.stale = []*domain.Trade{tr}
	delete(store.trades, "a")

	require.NoError(t, m.cycle(context.Background()))
	assert.Empty(t, eval.evals)
	assert.Zero(t, eval.applies)
}

func TestCycle_MissingPriceSkipsTrade(t *testing.T) {
	store := &mockStore{trades: map[string]*domain.Trade{"a": openTrade("a", "BTCUSDT")}}
	feed := &mockFeed{prices: map[string]float64{}} // Feed succeeded but symbol absent
	eval := &mockEvaluator{}
	m, _ := newTestMonitor(t, store, feed, eval)

	require.NoError(t, m.cycle(context.Background()))
	assert.Empty(t, eval.evals)
}

func TestSafeCycle_RecoversPanic(t *testing.T) {
	store := &mockStore{trades: map[string]*domain.Trade{"a": openTrade("a", "BTCUSDT")}}
	feed := &mockFeed{prices: map[string]float64{"BTCUSDT": 105}}
	eval := &mockEvaluator{panicOnce: true}
	m, _ := newTestMonitor(t, store, feed, eval)

	err := m.safeCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// The next cycle runs normally.
	require.NoError(t, m.safeCycle(context.Background()))
	assert.Len(t, eval.evals, 1)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &mockStore{trades: map[string]*domain.Trade{}}
	feed := &mockFeed{}
	eval := &mockEvaluator{}
	m, _ := newTestMonitor(t, store, feed, eval)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
