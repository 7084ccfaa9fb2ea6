package app

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dauphongxd/tradingbot/internal/domain"
	"github.com/dauphongxd/tradingbot/internal/engine"
	"github.com/dauphongxd/tradingbot/internal/intake"
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
	prices map[string]float64
}

func (m *mockFeed) FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	return m.prices, nil
}

func (m *mockFeed) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return m.prices[symbol], nil
}

type mockExtractor struct {
	prices domain.ExtractedPrices
}

func (m *mockExtractor) Extract(ctx context.Context, imageRef string) (domain.ExtractedPrices, error) {
	return m.prices, nil
}

type mockStore struct {
	trades   map[string]*domain.Trade
	history  []*domain.HistoryRecord
	settings map[string]string
	pending  map[string]*domain.PendingConfirmation
}

func newMockStore() *mockStore {
	return &mockStore{
		trades:  map[string]*domain.Trade{},
		pending: map[string]*domain.PendingConfirmation{},
		settings: map[string]string{
			ports.SettingBalance:      "1000",
			ports.SettingLeverage:     "20",
			ports.SettingRiskPerTrade: "50",
		},
	}
}

func (m *mockStore) GetOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
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
	for _, t := range m.trades {
		if t.Symbol == symbol {
			return t, nil
		}
	}
	return nil, nil
}
func (m *mockStore) UpsertTrade(ctx context.Context, t *domain.Trade) error {
	m.trades[t.ID] = t
	return nil
}
func (m *mockStore) CloseTrade(ctx context.Context, id string, rec *domain.HistoryRecord) error {
	if _, ok := m.trades[id]; !ok {
		return ports.ErrNotFound
	}
	m.history = append(m.history, rec)
	delete(m.trades, id)
	return nil
}
func (m *mockStore) GetHistory(ctx context.Context) ([]*domain.HistoryRecord, error) {
	return m.history, nil
}
func (m *mockStore) GetSetting(ctx context.Context, key string) (string, error) {
	v, ok := m.settings[key]
	if !ok {
		return "", ports.ErrNotFound
	}
	return v, nil
}
func (m *mockStore) SetSetting(ctx context.Context, key, value string) error {
	m.settings[key] = value
	return nil
}
func (m *mockStore) CreatePendingConfirmation(ctx context.Context, pc *domain.PendingConfirmation) error {
	m.pending[pc.ID] = pc
	return nil
}
func (m *mockStore) ConsumePendingConfirmation(ctx context.Context, id string) (*domain.PendingConfirmation, error) {
	pc, ok := m.pending[id]
	if !ok {
		return nil, nil
	}
	delete(m.pending, id)
	return pc, nil
}
func (m *mockStore) ListPendingConfirmations(ctx context.Context) ([]*domain.PendingConfirmation, error) {
	out := make([]*domain.PendingConfirmation, 0, len(m.pending))
	for _, pc := range m.pending {
		out = append(out, pc)
	}
	return out, nil
}

func newTestService(t *testing.T, store *mockStore, feed *mockFeed) (*Service, *mockNotifier) {
	t.Helper()
	if feed == nil {
		feed = &mockFeed{prices: map[string]float64{}}
	}
	notifier := &mockNotifier{}
	log := &mockLogger{}

	eng, err := engine.New(store, feed, notifier, log)
	require.NoError(t, err)
	in, err := intake.New(intake.Config{}, store, eng, &mockExtractor{}, notifier, log)
	require.NoError(t, err)
	svc, err := New(Config{Store: store, Feed: feed, Engine: eng, Intake: in, Notifier: notifier, Logger: log})
	require.NoError(t, err)
	return svc, notifier
}

func TestBalance(t *testing.T) {
	svc, _ := newTestService(t, newMockStore(), nil)
	balance, err := svc.Balance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, balance, 1e-9)
}

func TestSetLeverage(t *testing.T) {
	store := newMockStore()
	svc, _ := newTestService(t, store, nil)
	ctx := context.Background()

	require.NoError(t, svc.SetLeverage(ctx, 10))
	assert.Equal(t, "10", store.settings[ports.SettingLeverage])

	assert.Error(t, svc.SetLeverage(ctx, 0))
	assert.Error(t, svc.SetLeverage(ctx, 126))
	// Unchanged after rejections.
	assert.Equal(t, "10", store.settings[ports.SettingLeverage])
}

func TestSetRisk(t *testing.T) {
	store := newMockStore()
	svc, _ := newTestService(t, store, nil)
	ctx := context.Background()

	require.NoError(t, svc.SetRisk(ctx, 25))
	assert.Equal(t, "25", store.settings[ports.SettingRiskPerTrade])

	assert.Error(t, svc.SetRisk(ctx, 0))
	assert.Error(t, svc.SetRisk(ctx, -5))
}

func TestManualClose(t *testing.T) {
	store := newMockStore()
	store.trades["t1"] = &domain.Trade{
		ID: "t1", Symbol: "BTCUSDT", EntryPrice: 100, StopPrice: 90,
		InitialSize: 5, RemainingSize: 5, Direction: domain.Long,
		TPLadder: domain.BuildLadder(100, 200, domain.Long),
	}
	feed := &mockFeed{prices: map[string]float64{"BTCUSDT": 110}}
	svc, _ := newTestService(t, store, feed)

	require.NoError(t, svc.ManualClose(context.Background(), "BTCUSDT"))
	assert.Empty(t, store.trades)
	require.Len(t, store.history, 1)
	assert.Equal(t, domain.CloseReasonManual, store.history[0].Reason)

	newBalance, err := strconv.ParseFloat(store.settings[ports.SettingBalance], 64)
	require.NoError(t, err)
	assert.InDelta(t, 1050.0, newBalance, 1e-9) // 5 size * 10 move
}

func TestManualClose_NoOpenTrade(t *testing.T) {
	svc, notifier := newTestService(t, newMockStore(), nil)

	err := svc.ManualClose(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	require.NotEmpty(t, notifier.messages)
	assert.Contains(t, notifier.messages[0], "No open trade")
}

func TestPositionsReport(t *testing.T) {
	store := newMockStore()
	store.trades["t1"] = &domain.Trade{
		ID: "t1", Symbol: "BTCUSDT", EntryPrice: 100, StopPrice: 90,
		InitialSize: 5, RemainingSize: 4.5, Direction: domain.Long, RealizedPnL: 5,
		TPLadder: domain.BuildLadder(100, 200, domain.Long), OpenedAt: time.Now().UTC(),
	}
	feed := &mockFeed{prices: map[string]float64{"BTCUSDT": 120}}
	svc, _ := newTestService(t, store, feed)

	report, err := svc.PositionsReport(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report, "BTCUSDT")
	assert.Contains(t, report, "LONG")
	// Floating PnL of the remaining 4.5 at +20.
	assert.Contains(t, report, "90.00")
}

func TestPositionsReport_Empty(t *testing.T) {
	svc, _ := newTestService(t, newMockStore(), nil)
	report, err := svc.PositionsReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No open positions.", report)
}

func TestHistoryReport_Empty(t *testing.T) {
	svc, _ := newTestService(t, newMockStore(), nil)
	report, err := svc.HistoryReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No closed trades yet.", report)
}
