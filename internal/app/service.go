package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dauphongxd/tradingbot/internal/domain"
	"github.com/dauphongxd/tradingbot/internal/engine"
	"github.com/dauphongxd/tradingbot/internal/intake"
	"github.com/dauphongxd/tradingbot/internal/ports"
)

// Service exposes the operator command surface. It wires the signal intake,
// the lifecycle engine and the ledger store behind the handful of commands
// an operator issues by hand.
type Service struct {
	store    ports.LedgerStore
	feed     ports.PriceFeed
	eng      *engine.Engine
	intake   *intake.Intake
	notifier ports.Notifier
	logger   ports.Logger
}

// Config holds the dependencies for the application service.
type Config struct {
	Store    ports.LedgerStore
	Feed     ports.PriceFeed
	Engine   *engine.Engine
	Intake   *intake.Intake
	Notifier ports.Notifier
	Logger   ports.Logger
}

// New creates the application service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Feed == nil || cfg.Engine == nil || cfg.Intake == nil || cfg.Notifier == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("all dependencies (store, feed, engine, intake, notifier, logger) are required")
	}
	return &Service{
		store:    cfg.Store,
		feed:     cfg.Feed,
		eng:      cfg.Engine,
		intake:   cfg.Intake,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}, nil
}

// PositionStatus pairs an open trade with its current mark and the
// unrealized result of the remaining size.
type PositionStatus struct {
	Trade       *domain.Trade
	MarkPrice   float64
	FloatingPnL float64
}

// Balance returns the current paper balance.
func (s *Service) Balance(ctx context.Context) (float64, error) {
	return s.eng.Balance(ctx)
}

// Positions returns every open trade with its floating PnL at current prices.
func (s *Service) Positions(ctx context.Context) ([]PositionStatus, error) {
	op := "Positions"
	trades, err := s.store.GetOpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to load open trades: %w", op, err)
	}
	if len(trades) == 0 {
		return nil, nil
	}

	symbols := make([]string, 0, len(trades))
	seen := make(map[string]bool, len(trades))
	for _, t := range trades {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			symbols = append(symbols, t.Symbol)
		}
	}
	prices, err := s.feed.FetchPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to fetch prices: %w", op, err)
	}

	statuses := make([]PositionStatus, 0, len(trades))
	for _, t := range trades {
		mark, ok := prices[t.Symbol]
		if !ok {
			s.logger.Warn(ctx, op+": no price for open position", map[string]interface{}{"symbol": t.Symbol})
		}
		status := PositionStatus{Trade: t, MarkPrice: mark}
		if ok {
			status.FloatingPnL = t.PnL(mark, t.RemainingSize)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// PositionsReport renders the open positions as a text report.
func (s *Service) PositionsReport(ctx context.Context) (string, error) {
	statuses, err := s.Positions(ctx)
	if err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "No open positions.", nil
	}

	var sb strings.Builder
	sb.WriteString("Open positions:\n")
	for _, st := range statuses {
		t := st.Trade
		fmt.Fprintf(&sb, "%s %s | entry %.4f | stop %.4f | size %.6f/%.6f",
			t.Symbol, t.Direction, t.EntryPrice, t.StopPrice, t.RemainingSize, t.InitialSize)
		if st.MarkPrice > 0 {
			fmt.Fprintf(&sb, " | mark %.4f | floating %.2f", st.MarkPrice, st.FloatingPnL)
		}
		fmt.Fprintf(&sb, " | realized %.2f\n", t.RealizedPnL)
	}
	return sb.String(), nil
}

// HistoryReport renders the most recent closed trades as a text report.
func (s *Service) HistoryReport(ctx context.Context) (string, error) {
	records, err := s.store.GetHistory(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No closed trades yet.", nil
	}

	const maxRows = 20
	if len(records) > maxRows {
		records = records[:maxRows]
	}
	var sb strings.Builder
	sb.WriteString("Trade history:\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "%s %s %s | entry %.4f | exit %.4f | pnl %.2f | %s\n",
			r.ClosedAt.Format("2006-01-02 15:04"), r.Symbol, r.Direction, r.EntryPrice, r.ExitPrice, r.PnL, r.Reason)
	}
	return sb.String(), nil
}

// History returns the closed-trade records, newest first.
func (s *Service) History(ctx context.Context) ([]*domain.HistoryRecord, error) {
	return s.store.GetHistory(ctx)
}

// SetLeverage updates the leverage applied to subsequent trades.
// Existing open trades keep the leverage they were opened with.
func (s *Service) SetLeverage(ctx context.Context, leverage float64) error {
	op := "SetLeverage"
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("%s: leverage %.2f is outside the allowed range [1, 125]", op, leverage)
	}
	value := strconv.FormatFloat(leverage, 'f', -1, 64)
	if err := s.store.SetSetting(ctx, ports.SettingLeverage, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info(ctx, op+" updated", map[string]interface{}{"leverage": leverage})
	s.notifyf(ctx, "Leverage set to %sx.", value)
	return nil
}

// SetRisk updates the fixed currency amount risked per trade.
func (s *Service) SetRisk(ctx context.Context, risk float64) error {
	op := "SetRisk"
	if risk <= 0 {
		return fmt.Errorf("%s: risk must be positive, got %.2f", op, risk)
	}
	value := strconv.FormatFloat(risk, 'f', -1, 64)
	if err := s.store.SetSetting(ctx, ports.SettingRiskPerTrade, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info(ctx, op+" updated", map[string]interface{}{"risk": risk})
	s.notifyf(ctx, "Risk per trade set to %s.", value)
	return nil
}

// ManualClose closes the open trade for the given symbol at the current
// market price.
func (s *Service) ManualClose(ctx context.Context, symbol string) error {
	op := "ManualClose"
	t, err := s.store.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if t == nil {
		s.notifyf(ctx, "No open trade found for %s.", symbol)
		return fmt.Errorf("%s: no open trade for %s: %w", op, symbol, ports.ErrNotFound)
	}
	if err := s.eng.CloseAtMarket(ctx, t, domain.CloseReasonManual); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info(ctx, op+" executed", map[string]interface{}{"symbol": symbol, "tradeID": t.ID})
	return nil
}

// PendingConfirmations lists the deferred signals awaiting a decision.
func (s *Service) PendingConfirmations(ctx context.Context) ([]*domain.PendingConfirmation, error) {
	return s.store.ListPendingConfirmations(ctx)
}

// HandleSignal forwards an incoming signal to the intake pipeline.
func (s *Service) HandleSignal(ctx context.Context, sig domain.Signal) error {
	return s.intake.HandleSignal(ctx, sig)
}

// Confirm executes a previously deferred signal.
func (s *Service) Confirm(ctx context.Context, requestID string) error {
	return s.intake.Confirm(ctx, requestID)
}

// Ignore discards a previously deferred signal.
func (s *Service) Ignore(ctx context.Context, requestID string) error {
	return s.intake.Ignore(ctx, requestID)
}

func (s *Service) notifyf(ctx context.Context, format string, args ...interface{}) {
	if err := s.notifier.Send(ctx, fmt.Sprintf(format, args...)); err != nil {
		s.logger.Warn(ctx, "Failed to send notification", map[string]interface{}{"error": err.Error()})
	}
}
