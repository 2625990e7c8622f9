// Package selectivedca runs the selective dollar-cost-averaging cycles: buying
// the most undervalued eligible market and maintaining the scalp sells of
// every open position.
package selectivedca

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/lifecycle"
	"github.com/vadiminshakov/selectivedca/internal/services/selector"
	"go.uber.org/zap"
)

// Gateway is the exchange surface used by the cycles.
type Gateway interface {
	lifecycle.Gateway

	MarketParams(ctx context.Context, market domain.Pair) (domain.MarketQuantizationParams, error)
	CurrentAsk(ctx context.Context, market domain.Pair) (decimal.Decimal, error)
	CurrentPrice(ctx context.Context, market domain.Pair) (decimal.Decimal, error)
	// MarketBuy fails with domain.ErrOrderNotFilled when the order did not fill.
	MarketBuy(ctx context.Context, market domain.Pair, qty decimal.Decimal, clientOrderID string) (domain.BuyFill, error)
	MarketSell(ctx context.Context, market domain.Pair, qty decimal.Decimal) (domain.SellFill, error)
	// BuyByClientID returns nil when the exchange has no order with the id.
	BuyByClientID(ctx context.Context, market domain.Pair, clientOrderID string) (*domain.BuyFill, error)
	Candles(ctx context.Context, market domain.Pair, interval string, limit int) ([]domain.Candle, error)
	CandleAt(ctx context.Context, market domain.Pair, interval string, at time.Time) (domain.Candle, error)
}

// Store persists positions and market params.
type Store interface {
	lifecycle.Store

	CreatePosition(ctx context.Context, p *domain.Position) error
	Position(ctx context.Context, id int64) (*domain.Position, error)
	OpenPositions(ctx context.Context) ([]*domain.Position, error)
	LastPositions(ctx context.Context, n int) ([]*domain.Position, error)
	PositionByBuyOrder(ctx context.Context, exchange domain.Exchange, orderID string) (*domain.Position, error)
	MarketParams(ctx context.Context, exchange domain.Exchange, market domain.Pair) (domain.MarketQuantizationParams, error)
}

// Recorder observes cycle outcomes.
type Recorder interface {
	ObserveBuy(ref domain.MarketRef, spent decimal.Decimal)
	ObserveDecision(d lifecycle.Decision)
	ObserveSold(p *domain.Position)
}

type nopRecorder struct{}

func (nopRecorder) ObserveBuy(domain.MarketRef, decimal.Decimal) {}
func (nopRecorder) ObserveDecision(lifecycle.Decision)          {}
func (nopRecorder) ObserveSold(*domain.Position)                {}

// Config holds the buy side tunables.
type Config struct {
	// Watchlist are the markets eligible for buying.
	Watchlist          []domain.MarketRef
	MaxConsecutiveBuys int
	MaxHoldingsPct     decimal.Decimal
	RecentBuys         selector.RecentBuysPolicy
}

// Strategy runs buy and revision cycles over a set of exchanges.
type Strategy struct {
	l        *zap.Logger
	cfg      Config
	gateways map[domain.Exchange]Gateway
	store    Store
	journal  *Journal
	engine   *lifecycle.Engine
	selector *selector.Selector
	recorder Recorder
	now      func() time.Time
}

// Option customizes a Strategy.
type Option func(*Strategy)

// WithRecorder sets the telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Strategy) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Strategy) {
		s.now = now
	}
}

// NewStrategy wires a strategy. Every gateway is keyed by its Name.
func NewStrategy(l *zap.Logger, cfg Config, gateways []Gateway, store Store, journal *Journal,
	engine *lifecycle.Engine, sel *selector.Selector, opts ...Option) (*Strategy, error) {
	if len(gateways) == 0 {
		return nil, fmt.Errorf("at least one exchange gateway is required")
	}
	if cfg.MaxConsecutiveBuys < 0 {
		return nil, fmt.Errorf("max consecutive buys must not be negative, got %d", cfg.MaxConsecutiveBuys)
	}

	byName := make(map[domain.Exchange]Gateway, len(gateways))
	for _, gw := range gateways {
		byName[gw.Name()] = gw
	}

	s := &Strategy{
		l:        l,
		cfg:      cfg,
		gateways: byName,
		store:    store,
		journal:  journal,
		engine:   engine,
		selector: sel,
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Strategy) gateway(exchange domain.Exchange) (Gateway, error) {
	gw, ok := s.gateways[exchange]
	if !ok {
		return nil, fmt.Errorf("no gateway configured for exchange %q", exchange)
	}
	return gw, nil
}

func (s *Strategy) exchanges() []domain.Exchange {
	out := make([]domain.Exchange, 0, len(s.gateways))
	for e := range s.gateways {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// watchlistAssets lists each watched asset once, even when several exchanges watch it.
func (s *Strategy) watchlistAssets() []string {
	seen := make(map[string]bool, len(s.cfg.Watchlist))
	out := make([]string, 0, len(s.cfg.Watchlist))
	for _, m := range s.cfg.Watchlist {
		if !seen[m.Pair.From] {
			seen[m.Pair.From] = true
			out = append(out, m.Pair.From)
		}
	}
	return out
}

// groupByMarket splits positions of one exchange per market, markets sorted by symbol.
func groupByMarket(positions []*domain.Position, exchange domain.Exchange) ([]domain.Pair, map[domain.Pair][]*domain.Position) {
	groups := make(map[domain.Pair][]*domain.Position)
	var markets []domain.Pair
	for _, p := range positions {
		if p.Exchange != exchange {
			continue
		}
		if _, ok := groups[p.Market]; !ok {
			markets = append(markets, p.Market)
		}
		groups[p.Market] = append(groups[p.Market], p)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol() < markets[j].Symbol() })
	return markets, groups
}
