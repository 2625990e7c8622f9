package internal

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/selectivedca/config"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/lock"
	"github.com/vadiminshakov/selectivedca/internal/services/market/metrics"
	"github.com/vadiminshakov/selectivedca/internal/services/selector"
	"github.com/vadiminshakov/selectivedca/internal/services/strategy/selectivedca"
	"github.com/vadiminshakov/selectivedca/internal/storage/positions"
	"github.com/vadiminshakov/selectivedca/internal/telemetry"
	gatewaymock "github.com/vadiminshakov/selectivedca/mocks/gateway"
)

var (
	runAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	eth   = domain.NewPair("ETH", "USDT")
	ada   = domain.NewPair("ADA", "USDT")
	xlm   = domain.NewPair("XLM", "USDT")
)

type fakeStrategy struct {
	revision    selectivedca.RevisionOutcome
	buy         selectivedca.BuyOutcome
	liquidated  *domain.Position
	revised     bool
	buyMetrics  []domain.Metric
	buyAmount   decimal.Decimal
	bought      bool
	liquidateID int64

	// when set, the buy draw runs the real selector over the given watchlist
	selector  *selector.Selector
	watchlist []domain.MarketRef
}

func (f *fakeStrategy) ReconcileIntents(context.Context) ([]*domain.Position, error) {
	return nil, nil
}

func (f *fakeStrategy) RunSellRevisionCycle(_ context.Context, _ []domain.Metric) (selectivedca.RevisionOutcome, error) {
	f.revised = true
	return f.revision, nil
}

func (f *fakeStrategy) RunBuyCycle(_ context.Context, ms []domain.Metric, amount decimal.Decimal) (selectivedca.BuyOutcome, error) {
	f.bought = true
	f.buyMetrics = ms
	f.buyAmount = amount
	if f.selector != nil {
		sel, err := f.selector.Select(selector.Input{Metrics: ms, Watchlist: f.watchlist, MaxHoldingsPct: decimal.NewFromInt(1)})
		if err != nil && !errors.Is(err, domain.ErrNoCandidates) {
			return f.buy, err
		}
		f.buy.Selection = sel
	}
	return f.buy, nil
}

func (f *fakeStrategy) Liquidate(_ context.Context, id int64) (*domain.Position, error) {
	f.liquidateID = id
	return f.liquidated, nil
}

type fakeMetrics struct {
	computed [][]domain.Pair
	// price to MA by symbol, 0.5 when missing
	ratios map[string]string
}

func (f *fakeMetrics) Compute(_ context.Context, src metrics.CandleSource, markets []domain.Pair) ([]domain.Metric, []metrics.Failure, error) {
	f.computed = append(f.computed, markets)
	out := make([]domain.Metric, 0, len(markets))
	for _, m := range markets {
		ratio := "0.5"
		if r, ok := f.ratios[m.Symbol()]; ok {
			ratio = r
		}
		out = append(out, domain.Metric{
			Exchange:      src.Name(),
			Market:        m,
			Close:         decimal.NewFromInt(1),
			MAPeriod:      200,
			MovingAverage: decimal.NewFromInt(2),
			PriceToMA:     decimal.RequireFromString(ratio),
		})
	}
	return out, nil, nil
}

type message struct {
	title, body string
}

type fakeNotifier struct {
	sent []message
}

func (f *fakeNotifier) Notify(_ context.Context, title, body string) error {
	f.sent = append(f.sent, message{title, body})
	return nil
}

type fakeArchiver struct {
	at        time.Time
	report    string
	positions int
}

func (f *fakeArchiver) Run(_ context.Context, at time.Time, report string, ps []*domain.Position) ([]string, error) {
	f.at, f.report, f.positions = at, report, len(ps)
	return []string{"k"}, nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func params(market domain.Pair) domain.MarketQuantizationParams {
	return domain.MarketQuantizationParams{
		Exchange:      domain.ExchangeBinance,
		Market:        market,
		PriceTickSize: decimal.RequireFromString("0.01"),
		LotStepSize:   decimal.RequireFromString("0.0001"),
		MinNotional:   decimal.NewFromInt(5),
	}
}

type harness struct {
	bot      *TradingBot
	store    *positions.WALStore
	gw       *gatewaymock.Gateway
	strategy *fakeStrategy
	metrics  *fakeMetrics
	notifier *fakeNotifier
	archiver *fakeArchiver
	out      *bytes.Buffer
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	store, err := positions.NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gw := gatewaymock.NewGateway(t)
	gw.On("Name").Return(domain.ExchangeBinance).Maybe()

	h := &harness{
		store:    store,
		gw:       gw,
		strategy: &fakeStrategy{},
		metrics:  &fakeMetrics{},
		notifier: &fakeNotifier{},
		archiver: &fakeArchiver{},
		out:      &bytes.Buffer{},
	}
	h.bot = &TradingBot{
		l:        zap.NewNop(),
		cfg:      cfg,
		gateways: []selectivedca.Gateway{gw},
		store:    store,
		strategy: h.strategy,
		metrics:  h.metrics,
		locker:   lock.NopLocker{},
		notifier: h.notifier,
		archiver: h.archiver,
		recorder: telemetry.NewRecorder(),
		out:      h.out,
		now:      func() time.Time { return runAt },
	}
	return h
}

func baseConfig() config.Config {
	return config.Config{
		Exchanges: []domain.Exchange{domain.ExchangeBinance},
		Base:      "USDT",
		Watchlist: map[domain.Exchange][]string{domain.ExchangeBinance: {"ETH", "ADA"}},
	}
}

func openPosition(t *testing.T, market domain.Pair, orderID string) *domain.Position {
	t.Helper()
	p, err := domain.NewPosition(domain.ExchangeBinance, market, domain.BuyFill{
		OrderID:   orderID,
		Price:     decimal.NewFromInt(2),
		Quantity:  decimal.NewFromInt(10),
		Timestamp: runAt.Add(-time.Hour),
	}, []string{"ETH", "ADA"})
	require.NoError(t, err)
	return p
}

func TestRun_ReviseAndBuy(t *testing.T) {
	cfg := baseConfig()
	cfg.Live = true
	cfg.UpdateOrders = true
	cfg.BuyAmount = decimal.NewFromInt(10)
	h := newHarness(t, cfg)
	ctx := context.Background()

	// XLM was watched by an earlier run and already has params
	_, err := h.store.MergeWatchlist(ctx, domain.ExchangeBinance, []string{"XLM"})
	require.NoError(t, err)
	require.NoError(t, h.store.SaveMarketParams(ctx, params(xlm)))

	h.gw.On("MarketParams", mock.Anything, eth).Return(params(eth), nil).Once()
	h.gw.On("MarketParams", mock.Anything, ada).Return(domain.MarketQuantizationParams{}, errors.New("invalid symbol")).Once()

	sold := openPosition(t, ada, "1")
	require.NoError(t, sold.Close(decimal.NewFromInt(3), decimal.NewFromInt(7), runAt))
	h.strategy.revision = selectivedca.RevisionOutcome{Sold: []*domain.Position{sold}}

	bought := openPosition(t, eth, "2")
	require.NoError(t, h.store.CreatePosition(ctx, bought))
	chosen := selector.Candidate{Metric: domain.Metric{Exchange: domain.ExchangeBinance, Market: eth, PriceToMA: decimal.RequireFromString("0.5"), MAPeriod: 200}, Entries: 1}
	h.strategy.buy = selectivedca.BuyOutcome{
		Selection: selector.Selection{Candidates: []selector.Candidate{chosen}, TotalEntries: 1, Chosen: &chosen},
		Position:  bought,
	}

	require.NoError(t, h.bot.Run(ctx))

	allTime, err := h.store.AllTimeWatchlist(ctx, domain.ExchangeBinance)
	require.NoError(t, err)
	assert.Equal(t, []string{"ADA", "ETH", "XLM"}, allTime)

	_, err = h.store.MarketParams(ctx, domain.ExchangeBinance, eth)
	assert.NoError(t, err)
	_, err = h.store.MarketParams(ctx, domain.ExchangeBinance, ada)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, h.metrics.computed, 1)
	assert.ElementsMatch(t, []domain.Pair{ada, eth, xlm}, h.metrics.computed[0])

	assert.True(t, h.strategy.revised)
	require.True(t, h.strategy.bought)
	assert.True(t, decimal.NewFromInt(10).Equal(h.strategy.buyAmount))
	buyMarkets := make([]domain.Pair, 0, len(h.strategy.buyMetrics))
	for _, m := range h.strategy.buyMetrics {
		buyMarkets = append(buyMarkets, m.Market)
	}
	assert.ElementsMatch(t, []domain.Pair{ada, eth, xlm}, buyMarkets)

	require.Len(t, h.notifier.sent, 2)
	assert.Equal(t, "SOLD 1 positions", h.notifier.sent[0].title)
	assert.Equal(t, "Bought 10 ETH (50.00% of 200-period MA)", h.notifier.sent[1].title)
	assert.Contains(t, h.notifier.sent[1].body, "Buy lottery")

	assert.Contains(t, h.out.String(), "ADAUSDT: sold 7")
	assert.Contains(t, h.out.String(), "Open positions")
	assert.Equal(t, runAt, h.archiver.at)
	assert.Equal(t, 1, h.archiver.positions)
	assert.Contains(t, h.archiver.report, "Current profit")
}

func TestRun_HistoricalMarketsSetLotteryMax(t *testing.T) {
	cfg := baseConfig()
	cfg.Watchlist = map[domain.Exchange][]string{domain.ExchangeBinance: {"ADA", "XLM"}}
	cfg.BuyAmount = decimal.NewFromInt(10)
	h := newHarness(t, cfg)
	ctx := context.Background()

	doge := domain.NewPair("DOGE", "USDT")
	_, err := h.store.MergeWatchlist(ctx, domain.ExchangeBinance, []string{"DOGE"})
	require.NoError(t, err)
	h.gw.On("MarketParams", mock.Anything, mock.Anything).Return(
		func(_ context.Context, m domain.Pair) domain.MarketQuantizationParams { return params(m) }, nil)

	h.metrics.ratios = map[string]string{"ADAUSDT": "0.8", "XLMUSDT": "0.9", "DOGEUSDT": "1.2"}
	h.strategy.selector = selector.New(nil)
	h.strategy.watchlist = cfg.Markets()

	require.NoError(t, h.bot.Run(ctx))

	buyMarkets := make([]domain.Pair, 0, len(h.strategy.buyMetrics))
	for _, m := range h.strategy.buyMetrics {
		buyMarkets = append(buyMarkets, m.Market)
	}
	assert.ElementsMatch(t, []domain.Pair{ada, xlm, doge}, buyMarkets)

	sel := h.strategy.buy.Selection
	assert.True(t, decimal.RequireFromString("1.2").Equal(sel.MaxPriceToMA), "max %s", sel.MaxPriceToMA)
	require.Len(t, sel.Candidates, 2)
	assert.Equal(t, ada, sel.Candidates[0].Metric.Market)
	assert.Equal(t, int64(64000), sel.Candidates[0].Entries)
	assert.Equal(t, xlm, sel.Candidates[1].Metric.Market)
	assert.Equal(t, int64(27000), sel.Candidates[1].Entries)
	assert.Equal(t, int64(91000), sel.TotalEntries)

	assert.Contains(t, h.out.String(), "64000")
	assert.NotContains(t, h.out.String(), "DOGEUSDT")
}

func TestRun_ReportOnly(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.gw.On("MarketParams", mock.Anything, mock.Anything).Return(
		func(_ context.Context, m domain.Pair) domain.MarketQuantizationParams { return params(m) }, nil)

	require.NoError(t, h.bot.Run(context.Background()))

	assert.False(t, h.strategy.revised)
	assert.False(t, h.strategy.bought)
	assert.Empty(t, h.notifier.sent)
	assert.Contains(t, h.out.String(), "Open positions")
	assert.NotContains(t, h.out.String(), "Buy lottery")
}

func TestRun_PaperRunDoesNotNotify(t *testing.T) {
	cfg := baseConfig()
	cfg.BuyAmount = decimal.NewFromInt(10)
	h := newHarness(t, cfg)
	h.gw.On("MarketParams", mock.Anything, mock.Anything).Return(
		func(_ context.Context, m domain.Pair) domain.MarketQuantizationParams { return params(m) }, nil)

	bought := openPosition(t, eth, "2")
	chosen := selector.Candidate{Metric: domain.Metric{Market: eth}}
	h.strategy.buy = selectivedca.BuyOutcome{Selection: selector.Selection{Chosen: &chosen}, Position: bought}

	require.NoError(t, h.bot.Run(context.Background()))
	assert.True(t, h.strategy.bought)
	assert.Empty(t, h.notifier.sent)
}

func TestRun_RecheckParams(t *testing.T) {
	cfg := baseConfig()
	cfg.Watchlist = map[domain.Exchange][]string{domain.ExchangeBinance: {"ETH"}}
	cfg.RecheckParams = true
	h := newHarness(t, cfg)
	ctx := context.Background()

	stale := params(eth)
	stale.MinNotional = decimal.NewFromInt(1)
	require.NoError(t, h.store.SaveMarketParams(ctx, stale))
	h.gw.On("MarketParams", mock.Anything, eth).Return(params(eth), nil).Once()

	require.NoError(t, h.bot.Run(ctx))

	got, err := h.store.MarketParams(ctx, domain.ExchangeBinance, eth)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5).Equal(got.MinNotional))
}

func TestRun_Liquidate(t *testing.T) {
	cfg := baseConfig()
	cfg.Live = true
	cfg.Liquidate = 5
	cfg.BuyAmount = decimal.NewFromInt(10)
	h := newHarness(t, cfg)
	h.gw.On("MarketParams", mock.Anything, mock.Anything).Return(
		func(_ context.Context, m domain.Pair) domain.MarketQuantizationParams { return params(m) }, nil)

	pos := openPosition(t, eth, "9")
	require.NoError(t, pos.Close(decimal.NewFromInt(2), decimal.NewFromInt(10), runAt))
	h.strategy.liquidated = pos

	require.NoError(t, h.bot.Run(context.Background()))

	assert.Equal(t, int64(5), h.strategy.liquidateID)
	assert.False(t, h.strategy.bought)
	assert.Contains(t, h.out.String(), "ETHUSDT: sold 10")
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, "SOLD 1 positions", h.notifier.sent[0].title)
}

func TestRun_LockHeld(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.bot.locker = heldLocker{}

	err := h.bot.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, h.metrics.computed)
}

func TestNewTradingBot_PaperBittrex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "exchanges: [bittrex]\nbase: USDT\nwatchlist:\n  bittrex: [ETH]\nstate_dir: " + dir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := config.Load(config.Flags{ConfigPath: path})
	require.NoError(t, err)

	var out bytes.Buffer
	bot, err := NewTradingBot(context.Background(), zap.NewNop(), cfg, &out)
	require.NoError(t, err)
	defer bot.Close()

	// bittrex has no market data, so the run degrades to an empty report
	require.NoError(t, bot.Run(context.Background()))
	assert.Contains(t, out.String(), "Open positions")
	assert.DirExists(t, filepath.Join(dir, "paper", "positions"))
}
