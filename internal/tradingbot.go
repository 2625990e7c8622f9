package internal

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/selectivedca/config"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/lock"
	"github.com/vadiminshakov/selectivedca/internal/report"
	"github.com/vadiminshakov/selectivedca/internal/services/lifecycle"
	"github.com/vadiminshakov/selectivedca/internal/services/market/metrics"
	"github.com/vadiminshakov/selectivedca/internal/services/selector"
	"github.com/vadiminshakov/selectivedca/internal/services/strategy/selectivedca"
	"github.com/vadiminshakov/selectivedca/internal/telemetry"
)

// Store is everything a run reads and writes besides what the strategy needs.
type Store interface {
	selectivedca.Store

	Positions(ctx context.Context) ([]*domain.Position, error)
	SaveMarketParams(ctx context.Context, p domain.MarketQuantizationParams) error
	AllTimeWatchlist(ctx context.Context, exchange domain.Exchange) ([]string, error)
	MergeWatchlist(ctx context.Context, exchange domain.Exchange, active []string) ([]string, error)
}

// Strategy runs the trading cycles.
type Strategy interface {
	ReconcileIntents(ctx context.Context) ([]*domain.Position, error)
	RunSellRevisionCycle(ctx context.Context, metrics []domain.Metric) (selectivedca.RevisionOutcome, error)
	RunBuyCycle(ctx context.Context, metrics []domain.Metric, amount decimal.Decimal) (selectivedca.BuyOutcome, error)
	Liquidate(ctx context.Context, id int64) (*domain.Position, error)
}

// MetricsCalculator derives market metrics from candles.
type MetricsCalculator interface {
	Compute(ctx context.Context, src metrics.CandleSource, markets []domain.Pair) ([]domain.Metric, []metrics.Failure, error)
}

// Notifier delivers a titled message.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Archiver stores the outcome of a run.
type Archiver interface {
	Run(ctx context.Context, at time.Time, report string, positions []*domain.Position) ([]string, error)
}

// TradingBot performs one invocation: sync state with the exchanges, maintain
// the sell orders, buy and report.
type TradingBot struct {
	l        *zap.Logger
	cfg      config.Config
	gateways []selectivedca.Gateway
	store    Store
	strategy Strategy
	metrics  MetricsCalculator
	locker   lock.Locker
	notifier Notifier
	archiver Archiver
	recorder *telemetry.Recorder
	out      io.Writer
	now      func() time.Time
	closers  []func()
}

// NewTradingBot wires every dependency of a run from cfg. Reports are printed
// to out.
func NewTradingBot(ctx context.Context, l *zap.Logger, cfg config.Config, out io.Writer) (*TradingBot, error) {
	b := &TradingBot{
		l:        l,
		cfg:      cfg,
		recorder: telemetry.NewRecorder(),
		notifier: newNotifier(l, cfg.Notify),
		out:      out,
		now:      time.Now,
	}
	fail := func(err error) (*TradingBot, error) {
		b.Close()
		return nil, err
	}

	var err error
	if b.gateways, err = newGateways(l, cfg, newRetrier(l)); err != nil {
		return fail(err)
	}

	store, closeStore, err := openStore(ctx, l, cfg)
	if err != nil {
		return fail(err)
	}
	b.store = store
	b.closers = append(b.closers, closeStore)

	journal, err := selectivedca.OpenJournal(cfg.Dir("intents"))
	if err != nil {
		return fail(errors.Wrap(err, "failed to open buy journal"))
	}
	b.closers = append(b.closers, func() {
		if err := journal.Close(); err != nil {
			l.Error("failed to close buy journal", zap.Error(err))
		}
	})

	locker, closeLocker, err := openLocker(ctx, l, cfg)
	if err != nil {
		return fail(errors.Wrap(err, "failed to connect run lock"))
	}
	b.locker = locker
	b.closers = append(b.closers, closeLocker)

	if b.archiver, err = newArchiver(ctx, cfg.Archive); err != nil {
		return fail(err)
	}

	calc, err := metrics.NewCalculator(l, metrics.Config{
		Interval:    cfg.Strategy.Interval,
		Periods:     cfg.Strategy.MAPeriods,
		Concurrency: cfg.Strategy.MetricsConcurrency,
	})
	if err != nil {
		return fail(errors.Wrap(err, "invalid metrics config"))
	}
	b.metrics = calc

	strategy, err := selectivedca.NewStrategy(l,
		selectivedca.Config{
			Watchlist:          cfg.Markets(),
			MaxConsecutiveBuys: cfg.Strategy.MaxConsecutiveBuys,
			MaxHoldingsPct:     cfg.Strategy.MaxHoldingsPct,
			RecentBuys:         cfg.Strategy.RecentBuys,
		},
		b.gateways,
		store,
		journal,
		lifecycle.NewEngine(l, store, cfg.Strategy.Policy),
		selector.New(nil),
		selectivedca.WithRecorder(b.recorder),
	)
	if err != nil {
		return fail(errors.Wrap(err, "failed to create strategy"))
	}
	b.strategy = strategy

	return b, nil
}

// Close releases storage and connections.
func (b *TradingBot) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func (b *TradingBot) lockKey() string {
	return "selectivedca:run:" + b.cfg.Mode()
}

// Run executes one invocation.
func (b *TradingBot) Run(ctx context.Context) error {
	release, err := b.locker.Acquire(ctx, b.lockKey(), b.cfg.Redis.LockTTL)
	if err != nil {
		return errors.Wrap(err, "failed to acquire run lock")
	}
	defer release()

	recovered, err := b.strategy.ReconcileIntents(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to reconcile buy intents")
	}
	if len(recovered) > 0 {
		b.l.Info("recovered positions of interrupted buys", zap.Int("count", len(recovered)))
	}

	watched, err := b.syncWatchlists(ctx)
	if err != nil {
		return err
	}
	if err := b.refreshParams(ctx, watched); err != nil {
		return err
	}
	all, err := b.computeMetrics(ctx, watched)
	if err != nil {
		return err
	}
	prices := report.PricesFromMetrics(all)

	switch {
	case b.cfg.Liquidate > 0:
		return b.liquidate(ctx, b.cfg.Liquidate)
	case b.cfg.PerformanceReport:
		return b.performance(ctx, prices)
	}

	if b.cfg.UpdateOrders {
		if err := b.revise(ctx, all); err != nil {
			return err
		}
	}

	var bought *selectivedca.BuyOutcome
	if b.cfg.BuyAmount.IsPositive() {
		// historical markets only raise the max ratio, the selector buys from the watchlist
		outcome, err := b.strategy.RunBuyCycle(ctx, all, b.cfg.BuyAmount)
		if err != nil {
			return errors.Wrap(err, "buy cycle failed")
		}
		bought = &outcome
	} else {
		b.l.Info("buy amount is zero, reporting only")
	}

	positions, err := b.store.Positions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load positions")
	}

	var sections []string
	if bought != nil {
		sections = append(sections, report.Lottery(bought.Selection))
	}
	sections = append(sections,
		report.OpenPositions(positions),
		report.Scalped(positions),
		report.CurrentProfit(positions, prices),
	)
	summary := strings.Join(sections, "\n\n")
	fmt.Fprintln(b.out, summary)

	if bought != nil && bought.Position != nil && bought.Selection.Chosen != nil {
		b.notify(ctx, report.BoughtTitle(bought.Position, bought.Selection.Chosen.Metric), summary)
	}

	b.archive(ctx, summary, positions)
	b.publish(ctx, positions)
	return nil
}

// syncWatchlists folds the configured watchlists into the stored all-time
// lists and returns the markets of the latter per exchange.
func (b *TradingBot) syncWatchlists(ctx context.Context) (map[domain.Exchange][]domain.Pair, error) {
	out := make(map[domain.Exchange][]domain.Pair, len(b.gateways))
	for _, gw := range b.gateways {
		e := gw.Name()
		allTime, err := b.store.MergeWatchlist(ctx, e, b.cfg.Watchlist[e])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to merge %s watchlist", e)
		}
		out[e] = domain.Markets(allTime, b.cfg.Base)
	}
	return out, nil
}

// refreshParams fetches quantization params of markets that have none stored,
// or of every market with --recheck-params. Markets the exchange rejects are
// skipped; cycles touching them fail later with a missing params error.
func (b *TradingBot) refreshParams(ctx context.Context, watched map[domain.Exchange][]domain.Pair) error {
	for _, gw := range b.gateways {
		e := gw.Name()
		for _, market := range watched[e] {
			if !b.cfg.RecheckParams {
				_, err := b.store.MarketParams(ctx, e, market)
				if err == nil {
					continue
				}
				if !errors.Is(err, domain.ErrNotFound) {
					return errors.Wrapf(err, "failed to load params for %s %s", e, market.Symbol())
				}
			}

			params, err := gw.MarketParams(ctx, market)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.l.Warn("failed to fetch market params",
					zap.String("exchange", string(e)),
					zap.String("market", market.Symbol()),
					zap.Error(err))
				continue
			}
			if err := b.store.SaveMarketParams(ctx, params); err != nil {
				return errors.Wrapf(err, "failed to save params for %s %s", e, market.Symbol())
			}
			b.l.Debug("market params refreshed",
				zap.String("exchange", string(e)),
				zap.String("market", market.Symbol()))
		}
	}
	return nil
}

func (b *TradingBot) computeMetrics(ctx context.Context, watched map[domain.Exchange][]domain.Pair) ([]domain.Metric, error) {
	var all []domain.Metric
	for _, gw := range b.gateways {
		markets := watched[gw.Name()]
		if len(markets) == 0 {
			continue
		}
		ms, failures, err := b.metrics.Compute(ctx, gw, markets)
		if err != nil {
			return nil, err
		}
		if len(failures) > 0 {
			b.l.Warn("markets without metrics",
				zap.String("exchange", string(gw.Name())),
				zap.Int("count", len(failures)))
		}
		all = append(all, ms...)
	}
	return all, nil
}

func (b *TradingBot) revise(ctx context.Context, all []domain.Metric) error {
	outcome, err := b.strategy.RunSellRevisionCycle(ctx, all)
	if len(outcome.Sold) > 0 {
		sold := report.Sold(outcome.Sold)
		fmt.Fprint(b.out, sold)
		b.notify(ctx, report.SoldTitle(len(outcome.Sold)), sold)
	}
	if err != nil {
		return errors.Wrap(err, "sell revision cycle failed")
	}
	b.l.Info("sell orders revised", zap.String("summary", lifecycle.Summary(outcome.Decisions)))
	return nil
}

func (b *TradingBot) liquidate(ctx context.Context, id int64) error {
	pos, err := b.strategy.Liquidate(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "failed to liquidate position %d", id)
	}
	sold := report.Sold([]*domain.Position{pos})
	fmt.Fprint(b.out, sold)
	b.notify(ctx, report.SoldTitle(1), sold)
	return nil
}

func (b *TradingBot) performance(ctx context.Context, prices report.Prices) error {
	positions, err := b.store.Positions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load positions")
	}

	sources := make(map[domain.Exchange]report.HistorySource, len(b.gateways))
	for _, gw := range b.gateways {
		sources[gw.Name()] = gw
	}

	seed := b.cfg.Performance.Seed
	if seed == 0 {
		seed = b.now().UnixNano()
	}
	res, err := report.Evaluate(ctx, b.l, sources, positions, prices, report.PerformanceConfig{
		Interval:   b.cfg.Strategy.Interval,
		Iterations: b.cfg.Performance.Iterations,
		Seed:       seed,
	})
	if err != nil {
		return errors.Wrap(err, "performance report failed")
	}
	fmt.Fprintln(b.out, res.String())
	return nil
}

// notify only reaches out for live runs.
func (b *TradingBot) notify(ctx context.Context, title, message string) {
	if !b.cfg.Live {
		return
	}
	if err := b.notifier.Notify(ctx, title, message); err != nil {
		b.l.Warn("notification failed", zap.String("title", title), zap.Error(err))
	}
}

func (b *TradingBot) archive(ctx context.Context, summary string, positions []*domain.Position) {
	if b.archiver == nil {
		return
	}
	keys, err := b.archiver.Run(ctx, b.now(), summary, positions)
	if err != nil {
		b.l.Warn("failed to archive run", zap.Error(err))
		return
	}
	b.l.Info("run archived", zap.Strings("keys", keys))
}

func (b *TradingBot) publish(ctx context.Context, positions []*domain.Position) {
	b.recorder.ObserveOpen(positions)
	b.recorder.MarkRun(b.now().Unix())
	if b.cfg.Telemetry.PushgatewayURL == "" {
		return
	}

	instance := b.cfg.Telemetry.Instance
	if instance == "" {
		instance = b.cfg.Mode()
	}
	if err := b.recorder.Push(ctx, b.cfg.Telemetry.PushgatewayURL, instance); err != nil {
		b.l.Warn("failed to push metrics", zap.Error(err))
	}
}
