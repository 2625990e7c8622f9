package selectivedca

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/exposure"
	"github.com/vadiminshakov/selectivedca/internal/services/lifecycle"
	"github.com/vadiminshakov/selectivedca/internal/services/selector"
	"go.uber.org/zap"
)

// BuyOutcome describes one buy cycle.
type BuyOutcome struct {
	Selection    selector.Selection
	NoCandidates bool
	Ask          decimal.Decimal
	Quantity     decimal.Decimal
	Position     *domain.Position
	InitialSell  lifecycle.Decision
}

// RunBuyCycle buys amount (quote currency) worth of the market drawn by the
// selector and places the position's first scalp sell. Having no eligible
// market is a normal outcome. Failures on the buy itself are returned; the
// journal keeps the intent pending for ReconcileIntents.
func (s *Strategy) RunBuyCycle(ctx context.Context, metrics []domain.Metric, amount decimal.Decimal) (BuyOutcome, error) {
	var out BuyOutcome
	if !amount.IsPositive() {
		return out, errors.Errorf("buy amount must be positive, got %s", amount)
	}

	open, err := s.store.OpenPositions(ctx)
	if err != nil {
		return out, errors.Wrap(err, "failed to load open positions")
	}
	var recent []*domain.Position
	if s.cfg.MaxConsecutiveBuys > 0 {
		recent, err = s.store.LastPositions(ctx, s.cfg.MaxConsecutiveBuys)
		if err != nil {
			return out, errors.Wrap(err, "failed to load recent positions")
		}
	}

	out.Selection, err = s.selector.Select(selector.Input{
		Metrics:        metrics,
		Watchlist:      s.cfg.Watchlist,
		Exposure:       exposure.New(open),
		Recent:         recent,
		MaxHoldingsPct: s.cfg.MaxHoldingsPct,
		Policy:         s.cfg.RecentBuys,
	})
	if errors.Is(err, domain.ErrNoCandidates) {
		s.l.Info("no buy candidates", zap.Int("skipped", len(out.Selection.Skipped)))
		out.NoCandidates = true
		return out, nil
	}
	if err != nil {
		return out, errors.Wrap(err, "failed to select buy candidate")
	}

	target := out.Selection.Chosen.Metric
	gw, err := s.gateway(target.Exchange)
	if err != nil {
		return out, err
	}
	params, err := s.marketParams(ctx, target.Exchange, target.Market)
	if err != nil {
		return out, err
	}

	ask, err := gw.CurrentAsk(ctx, target.Market)
	if err != nil {
		return out, errors.Wrapf(err, "failed to get ask for %s", target.Market.Symbol())
	}
	out.Ask = ask

	qty := params.Qty(amount.Div(ask))
	if !params.MeetsMinNotional(ask, qty) {
		s.l.Info("raising buy quantity to clear min notional",
			zap.String("market", target.Market.Symbol()),
			zap.String("qty", qty.String()),
			zap.String("min_notional", params.MinNotional.String()))
		qty = qty.Add(params.LotStepSize)
	}
	out.Quantity = qty

	intent, err := s.journal.Prepare(target.Exchange, target.Market, qty, ask, s.watchlistAssets(), s.now())
	if err != nil {
		return out, errors.Wrap(err, "failed to journal buy intent")
	}

	fill, err := gw.MarketBuy(ctx, target.Market, qty, intent.ID)
	if err != nil {
		return out, errors.Wrapf(err, "market buy %s %s", qty, target.Market.Symbol())
	}

	pos, err := s.openPosition(ctx, intent, fill)
	if err != nil {
		return out, err
	}
	out.Position = pos
	s.recorder.ObserveBuy(pos.Ref(), pos.Spent())

	s.l.Info("bought",
		zap.Int64("position", pos.ID),
		zap.String("market", pos.Market.Symbol()),
		zap.String("qty", pos.BuyQuantity.String()),
		zap.String("price", pos.PurchasePrice.String()))

	out.InitialSell, err = s.engine.PlaceInitialSell(ctx, gw, pos, params, target.MovingAverage, ask)
	if err != nil {
		return out, err
	}
	s.recorder.ObserveDecision(out.InitialSell)

	return out, nil
}

func (s *Strategy) openPosition(ctx context.Context, intent *BuyIntent, fill domain.BuyFill) (*domain.Position, error) {
	pos, err := domain.NewPosition(intent.Exchange, intent.Market, fill, intent.Watchlist)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid fill for buy order %s", fill.OrderID)
	}
	if err := s.store.CreatePosition(ctx, pos); err != nil {
		return nil, errors.Wrapf(err, "failed to store position for buy order %s", fill.OrderID)
	}
	if err := s.journal.MarkDone(intent); err != nil {
		return nil, errors.Wrapf(err, "failed to resolve buy intent %s", intent.ID)
	}
	return pos, nil
}

func (s *Strategy) marketParams(ctx context.Context, exchange domain.Exchange, market domain.Pair) (domain.MarketQuantizationParams, error) {
	params, err := s.store.MarketParams(ctx, exchange, market)
	if errors.Is(err, domain.ErrNotFound) {
		return params, errors.Wrapf(domain.ErrMissingMarketParams, "%s %s", exchange, market.Symbol())
	}
	if err != nil {
		return params, errors.Wrapf(err, "failed to load params for %s %s", exchange, market.Symbol())
	}
	return params, nil
}
