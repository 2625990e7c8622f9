package selectivedca

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/lifecycle"
	"go.uber.org/zap"
)

// RevisionOutcome describes one sell revision cycle.
type RevisionOutcome struct {
	Sold      []*domain.Position
	Decisions []lifecycle.Decision
}

// RunSellRevisionCycle first syncs every sell order with its exchange, then
// re-targets the open positions of each market against the fresh metrics.
func (s *Strategy) RunSellRevisionCycle(ctx context.Context, metrics []domain.Metric) (RevisionOutcome, error) {
	var out RevisionOutcome

	byRef := make(map[string]domain.Metric, len(metrics))
	for _, m := range metrics {
		byRef[m.Ref().Key()] = m
	}

	open, err := s.store.OpenPositions(ctx)
	if err != nil {
		return out, errors.Wrap(err, "failed to load open positions")
	}

	for _, exchange := range s.exchanges() {
		gw := s.gateways[exchange]
		markets, groups := groupByMarket(open, exchange)

		for _, market := range markets {
			params, err := s.marketParams(ctx, exchange, market)
			if err != nil {
				return out, err
			}
			sold, decisions, err := s.engine.Reconcile(ctx, gw, groups[market], params)
			out.Sold = append(out.Sold, sold...)
			s.observe(decisions)
			out.Decisions = append(out.Decisions, decisions...)
			if err != nil {
				return out, errors.Wrapf(err, "reconcile %s %s", exchange, market.Symbol())
			}
			for _, p := range sold {
				s.recorder.ObserveSold(p)
			}
		}
	}

	stillOpen := open[:0]
	for _, p := range open {
		if p.IsOpen() {
			stillOpen = append(stillOpen, p)
		}
	}

	for _, exchange := range s.exchanges() {
		gw := s.gateways[exchange]
		markets, groups := groupByMarket(stillOpen, exchange)

		for _, market := range markets {
			ref := domain.MarketRef{Exchange: exchange, Pair: market}
			metric, ok := byRef[ref.Key()]
			if !ok {
				s.l.Warn("no metric for market with open positions", zap.String("market", ref.String()))
				out.Decisions = append(out.Decisions, lifecycle.Decision{
					Market: market,
					Action: lifecycle.ActionSkip,
					Reason: "no metric",
				})
				continue
			}

			params, err := s.marketParams(ctx, exchange, market)
			if err != nil {
				return out, err
			}
			decisions, err := s.engine.ReviseMarket(ctx, gw, groups[market], params, metric)
			s.observe(decisions)
			out.Decisions = append(out.Decisions, decisions...)
			if err != nil {
				return out, errors.Wrapf(err, "revise %s", ref)
			}
		}
	}

	s.l.Info("sell revision cycle finished",
		zap.Int("sold", len(out.Sold)),
		zap.Int("decisions", len(out.Decisions)))
	return out, nil
}

func (s *Strategy) observe(decisions []lifecycle.Decision) {
	for _, d := range decisions {
		s.recorder.ObserveDecision(d)
	}
}
