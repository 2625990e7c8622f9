package selectivedca

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"go.uber.org/zap"
)

// Liquidate market-sells an open position after pulling its limit sell.
func (s *Strategy) Liquidate(ctx context.Context, id int64) (*domain.Position, error) {
	pos, err := s.store.Position(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load position %d", id)
	}
	if !pos.IsOpen() {
		return pos, domain.ErrPositionClosed
	}

	gw, err := s.gateway(pos.Exchange)
	if err != nil {
		return pos, err
	}
	params, err := s.marketParams(ctx, pos.Exchange, pos.Market)
	if err != nil {
		return pos, err
	}

	if pos.HasSellOrder() {
		ok, raw, err := gw.CancelOrder(ctx, pos.Market, pos.SellOrderID)
		if err != nil || !ok {
			s.l.Warn("failed to cancel sell order before liquidation",
				zap.Int64("position", pos.ID),
				zap.String("result", raw),
				zap.Error(err))
		}
		pos.ClearSellOrder()
		if err := s.store.SavePosition(ctx, pos); err != nil {
			return pos, errors.Wrapf(err, "save position %d", pos.ID)
		}
	}

	fill, err := gw.MarketSell(ctx, pos.Market, params.QtyDown(pos.BuyQuantity))
	if err != nil {
		return pos, errors.Wrapf(err, "market sell position %d", pos.ID)
	}
	if err := pos.Close(fill.Price, fill.Quantity, fill.Timestamp); err != nil {
		return pos, errors.Wrapf(err, "close position %d", pos.ID)
	}
	if err := s.store.SavePosition(ctx, pos); err != nil {
		return pos, errors.Wrapf(err, "save position %d", pos.ID)
	}
	s.recorder.ObserveSold(pos)

	return pos, nil
}
