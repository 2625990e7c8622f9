package selectivedca

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"go.uber.org/zap"
)

var errUnknownBuyOrder = errors.New("buy order unknown to exchange")

// ReconcileIntents resolves buys left pending by an interrupted run. A filled
// order gets its position if none exists yet; the first sell is left to the
// revision cycle. Orders the exchange does not know are marked failed.
func (s *Strategy) ReconcileIntents(ctx context.Context) ([]*domain.Position, error) {
	pending := s.journal.Pending()
	if len(pending) == 0 {
		return nil, nil
	}

	s.l.Info("reconciling pending buy intents", zap.Int("count", len(pending)))

	var recovered []*domain.Position
	for _, intent := range pending {
		gw, err := s.gateway(intent.Exchange)
		if err != nil {
			return recovered, err
		}

		fill, err := gw.BuyByClientID(ctx, intent.Market, intent.ID)
		if err != nil {
			return recovered, errors.Wrapf(err, "failed to look up buy intent %s", intent.ID)
		}
		if fill == nil {
			s.l.Warn("buy intent never reached the exchange",
				zap.String("intent_id", intent.ID),
				zap.String("market", intent.Market.Symbol()))
			if err := s.journal.MarkFailed(intent, errUnknownBuyOrder); err != nil {
				return recovered, err
			}
			continue
		}

		existing, err := s.store.PositionByBuyOrder(ctx, intent.Exchange, fill.OrderID)
		switch {
		case err == nil && existing != nil:
			if err := s.journal.MarkDone(intent); err != nil {
				return recovered, err
			}
			continue
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return recovered, errors.Wrapf(err, "failed to look up position for buy order %s", fill.OrderID)
		}

		pos, err := s.openPosition(ctx, intent, *fill)
		if err != nil {
			return recovered, err
		}
		s.l.Info("recovered position from buy intent",
			zap.String("intent_id", intent.ID),
			zap.Int64("position", pos.ID))
		s.recorder.ObserveBuy(pos.Ref(), pos.Spent())
		recovered = append(recovered, pos)
	}

	return recovered, nil
}
