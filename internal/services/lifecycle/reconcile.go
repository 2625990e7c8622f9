package lifecycle

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"go.uber.org/zap"
)

// Reconcile syncs local sell orders of one market with the exchange. Filled
// orders close their positions, which are returned. Orders canceled behind our
// back are forgotten so the next revision replaces them.
func (e *Engine) Reconcile(ctx context.Context, gw Gateway, positions []*domain.Position,
	params domain.MarketQuantizationParams) ([]*domain.Position, []Decision, error) {
	pending := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsOpen() && p.HasSellOrder() {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return nil, nil, nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return orderIDLess(pending[i].SellOrderID, pending[j].SellOrderID)
	})

	market := pending[0].Market
	statuses, err := gw.OrderStatuses(ctx, market, pending[0].SellOrderID)
	if err != nil {
		e.l.Warn("failed to list order statuses, checking orders one by one",
			zap.String("market", market.Symbol()), zap.Error(err))
		statuses = nil
	}

	var (
		sold      []*domain.Position
		decisions []Decision
	)
	for _, pos := range pending {
		d := Decision{PositionID: pos.ID, Market: pos.Market}

		report, ok := statuses[pos.SellOrderID]
		if !ok {
			report, err = gw.OrderStatus(ctx, pos.Market, pos.SellOrderID)
			if err != nil {
				e.l.Error("failed to get sell order status",
					zap.Int64("position", pos.ID),
					zap.String("order", pos.SellOrderID),
					zap.Error(err))
				d.Action, d.Reason = ActionFailed, err.Error()
				decisions = append(decisions, d)
				continue
			}
		}

		switch report.Status {
		case domain.OrderStatusNew:
			d.Action = ActionPending
			if pos.SellPrice.Valid {
				d.Target = pos.SellPrice.Decimal
			}
			if pos.SellQuantity.Valid {
				d.Quantity = pos.SellQuantity.Decimal
			}
		case domain.OrderStatusFilled:
			price := params.Price(report.Price)
			qty := params.Qty(report.ExecutedQuantity)
			if err := pos.Close(price, qty, report.UpdatedAt); err != nil {
				return sold, decisions, errors.Wrapf(err, "close position %d", pos.ID)
			}
			pos.ScalpedQuantity.Decimal = params.Qty(pos.ScalpedQuantity.Decimal)
			if err := e.store.SavePosition(ctx, pos); err != nil {
				return sold, decisions, errors.Wrapf(err, "save position %d", pos.ID)
			}
			sold = append(sold, pos)
			d.Action, d.Target, d.Quantity = ActionSold, price, qty
		case domain.OrderStatusCanceled:
			e.l.Warn("sell order canceled on exchange but still referenced locally",
				zap.Int64("position", pos.ID),
				zap.String("order", pos.SellOrderID))
			pos.ClearSellOrder()
			if err := e.store.SavePosition(ctx, pos); err != nil {
				return sold, decisions, errors.Wrapf(err, "save position %d", pos.ID)
			}
			d.Action, d.Reason = ActionCleared, "canceled on exchange"
		default:
			return sold, decisions, errors.Wrapf(domain.ErrUnimplementedOrderStatus,
				"order %s of position %d reported %q", pos.SellOrderID, pos.ID, report.Status)
		}
		decisions = append(decisions, d)
	}

	return sold, decisions, nil
}

// orderIDLess orders numeric ids by value and falls back to lexical order.
func orderIDLess(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Summary renders decisions one per line.
func Summary(decisions []Decision) string {
	var b strings.Builder
	for _, d := range decisions {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	return b.String()
}
