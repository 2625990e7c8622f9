// Package lifecycle drives open positions from the first limit sell through
// revisions to the final fill.
package lifecycle

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/scalp"
	"go.uber.org/zap"
)

// Gateway is the order surface the lifecycle drives.
type Gateway interface {
	Name() domain.Exchange
	// LimitSell returns nil without error when the exchange rejects the order
	// for band, notional or balance reasons.
	LimitSell(ctx context.Context, market domain.Pair, qty, price decimal.Decimal) (*domain.LimitOrder, error)
	CancelOrder(ctx context.Context, market domain.Pair, orderID string) (bool, string, error)
	OrderStatus(ctx context.Context, market domain.Pair, orderID string) (domain.OrderReport, error)
	OrderStatuses(ctx context.Context, market domain.Pair, fromOrderID string) (map[string]domain.OrderReport, error)
}

// Store persists position mutations.
type Store interface {
	SavePosition(ctx context.Context, p *domain.Position) error
}

// InitialSellPolicy selects how the first target after a buy is derived.
type InitialSellPolicy string

const (
	// InitialSellBlended targets the midpoint of the moving average and the
	// minimum profit price, never below the latter.
	InitialSellBlended InitialSellPolicy = "blended"
	// InitialSellMinProfit targets the minimum profit price.
	InitialSellMinProfit InitialSellPolicy = "min_profit"
)

// ParseInitialSellPolicy validates a policy name. Empty means InitialSellBlended.
func ParseInitialSellPolicy(s string) (InitialSellPolicy, error) {
	switch p := InitialSellPolicy(s); p {
	case "":
		return InitialSellBlended, nil
	case InitialSellBlended, InitialSellMinProfit:
		return p, nil
	default:
		return "", fmt.Errorf("unknown initial sell policy %q", s)
	}
}

// Policy holds the tunables of the engine.
type Policy struct {
	ProfitThreshold decimal.Decimal
	// HoldPercentile is the index fraction after which lower priced lots reuse
	// the previous target.
	HoldPercentile    decimal.Decimal
	RevisionTolerance decimal.Decimal
	BandSafety        decimal.Decimal
	InitialSell       InitialSellPolicy
}

// DefaultPolicy returns the stock tunables.
func DefaultPolicy() Policy {
	return Policy{
		ProfitThreshold:   decimal.RequireFromString("1.05"),
		HoldPercentile:    decimal.RequireFromString("0.75"),
		RevisionTolerance: decimal.RequireFromString("0.0025"),
		BandSafety:        scalp.DefaultBandSafety,
		InitialSell:       InitialSellBlended,
	}
}

// Validate checks the policy values.
func (p Policy) Validate() error {
	if p.ProfitThreshold.LessThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("profit threshold must be greater than 1, got %s", p.ProfitThreshold)
	}
	if p.HoldPercentile.IsNegative() || p.HoldPercentile.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("hold percentile must be within [0, 1], got %s", p.HoldPercentile)
	}
	if p.RevisionTolerance.IsNegative() {
		return fmt.Errorf("revision tolerance must not be negative, got %s", p.RevisionTolerance)
	}
	if !p.BandSafety.IsPositive() || p.BandSafety.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("band safety must be within (0, 1], got %s", p.BandSafety)
	}
	if _, err := ParseInitialSellPolicy(string(p.InitialSell)); err != nil {
		return err
	}
	return nil
}

// Engine applies the sell lifecycle to positions.
type Engine struct {
	store  Store
	policy Policy
	l      *zap.Logger
}

// NewEngine returns an engine persisting through store.
func NewEngine(l *zap.Logger, store Store, policy Policy) *Engine {
	return &Engine{store: store, policy: policy, l: l}
}

// Policy returns the tunables in use.
func (e *Engine) Policy() Policy {
	return e.policy
}

// InitialTarget derives the first sell target after a buy.
func (e *Engine) InitialTarget(pos *domain.Position, params domain.MarketQuantizationParams, ma decimal.Decimal) decimal.Decimal {
	minProfit := params.PriceUp(pos.PurchasePrice.Mul(e.policy.ProfitThreshold))
	if e.policy.InitialSell == InitialSellMinProfit {
		return minProfit
	}

	target := params.PriceUp(ma.Add(minProfit).Div(decimal.NewFromInt(2)))
	if target.LessThan(minProfit) {
		return minProfit
	}
	return target
}

// PlaceInitialSell places the first limit sell for a freshly bought position.
// A rejected or failed placement leaves the position without a sell order for
// the next revision pass; only store failures are returned.
func (e *Engine) PlaceInitialSell(ctx context.Context, gw Gateway, pos *domain.Position,
	params domain.MarketQuantizationParams, ma, current decimal.Decimal) (Decision, error) {
	target := e.InitialTarget(pos, params, ma)
	decision := Decision{PositionID: pos.ID, Market: pos.Market, Target: target}

	quote, err := scalp.Compute(pos, params, target)
	if err != nil && !errors.Is(err, scalp.ErrBelowMinNotional) {
		decision.Action, decision.Reason = ActionSkip, err.Error()
		return decision, nil
	}
	quote = scalp.CapToBand(quote, pos, params, current, e.policy.BandSafety)

	return e.place(ctx, gw, pos, params, quote, decision)
}

func (e *Engine) place(ctx context.Context, gw Gateway, pos *domain.Position,
	params domain.MarketQuantizationParams, quote scalp.Quote, decision Decision) (Decision, error) {
	decision.Target, decision.Quantity = quote.Price, quote.Quantity

	if !params.MeetsMinNotional(quote.Price, quote.Quantity) {
		decision.Action = ActionSkip
		decision.Reason = fmt.Sprintf("%s x %s below min notional %s", quote.Quantity, quote.Price, params.MinNotional)
		return decision, nil
	}

	order, err := gw.LimitSell(ctx, pos.Market, quote.Quantity, quote.Price)
	if err != nil {
		e.l.Error("failed to place limit sell",
			zap.Int64("position", pos.ID),
			zap.String("market", pos.Market.Symbol()),
			zap.Error(err))
		decision.Action, decision.Reason = ActionFailed, err.Error()
		return decision, nil
	}
	if order == nil {
		decision.Action, decision.Reason = ActionRejected, "limit sell rejected by exchange"
		return decision, nil
	}

	if err := pos.RecordSellOrder(order.OrderID, order.Price, order.Quantity); err != nil {
		return decision, errors.Wrapf(err, "record sell order for position %d", pos.ID)
	}
	if err := e.store.SavePosition(ctx, pos); err != nil {
		return decision, errors.Wrapf(err, "save position %d", pos.ID)
	}

	decision.Action = ActionPlaced
	if quote.Capped {
		decision.Reason = "capped under percent price band"
	}
	return decision, nil
}

// ReviseMarket re-targets the open positions of one market against a fresh
// metric. The positions must all belong to the market.
func (e *Engine) ReviseMarket(ctx context.Context, gw Gateway, positions []*domain.Position,
	params domain.MarketQuantizationParams, metric domain.Metric) ([]Decision, error) {
	open := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].PurchasePrice.Equal(open[j].PurchasePrice) {
			return open[i].PurchasePrice.GreaterThan(open[j].PurchasePrice)
		}
		return open[i].ID < open[j].ID
	})

	current := params.Price(metric.Close)
	ma := params.Price(metric.MovingAverage)
	holdFrom := decimal.NewFromInt(int64(len(open))).Mul(e.policy.HoldPercentile).IntPart()

	var (
		decisions  []Decision
		lastTarget decimal.Decimal
	)
	for i, pos := range open {
		var (
			d     Decision
			quote scalp.Quote
			keep  bool
		)
		if int64(i) >= holdFrom && !lastTarget.IsZero() {
			quote, d, keep = e.hold(pos, params, lastTarget)
		} else {
			quote, d, keep = e.retarget(pos, params, ma)
			if !quote.Price.IsZero() {
				lastTarget = quote.Price
			}
		}
		if keep {
			decisions = append(decisions, d)
			continue
		}

		capped := scalp.CapToBand(quote, pos, params, current, e.policy.BandSafety)
		if capped.Capped {
			if pos.HasSellOrder() && pos.SellPrice.Valid && capped.Price.Equal(pos.SellPrice.Decimal) {
				d.Action, d.Reason = ActionKeep, "already capped under percent price band"
				d.Target, d.Quantity = capped.Price, capped.Quantity
				decisions = append(decisions, d)
				continue
			}
			quote = capped
		}

		if !params.MeetsMinNotional(quote.Price, quote.Quantity) {
			d.Action = ActionSkip
			d.Target, d.Quantity = quote.Price, quote.Quantity
			d.Reason = fmt.Sprintf("%s x %s below min notional %s", quote.Quantity, quote.Price, params.MinNotional)
			decisions = append(decisions, d)
			continue
		}

		if err := e.cancel(ctx, gw, pos); err != nil {
			return decisions, err
		}

		d, err := e.place(ctx, gw, pos, params, quote, d)
		if err != nil {
			return decisions, err
		}
		if d.Action == ActionPlaced {
			d.Action = ActionRevised
		}
		decisions = append(decisions, d)
	}

	return decisions, nil
}

// hold reuses the previous lot's target for the lower priced tail of the stash.
func (e *Engine) hold(pos *domain.Position, params domain.MarketQuantizationParams,
	lastTarget decimal.Decimal) (scalp.Quote, Decision, bool) {
	d := Decision{PositionID: pos.ID, Market: pos.Market, Target: lastTarget}

	quote, err := scalp.Compute(pos, params, lastTarget)
	if err != nil && !errors.Is(err, scalp.ErrBelowMinNotional) {
		d.Action, d.Reason = ActionSkip, err.Error()
		return quote, d, true
	}
	d.Target, d.Quantity = quote.Price, quote.Quantity

	if e.unchanged(pos, params, quote.Price) {
		d.Action, d.Reason = ActionKeep, "held at previous target"
		return quote, d, true
	}
	d.Reason = "held at previous target"
	return quote, d, false
}

// retarget derives the target from the minimum profit price, or from its
// midpoint with the moving average once the average drops below it.
func (e *Engine) retarget(pos *domain.Position, params domain.MarketQuantizationParams,
	ma decimal.Decimal) (scalp.Quote, Decision, bool) {
	d := Decision{PositionID: pos.ID, Market: pos.Market}
	minSell := params.Price(pos.PurchasePrice.Mul(e.policy.ProfitThreshold))

	quote, err := scalp.Compute(pos, params, minSell)
	if err != nil && !errors.Is(err, scalp.ErrBelowMinNotional) {
		d.Action, d.Reason, d.Target = ActionSkip, err.Error(), minSell
		return scalp.Quote{}, d, true
	}
	d.Target, d.Quantity = quote.Price, quote.Quantity

	if quote.Price.GreaterThan(ma) {
		if e.unchanged(pos, params, quote.Price) {
			d.Action, d.Reason = ActionKeep, "at minimum profit target"
			return quote, d, true
		}
		d.Reason = "minimum profit target above moving average"
		return quote, d, false
	}

	quote, err = scalp.Compute(pos, params, minSell.Add(ma).Div(decimal.NewFromInt(2)))
	if err != nil && !errors.Is(err, scalp.ErrBelowMinNotional) {
		d.Action, d.Reason = ActionSkip, err.Error()
		return scalp.Quote{}, d, true
	}
	d.Target, d.Quantity = quote.Price, quote.Quantity

	if pos.HasSellOrder() && pos.SellPrice.Valid {
		diff := RelativeDiff(pos.SellPrice.Decimal, quote.Price)
		if diff.LessThan(e.policy.RevisionTolerance) {
			d.Action = ActionKeep
			d.Reason = fmt.Sprintf("within tolerance of %s (%s%%)", pos.SellPrice.Decimal, diff.Mul(decimal.NewFromInt(100)).StringFixed(2))
			return quote, d, true
		}
	}
	d.Reason = "tracking moving average"
	return quote, d, false
}

func (e *Engine) unchanged(pos *domain.Position, params domain.MarketQuantizationParams, price decimal.Decimal) bool {
	return pos.HasSellOrder() && pos.SellPrice.Valid && params.Price(pos.SellPrice.Decimal).Equal(price)
}

// cancel drops the working order. Exchange failures are logged and the local
// reference is cleared anyway so the replacement can proceed.
func (e *Engine) cancel(ctx context.Context, gw Gateway, pos *domain.Position) error {
	if !pos.HasSellOrder() {
		return nil
	}

	ok, raw, err := gw.CancelOrder(ctx, pos.Market, pos.SellOrderID)
	switch {
	case err != nil:
		e.l.Warn("failed to cancel sell order",
			zap.Int64("position", pos.ID),
			zap.String("order", pos.SellOrderID),
			zap.Error(err))
	case !ok:
		e.l.Warn("sell order not canceled",
			zap.Int64("position", pos.ID),
			zap.String("order", pos.SellOrderID),
			zap.String("result", raw))
	}

	pos.DetachSellOrder()
	if err := e.store.SavePosition(ctx, pos); err != nil {
		return errors.Wrapf(err, "save position %d", pos.ID)
	}
	return nil
}

// RelativeDiff is |a-b| / min(a, b).
func RelativeDiff(a, b decimal.Decimal) decimal.Decimal {
	lo, hi := a, b
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	if !lo.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return hi.Sub(lo).Div(lo)
}
