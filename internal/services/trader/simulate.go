package trader

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/storage/simstate"
	"go.uber.org/zap"
)

const (
	simSideBuy      = "BUY"
	simSideSell     = "SELL"
	simTypeMarket   = "MARKET"
	simTypeLimit    = "LIMIT"
	defaultSimFee   = "0.001"
	defaultSimQuote = 10000
)

var errInsufficientBalance = errors.New("account has insufficient balance for requested action")

// MarketSource provides public market data for the simulator.
type MarketSource interface {
	Name() domain.Exchange
	MarketParams(ctx context.Context, market domain.Pair) (domain.MarketQuantizationParams, error)
	CurrentAsk(ctx context.Context, market domain.Pair) (decimal.Decimal, error)
	CurrentPrice(ctx context.Context, market domain.Pair) (decimal.Decimal, error)
	Candles(ctx context.Context, market domain.Pair, interval string, limit int) ([]domain.Candle, error)
	CandleAt(ctx context.Context, market domain.Pair, interval string, at time.Time) (domain.Candle, error)
}

// SimulateGateway paper-trades against real public prices. Market orders fill
// at the ask (buys) or last price (sells); limit sells fill once the last price
// reaches the limit.
type SimulateGateway struct {
	mu     sync.Mutex
	l      *zap.Logger
	source MarketSource
	store  *simstate.Store
	state  *simstate.State
	fee    decimal.Decimal
	now    func() time.Time
}

// SimulateOption configures the simulator.
type SimulateOption func(*SimulateGateway)

// WithFeeRate sets the fee charged on every fill, as a fraction of the notional.
func WithFeeRate(rate decimal.Decimal) SimulateOption {
	return func(g *SimulateGateway) { g.fee = rate }
}

// WithSimulateClock overrides the clock used for order timestamps.
func WithSimulateClock(now func() time.Time) SimulateOption {
	return func(g *SimulateGateway) { g.now = now }
}

// NewSimulateGateway creates a simulator over source. A fresh wallet is funded
// with initial balances; an existing one is restored from store.
func NewSimulateGateway(l *zap.Logger, source MarketSource, store *simstate.Store, initial map[string]decimal.Decimal, opts ...SimulateOption) (*SimulateGateway, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if source == nil {
		return nil, errors.New("market source is required for SimulateGateway")
	}

	g := &SimulateGateway{
		l:      l.With(zap.String("exchange", string(source.Name())), zap.Bool("simulate", true)),
		source: source,
		store:  store,
		fee:    decimal.RequireFromString(defaultSimFee),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	state, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "restore simulate state")
	}
	if state == nil {
		if len(initial) == 0 {
			initial = map[string]decimal.Decimal{"USDT": decimal.NewFromInt(defaultSimQuote)}
		}
		state = simstate.NewState(initial)
		if err := store.Save(state); err != nil {
			return nil, err
		}
	}
	g.state = state

	g.l.Info("simulate init", zap.Int("orders", len(state.Orders)), zap.Any("wallet", state.Wallet))
	return g, nil
}

// Name reports the wrapped exchange so positions and params stay keyed by it.
func (g *SimulateGateway) Name() domain.Exchange {
	return g.source.Name()
}

func (g *SimulateGateway) MarketParams(ctx context.Context, market domain.Pair) (domain.MarketQuantizationParams, error) {
	return g.source.MarketParams(ctx, market)
}

func (g *SimulateGateway) CurrentAsk(ctx context.Context, market domain.Pair) (decimal.Decimal, error) {
	return g.source.CurrentAsk(ctx, market)
}

func (g *SimulateGateway) CurrentPrice(ctx context.Context, market domain.Pair) (decimal.Decimal, error) {
	return g.source.CurrentPrice(ctx, market)
}

func (g *SimulateGateway) Candles(ctx context.Context, market domain.Pair, interval string, limit int) ([]domain.Candle, error) {
	return g.source.Candles(ctx, market, interval, limit)
}

func (g *SimulateGateway) CandleAt(ctx context.Context, market domain.Pair, interval string, at time.Time) (domain.Candle, error) {
	return g.source.CandleAt(ctx, market, interval, at)
}

// Balance returns the free balance of asset.
func (g *SimulateGateway) Balance(asset string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Wallet[asset]
}

func (g *SimulateGateway) MarketBuy(ctx context.Context, market domain.Pair, qty decimal.Decimal, clientOrderID string) (domain.BuyFill, error) {
	ask, err := g.source.CurrentAsk(ctx, market)
	if err != nil {
		return domain.BuyFill{}, errors.Wrapf(err, "failed to get ask for %s", market.Symbol())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cost := qty.Mul(ask)
	fees := cost.Mul(g.fee)
	if g.state.Wallet[market.To].LessThan(cost.Add(fees)) {
		return domain.BuyFill{}, errors.Wrapf(errInsufficientBalance, "buy %s %s needs %s %s", qty, market.From, cost.Add(fees), market.To)
	}

	g.state.Wallet[market.To] = g.state.Wallet[market.To].Sub(cost).Sub(fees)
	g.state.Wallet[market.From] = g.state.Wallet[market.From].Add(qty)

	o := g.newOrder(market, simSideBuy, simTypeMarket, ask, qty)
	o.ClientOrderID = clientOrderID
	o.Status = string(domain.OrderStatusFilled)
	o.Executed = qty
	o.Fees = fees
	if err := g.persist(); err != nil {
		return domain.BuyFill{}, err
	}

	g.l.Info("simulated buy",
		zap.String("market", market.Symbol()),
		zap.String("qty", qty.String()),
		zap.String("price", ask.String()))

	return domain.BuyFill{
		OrderID:       o.ID,
		ClientOrderID: clientOrderID,
		Price:         ask,
		Quantity:      qty,
		Fees:          fees,
		Timestamp:     o.CreatedAt,
	}, nil
}

func (g *SimulateGateway) MarketSell(ctx context.Context, market domain.Pair, qty decimal.Decimal) (domain.SellFill, error) {
	price, err := g.source.CurrentPrice(ctx, market)
	if err != nil {
		return domain.SellFill{}, errors.Wrapf(err, "failed to get price for %s", market.Symbol())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.free(market).LessThan(qty) {
		return domain.SellFill{}, errors.Wrapf(errInsufficientBalance, "sell %s %s", qty, market.From)
	}

	o := g.newOrder(market, simSideSell, simTypeMarket, price, qty)
	g.fill(market, o, price)
	if err := g.persist(); err != nil {
		return domain.SellFill{}, err
	}

	return domain.SellFill{
		OrderID:   o.ID,
		Price:     price,
		Quantity:  qty,
		Fees:      o.Fees,
		Timestamp: o.UpdatedAt,
	}, nil
}

// LimitSell rests a sell order. Selling more than the free balance is rejected
// with a nil order the way the exchange rejection is handled.
func (g *SimulateGateway) LimitSell(_ context.Context, market domain.Pair, qty, price decimal.Decimal) (*domain.LimitOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.free(market).LessThan(qty) {
		g.l.Warn("limit sell rejected",
			zap.String("market", market.Symbol()),
			zap.String("qty", qty.String()),
			zap.Error(errInsufficientBalance))
		return nil, nil
	}

	o := g.newOrder(market, simSideSell, simTypeLimit, price, qty)
	o.Status = string(domain.OrderStatusNew)
	if err := g.persist(); err != nil {
		return nil, err
	}

	return &domain.LimitOrder{OrderID: o.ID, Price: price, Quantity: qty}, nil
}

func (g *SimulateGateway) CancelOrder(_ context.Context, market domain.Pair, orderID string) (bool, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.state.Orders[orderID]
	if !ok || o.Symbol != market.Symbol() {
		return false, "unknown order", errors.Wrapf(domain.ErrNotFound, "simulated order %s", orderID)
	}
	if o.Status != string(domain.OrderStatusNew) {
		return false, "order is " + o.Status, nil
	}

	o.Status = string(domain.OrderStatusCanceled)
	o.UpdatedAt = g.now()
	if err := g.persist(); err != nil {
		return false, "", err
	}

	return true, "canceled", nil
}

func (g *SimulateGateway) OrderStatus(ctx context.Context, market domain.Pair, orderID string) (domain.OrderReport, error) {
	if err := g.settle(ctx, market); err != nil {
		return domain.OrderReport{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.state.Orders[orderID]
	if !ok || o.Symbol != market.Symbol() {
		return domain.OrderReport{}, errors.Wrapf(domain.ErrNotFound, "simulated order %s", orderID)
	}
	return simReport(o), nil
}

func (g *SimulateGateway) OrderStatuses(ctx context.Context, market domain.Pair, fromOrderID string) (map[string]domain.OrderReport, error) {
	from, err := strconv.ParseInt(fromOrderID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid simulated order id %q", fromOrderID)
	}
	if err := g.settle(ctx, market); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	reports := make(map[string]domain.OrderReport)
	for id, o := range g.state.Orders {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil || n < from || o.Symbol != market.Symbol() {
			continue
		}
		reports[id] = simReport(o)
	}
	return reports, nil
}

func (g *SimulateGateway) BuyByClientID(_ context.Context, market domain.Pair, clientOrderID string) (*domain.BuyFill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, o := range g.state.Orders {
		if o.ClientOrderID != clientOrderID || o.Symbol != market.Symbol() || o.Side != simSideBuy {
			continue
		}
		return &domain.BuyFill{
			OrderID:       o.ID,
			ClientOrderID: o.ClientOrderID,
			Price:         o.Price,
			Quantity:      o.Executed,
			Fees:          o.Fees,
			Timestamp:     o.CreatedAt,
		}, nil
	}
	return nil, nil
}

// settle fills every resting sell of the market whose limit the last price reached.
func (g *SimulateGateway) settle(ctx context.Context, market domain.Pair) error {
	price, err := g.source.CurrentPrice(ctx, market)
	if err != nil {
		return errors.Wrapf(err, "failed to get price for %s", market.Symbol())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	filled := 0
	for _, o := range g.state.Orders {
		if o.Symbol != market.Symbol() || o.Type != simTypeLimit || o.Status != string(domain.OrderStatusNew) {
			continue
		}
		if price.LessThan(o.Price) {
			continue
		}
		g.fill(market, o, o.Price)
		filled++
	}
	if filled == 0 {
		return nil
	}

	g.l.Info("simulated limit sells filled",
		zap.String("market", market.Symbol()),
		zap.Int("count", filled),
		zap.String("price", price.String()))
	return g.persist()
}

func (g *SimulateGateway) fill(market domain.Pair, o *simstate.Order, price decimal.Decimal) {
	proceeds := o.Quantity.Mul(price)
	o.Fees = proceeds.Mul(g.fee)
	o.Executed = o.Quantity
	o.Price = price
	o.Status = string(domain.OrderStatusFilled)
	o.UpdatedAt = g.now()

	g.state.Wallet[market.From] = g.state.Wallet[market.From].Sub(o.Quantity)
	g.state.Wallet[market.To] = g.state.Wallet[market.To].Add(proceeds).Sub(o.Fees)
}

// free is the base balance not reserved by resting sells.
func (g *SimulateGateway) free(market domain.Pair) decimal.Decimal {
	reserved := decimal.Zero
	for _, o := range g.state.Orders {
		if o.Symbol == market.Symbol() && o.Side == simSideSell && o.Status == string(domain.OrderStatusNew) {
			reserved = reserved.Add(o.Quantity)
		}
	}
	return g.state.Wallet[market.From].Sub(reserved)
}

func (g *SimulateGateway) newOrder(market domain.Pair, side, typ string, price, qty decimal.Decimal) *simstate.Order {
	g.state.LastOrderID++
	now := g.now()
	o := &simstate.Order{
		ID:        strconv.FormatInt(g.state.LastOrderID, 10),
		Symbol:    market.Symbol(),
		Side:      side,
		Type:      typ,
		Price:     price,
		Quantity:  qty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.state.Orders[o.ID] = o
	return o
}

func (g *SimulateGateway) persist() error {
	if err := g.store.Save(g.state); err != nil {
		g.l.Warn("failed to persist simulate state", zap.Error(err))
		return err
	}
	return nil
}

func simReport(o *simstate.Order) domain.OrderReport {
	return domain.OrderReport{
		OrderID:          o.ID,
		Status:           domain.OrderStatus(o.Status),
		Price:            o.Price,
		ExecutedQuantity: o.Executed,
		UpdatedAt:        o.UpdatedAt,
	}
}
