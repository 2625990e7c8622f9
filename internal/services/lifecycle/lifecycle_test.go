package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	gatewayMock "github.com/vadiminshakov/selectivedca/mocks/gateway"
	"go.uber.org/zap"
)

var ada = domain.NewPair("ADA", "BTC")

type memStore struct {
	saved []*domain.Position
	err   error
}

func (s *memStore) SavePosition(_ context.Context, p *domain.Position) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, p.Clone())
	return nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decimalMatcher(expected string) interface{} {
	want := d(expected)
	return mock.MatchedBy(func(actual decimal.Decimal) bool {
		return want.Equal(actual)
	})
}

func testParams(tick, step, minNotional, multiplierUp string) domain.MarketQuantizationParams {
	return domain.MarketQuantizationParams{
		Exchange:      domain.ExchangeBinance,
		Market:        ada,
		PriceTickSize: d(tick),
		LotStepSize:   d(step),
		MinNotional:   d(minNotional),
		MultiplierUp:  d(multiplierUp),
	}
}

func openPosition(id int64, purchase, qty string) *domain.Position {
	return &domain.Position{
		ID:            id,
		Exchange:      domain.ExchangeBinance,
		Market:        ada,
		BuyOrderID:    "b",
		BuyQuantity:   d(qty),
		PurchasePrice: d(purchase),
	}
}

func withOrder(p *domain.Position, id, price, qty string) *domain.Position {
	p.SellOrderID = id
	p.SellPrice = decimal.NewNullDecimal(d(price))
	p.SellQuantity = decimal.NewNullDecimal(d(qty))
	return p
}

func newTestEngine(store Store) *Engine {
	return NewEngine(zap.NewNop(), store, DefaultPolicy())
}

func TestInitialTarget(t *testing.T) {
	p := testParams("0.01", "1", "1", "0")
	pos := openPosition(1, "1.00", "100")

	e := newTestEngine(&memStore{})
	assert.True(t, d("1.13").Equal(e.InitialTarget(pos, p, d("1.20"))))
	assert.True(t, d("1.05").Equal(e.InitialTarget(pos, p, d("0.90"))))

	policy := DefaultPolicy()
	policy.InitialSell = InitialSellMinProfit
	e = NewEngine(zap.NewNop(), &memStore{}, policy)
	assert.True(t, d("1.05").Equal(e.InitialTarget(pos, p, d("1.20"))))
}

func TestPlaceInitialSell(t *testing.T) {
	ctx := context.Background()

	t.Run("places and records order", func(t *testing.T) {
		gw := gatewayMock.NewGateway(t)
		store := &memStore{}
		pos := openPosition(1, "1.00", "100")

		gw.On("LimitSell", mock.Anything, ada, decimalMatcher("89"), decimalMatcher("1.13")).
			Return(&domain.LimitOrder{OrderID: "42", Price: d("1.13"), Quantity: d("89")}, nil)

		dec, err := newTestEngine(store).PlaceInitialSell(ctx, gw, pos, testParams("0.01", "1", "1", "0"), d("1.20"), d("1.00"))
		require.NoError(t, err)

		assert.Equal(t, ActionPlaced, dec.Action)
		assert.Equal(t, domain.PositionOpenSellPending, pos.State())
		assert.Equal(t, "42", pos.SellOrderID)
		require.Len(t, store.saved, 1)
		assert.Equal(t, "42", store.saved[0].SellOrderID)
	})

	t.Run("caps under band", func(t *testing.T) {
		gw := gatewayMock.NewGateway(t)
		pos := openPosition(1, "1.00", "100")

		gw.On("LimitSell", mock.Anything, ada, decimalMatcher("100"), decimalMatcher("1.01")).
			Return(&domain.LimitOrder{OrderID: "43", Price: d("1.01"), Quantity: d("100")}, nil)

		dec, err := newTestEngine(&memStore{}).PlaceInitialSell(ctx, gw, pos, testParams("0.01", "1", "1", "1.03"), d("1.20"), d("1.00"))
		require.NoError(t, err)
		assert.Equal(t, ActionPlaced, dec.Action)
		assert.Contains(t, dec.Reason, "band")
	})

	t.Run("rejection leaves position without order", func(t *testing.T) {
		gw := gatewayMock.NewGateway(t)
		store := &memStore{}
		pos := openPosition(1, "1.00", "100")

		gw.On("LimitSell", mock.Anything, ada, mock.Anything, mock.Anything).Return(nil, nil)

		dec, err := newTestEngine(store).PlaceInitialSell(ctx, gw, pos, testParams("0.01", "1", "1", "0"), d("1.20"), d("1.00"))
		require.NoError(t, err)
		assert.Equal(t, ActionRejected, dec.Action)
		assert.Equal(t, domain.PositionOpenNoSellOrder, pos.State())
		assert.Empty(t, store.saved)
	})

	t.Run("gateway error is not fatal", func(t *testing.T) {
		gw := gatewayMock.NewGateway(t)
		pos := openPosition(1, "1.00", "100")

		gw.On("LimitSell", mock.Anything, ada, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

		dec, err := newTestEngine(&memStore{}).PlaceInitialSell(ctx, gw, pos, testParams("0.01", "1", "1", "0"), d("1.20"), d("1.00"))
		require.NoError(t, err)
		assert.Equal(t, ActionFailed, dec.Action)
		assert.False(t, pos.HasSellOrder())
	})

	t.Run("below min notional skips", func(t *testing.T) {
		gw := gatewayMock.NewGateway(t)
		pos := openPosition(1, "1.00", "100")

		dec, err := newTestEngine(&memStore{}).PlaceInitialSell(ctx, gw, pos, testParams("0.01", "1", "1000", "0"), d("1.20"), d("1.00"))
		require.NoError(t, err)
		assert.Equal(t, ActionSkip, dec.Action)
		assert.Contains(t, dec.Reason, "min notional")
	})
}

func TestReviseMarket_KeepsUnchangedMinProfitTarget(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	store := &memStore{}
	pos := withOrder(openPosition(1, "1.00", "100"), "1", "1.05", "96")
	metric := domain.Metric{Market: ada, Close: d("1.00"), MovingAverage: d("1.00")}

	decisions, err := newTestEngine(store).ReviseMarket(context.Background(), gw, []*domain.Position{pos}, testParams("0.01", "1", "1", "0"), metric)
	require.NoError(t, err)

	require.Len(t, decisions, 1)
	assert.Equal(t, ActionKeep, decisions[0].Action)
	assert.Empty(t, store.saved)
	assert.Equal(t, "1", pos.SellOrderID)
}

func TestReviseMarket_ReplacesChangedMinProfitTarget(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	store := &memStore{}
	pos := withOrder(openPosition(1, "1.00", "100"), "1", "1.10", "91")
	metric := domain.Metric{Market: ada, Close: d("1.00"), MovingAverage: d("1.00")}

	gw.On("CancelOrder", mock.Anything, ada, "1").Return(true, "CANCELED", nil).Once()
	gw.On("LimitSell", mock.Anything, ada, decimalMatcher("96"), decimalMatcher("1.05")).
		Return(&domain.LimitOrder{OrderID: "2", Price: d("1.05"), Quantity: d("96")}, nil).Once()

	decisions, err := newTestEngine(store).ReviseMarket(context.Background(), gw, []*domain.Position{pos}, testParams("0.01", "1", "1", "0"), metric)
	require.NoError(t, err)

	require.Len(t, decisions, 1)
	assert.Equal(t, ActionRevised, decisions[0].Action)
	require.Len(t, store.saved, 2)
	assert.Empty(t, store.saved[0].SellOrderID)
	assert.Equal(t, "2", store.saved[1].SellOrderID)
	assert.True(t, d("1.05").Equal(pos.SellPrice.Decimal))
}

func TestReviseMarket_ToleranceSkipsNegligibleChange(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	pos := withOrder(openPosition(1, "0.0090", "1000"), "1", "0.01000", "900")
	metric := domain.Metric{Market: ada, Close: d("0.0100"), MovingAverage: d("0.01059")}

	decisions, err := newTestEngine(&memStore{}).ReviseMarket(context.Background(), gw, []*domain.Position{pos}, testParams("0.00001", "1", "0.001", "0"), metric)
	require.NoError(t, err)

	require.Len(t, decisions, 1)
	assert.Equal(t, ActionKeep, decisions[0].Action)
	assert.True(t, d("0.01002").Equal(decisions[0].Target))
	assert.Contains(t, decisions[0].Reason, "tolerance")
}

func TestReviseMarket_TracksMovingAverageAndSurvivesCancelFailure(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	store := &memStore{}
	pos := withOrder(openPosition(1, "0.0090", "1000"), "1", "0.01000", "900")
	metric := domain.Metric{Market: ada, Close: d("0.0100"), MovingAverage: d("0.0107")}

	gw.On("CancelOrder", mock.Anything, ada, "1").Return(false, "", errors.New("unknown order")).Once()
	gw.On("LimitSell", mock.Anything, ada, decimalMatcher("894"), decimalMatcher("0.01008")).
		Return(&domain.LimitOrder{OrderID: "2", Price: d("0.01008"), Quantity: d("894")}, nil).Once()

	decisions, err := newTestEngine(store).ReviseMarket(context.Background(), gw, []*domain.Position{pos}, testParams("0.00001", "1", "0.001", "0"), metric)
	require.NoError(t, err)

	require.Len(t, decisions, 1)
	assert.Equal(t, ActionRevised, decisions[0].Action)
	assert.Equal(t, "2", pos.SellOrderID)
}

func TestReviseMarket_HoldsLowestLotsAtPreviousTarget(t *testing.T) {
	positions := []*domain.Position{
		withOrder(openPosition(4, "0.40", "100"), "14", "0.63", "64"),
		withOrder(openPosition(2, "0.80", "100"), "12", "0.84", "96"),
		withOrder(openPosition(1, "1.00", "100"), "11", "1.05", "96"),
		withOrder(openPosition(3, "0.60", "100"), "13", "0.63", "96"),
	}
	metric := domain.Metric{Market: ada, Close: d("0.50"), MovingAverage: d("0.30")}

	gw := gatewayMock.NewGateway(t)
	decisions, err := newTestEngine(&memStore{}).ReviseMarket(context.Background(), gw, positions, testParams("0.01", "1", "1", "0"), metric)
	require.NoError(t, err)

	require.Len(t, decisions, 4)
	assert.Equal(t, []int64{1, 2, 3, 4}, []int64{decisions[0].PositionID, decisions[1].PositionID, decisions[2].PositionID, decisions[3].PositionID})
	for _, dec := range decisions {
		assert.Equal(t, ActionKeep, dec.Action, dec.String())
	}
	assert.Equal(t, "held at previous target", decisions[3].Reason)
}

func TestReviseMarket_HeldLotMovesToPreviousTarget(t *testing.T) {
	positions := []*domain.Position{
		withOrder(openPosition(1, "1.00", "100"), "11", "1.05", "96"),
		withOrder(openPosition(2, "0.80", "100"), "12", "0.84", "96"),
		withOrder(openPosition(3, "0.60", "100"), "13", "0.63", "96"),
		withOrder(openPosition(4, "0.40", "100"), "14", "0.42", "96"),
	}
	metric := domain.Metric{Market: ada, Close: d("0.50"), MovingAverage: d("0.30")}

	gw := gatewayMock.NewGateway(t)
	gw.On("CancelOrder", mock.Anything, ada, "14").Return(true, "", nil).Once()
	gw.On("LimitSell", mock.Anything, ada, decimalMatcher("64"), decimalMatcher("0.63")).
		Return(&domain.LimitOrder{OrderID: "15", Price: d("0.63"), Quantity: d("64")}, nil).Once()

	decisions, err := newTestEngine(&memStore{}).ReviseMarket(context.Background(), gw, positions, testParams("0.01", "1", "1", "0"), metric)
	require.NoError(t, err)

	require.Len(t, decisions, 4)
	assert.Equal(t, ActionRevised, decisions[3].Action)
	assert.Equal(t, "15", positions[3].SellOrderID)
}

func TestReviseMarket_BandCap(t *testing.T) {
	metric := domain.Metric{Market: ada, Close: d("1.00"), MovingAverage: d("0.50")}
	p := testParams("0.01", "1", "1", "1.03")

	t.Run("places capped order", func(t *testing.T) {
		gw := gatewayMock.NewGateway(t)
		pos := openPosition(1, "1.00", "100")
		gw.On("LimitSell", mock.Anything, ada, decimalMatcher("100"), decimalMatcher("1.01")).
			Return(&domain.LimitOrder{OrderID: "5", Price: d("1.01"), Quantity: d("100")}, nil).Once()

		decisions, err := newTestEngine(&memStore{}).ReviseMarket(context.Background(), gw, []*domain.Position{pos}, p, metric)
		require.NoError(t, err)
		assert.Equal(t, ActionRevised, decisions[0].Action)
	})

	t.Run("keeps existing capped order", func(t *testing.T) {
		gw := gatewayMock.NewGateway(t)
		pos := withOrder(openPosition(1, "1.00", "100"), "5", "1.01", "100")

		decisions, err := newTestEngine(&memStore{}).ReviseMarket(context.Background(), gw, []*domain.Position{pos}, p, metric)
		require.NoError(t, err)
		assert.Equal(t, ActionKeep, decisions[0].Action)
	})
}

func TestReviseMarket_BelowMinNotionalSkips(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	pos := openPosition(1, "1.00", "100")
	metric := domain.Metric{Market: ada, Close: d("1.00"), MovingAverage: d("0.50")}

	decisions, err := newTestEngine(&memStore{}).ReviseMarket(context.Background(), gw, []*domain.Position{pos}, testParams("0.01", "1", "1000", "0"), metric)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, decisions[0].Action)
}

func TestReviseMarket_RejectedReplacementLeavesNoOrder(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	store := &memStore{}
	pos := withOrder(openPosition(1, "1.00", "100"), "1", "1.10", "91")
	metric := domain.Metric{Market: ada, Close: d("1.00"), MovingAverage: d("1.00")}

	gw.On("CancelOrder", mock.Anything, ada, "1").Return(true, "", nil).Once()
	gw.On("LimitSell", mock.Anything, ada, mock.Anything, mock.Anything).Return(nil, nil).Once()

	decisions, err := newTestEngine(store).ReviseMarket(context.Background(), gw, []*domain.Position{pos}, testParams("0.01", "1", "1", "0"), metric)
	require.NoError(t, err)

	assert.Equal(t, ActionRejected, decisions[0].Action)
	assert.False(t, pos.HasSellOrder())
	require.Len(t, store.saved, 1)
	assert.False(t, store.saved[0].HasSellOrder())
}

func TestReviseMarket_StoreFailureIsFatal(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	pos := withOrder(openPosition(1, "1.00", "100"), "1", "1.10", "91")
	metric := domain.Metric{Market: ada, Close: d("1.00"), MovingAverage: d("1.00")}

	gw.On("CancelOrder", mock.Anything, ada, "1").Return(true, "", nil).Once()

	_, err := newTestEngine(&memStore{err: errors.New("disk full")}).ReviseMarket(context.Background(), gw, []*domain.Position{pos}, testParams("0.01", "1", "1", "0"), metric)
	require.Error(t, err)
}

func TestRelativeDiff(t *testing.T) {
	assert.True(t, d("0.002").Equal(RelativeDiff(d("0.01"), d("0.01002"))))
	assert.True(t, d("0.002").Equal(RelativeDiff(d("0.01002"), d("0.01"))))
	assert.True(t, RelativeDiff(d("1"), d("1")).IsZero())
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.ProfitThreshold = d("0.99")
	require.Error(t, p.Validate())

	p = DefaultPolicy()
	p.InitialSell = "aggressive"
	require.Error(t, p.Validate())
}
