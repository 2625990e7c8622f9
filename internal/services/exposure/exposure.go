// Package exposure aggregates open position counts per exchange market.
package exposure

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

// Tracker is a read-only view over open positions.
type Tracker struct {
	counts map[string]int
	total  int
}

// Holding is the exposure of one market.
type Holding struct {
	Market         domain.MarketRef
	Count          int
	Share          decimal.Decimal
	OverPositioned bool
}

// New counts open positions per market. Closed positions are ignored.
func New(positions []*domain.Position) *Tracker {
	t := &Tracker{counts: make(map[string]int)}
	for _, p := range positions {
		if p == nil || !p.IsOpen() {
			continue
		}
		t.counts[p.Ref().Key()]++
		t.total++
	}
	return t
}

// Total is the number of open positions.
func (t *Tracker) Total() int {
	return t.total
}

// Count is the number of open positions in market.
func (t *Tracker) Count(market domain.MarketRef) int {
	return t.counts[market.Key()]
}

// Share is the fraction of open positions held in market, zero when nothing is open.
func (t *Tracker) Share(market domain.MarketRef) decimal.Decimal {
	if t.total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(t.Count(market))).Div(decimal.NewFromInt(int64(t.total)))
}

// OverPositioned reports whether market holds at least maxShare of all open positions.
func (t *Tracker) OverPositioned(market domain.MarketRef, maxShare decimal.Decimal) bool {
	if t.total == 0 {
		return false
	}
	return t.Share(market).GreaterThanOrEqual(maxShare)
}

// Snapshot returns exposure for every market in the list, in list order.
func (t *Tracker) Snapshot(markets []domain.MarketRef, maxShare decimal.Decimal) []Holding {
	out := make([]Holding, 0, len(markets))
	for _, m := range markets {
		out = append(out, Holding{
			Market:         m,
			Count:          t.Count(m),
			Share:          t.Share(m),
			OverPositioned: t.OverPositioned(m, maxShare),
		})
	}
	return out
}
