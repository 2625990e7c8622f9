// Package report renders the human summaries printed after each run and sent
// with notifications.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/selector"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
	numStyle   = cellStyle.Align(lipgloss.Right)

	hundred = decimal.NewFromInt(100)
)

// Prices maps MarketRef.Key to the latest known price.
type Prices map[string]decimal.Decimal

// PricesFromMetrics takes the last closed price of every metric.
func PricesFromMetrics(metrics []domain.Metric) Prices {
	out := make(Prices, len(metrics))
	for _, m := range metrics {
		out[m.Ref().Key()] = m.Close
	}
	return out
}

func render(title string, headers []string, rows [][]string, footer []string) string {
	if footer != nil {
		rows = append(rows, footer)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return cellStyle
			}
			return numStyle
		})
	return titleStyle.Render(title) + "\n" + t.Render()
}

type marketGroup struct {
	ref       domain.MarketRef
	positions []*domain.Position
}

// group buckets positions per exchange and market, sorted by market key.
func group(positions []*domain.Position, keep func(*domain.Position) bool) []marketGroup {
	idx := make(map[string]int)
	var groups []marketGroup
	for _, p := range positions {
		if keep != nil && !keep(p) {
			continue
		}
		key := p.Ref().Key()
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, marketGroup{ref: p.Ref()})
		}
		groups[i].positions = append(groups[i].positions, p)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ref.Key() < groups[j].ref.Key() })
	return groups
}

func label(ref domain.MarketRef, multiExchange bool) string {
	if multiExchange {
		return ref.String()
	}
	return ref.Pair.Symbol()
}

func spansExchanges(groups []marketGroup) bool {
	for _, g := range groups {
		if g.ref.Exchange != groups[0].ref.Exchange {
			return true
		}
	}
	return false
}

func fmtDec(d decimal.Decimal) string {
	return d.Round(8).String()
}

func pct(num, den decimal.Decimal) string {
	if den.IsZero() {
		return "-"
	}
	return num.Div(den).Mul(hundred).StringFixed(2) + "%"
}

// OpenPositions lists per market the open lots, held quantity, average buy
// price and the pending sell targets.
func OpenPositions(positions []*domain.Position) string {
	groups := group(positions, (*domain.Position).IsOpen)
	if len(groups) == 0 {
		return titleStyle.Render("Open positions") + "\nnone"
	}
	multi := spansExchanges(groups)

	rows := make([][]string, 0, len(groups))
	totalLots := 0
	for _, g := range groups {
		var qty, spent decimal.Decimal
		var targets []string
		for _, p := range g.positions {
			qty = qty.Add(p.BuyQuantity)
			spent = spent.Add(p.Spent())
			switch {
			case p.HasSellOrder() && p.SellPrice.Valid:
				targets = append(targets, fmtDec(p.SellPrice.Decimal))
			case p.SellPrice.Valid:
				targets = append(targets, fmtDec(p.SellPrice.Decimal)+"*")
			}
		}
		totalLots += len(g.positions)
		rows = append(rows, []string{
			label(g.ref, multi),
			fmt.Sprint(len(g.positions)),
			fmtDec(qty),
			fmtDec(spent.Div(qty)),
			strings.Join(targets, " "),
		})
	}

	return render("Open positions",
		[]string{"market", "lots", "quantity", "avg price", "sell targets"},
		rows,
		[]string{"total", fmt.Sprint(totalLots), "", "", ""})
}

// Scalped lists per market what the filled sells returned and kept.
func Scalped(positions []*domain.Position) string {
	groups := group(positions, func(p *domain.Position) bool { return !p.IsOpen() })
	if len(groups) == 0 {
		return titleStyle.Render("Scalped positions") + "\nnone"
	}
	multi := spansExchanges(groups)

	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		var sold, recouped, scalped decimal.Decimal
		for _, p := range g.positions {
			sold = sold.Add(p.SellQuantity.Decimal)
			recouped = recouped.Add(p.Recouped())
			scalped = scalped.Add(p.ScalpedQuantity.Decimal)
		}
		rows = append(rows, []string{
			label(g.ref, multi),
			fmt.Sprint(len(g.positions)),
			fmtDec(sold),
			fmtDec(recouped),
			fmtDec(scalped),
		})
	}

	return render("Scalped positions",
		[]string{"market", "sells", "sold", "recouped", "scalped"}, rows, nil)
}

// ProfitLine is the mark-to-market result of one market.
type ProfitLine struct {
	Ref     domain.MarketRef
	Spent   decimal.Decimal
	Value   decimal.Decimal
	Profit  decimal.Decimal
	Missing bool
}

// Profit marks every position to the given prices. Value is what is still
// held at the current price plus what sells already returned. Markets without
// a price are flagged and left out of the totals.
func Profit(positions []*domain.Position, prices Prices) ([]ProfitLine, ProfitLine) {
	var lines []ProfitLine
	var total ProfitLine
	for _, g := range group(positions, nil) {
		line := ProfitLine{Ref: g.ref}
		price, ok := prices[g.ref.Key()]
		if !ok {
			line.Missing = true
		}
		for _, p := range g.positions {
			line.Spent = line.Spent.Add(p.Spent())
			line.Value = line.Value.Add(p.Recouped()).Add(p.Remaining().Mul(price))
		}
		line.Profit = line.Value.Sub(line.Spent)
		if !line.Missing {
			total.Spent = total.Spent.Add(line.Spent)
			total.Value = total.Value.Add(line.Value)
		}
		lines = append(lines, line)
	}
	total.Profit = total.Value.Sub(total.Spent)

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Missing != lines[j].Missing {
			return !lines[i].Missing
		}
		return lines[i].Profit.GreaterThan(lines[j].Profit)
	})
	return lines, total
}

// CurrentProfit renders Profit as a table, best market first and unpriced
// markets last.
func CurrentProfit(positions []*domain.Position, prices Prices) string {
	lines, total := Profit(positions, prices)
	if len(lines) == 0 {
		return titleStyle.Render("Current profit") + "\nnone"
	}

	groups := make([]marketGroup, len(lines))
	for i, l := range lines {
		groups[i] = marketGroup{ref: l.Ref}
	}
	multi := spansExchanges(groups)

	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		if l.Missing {
			rows = append(rows, []string{label(l.Ref, multi), fmtDec(l.Spent), "no price", "", ""})
			continue
		}
		rows = append(rows, []string{
			label(l.Ref, multi),
			fmtDec(l.Spent),
			fmtDec(l.Value),
			fmtDec(l.Profit),
			pct(l.Value, l.Spent),
		})
	}

	return render("Current profit",
		[]string{"market", "spent", "value", "profit", "value/spent"},
		rows,
		[]string{"total", fmtDec(total.Spent), fmtDec(total.Value), fmtDec(total.Profit), pct(total.Value, total.Spent)})
}

// Lottery explains a buy draw: every candidate's ratio, holdings and entries,
// plus the markets that were filtered out.
func Lottery(sel selector.Selection) string {
	rows := make([][]string, 0, len(sel.Candidates)+len(sel.Skipped))
	for _, c := range sel.Candidates {
		chance := "-"
		if sel.TotalEntries > 0 {
			chance = pct(decimal.NewFromInt(c.Entries), decimal.NewFromInt(sel.TotalEntries))
		}
		rows = append(rows, []string{
			c.Metric.Ref().String(),
			c.Metric.PriceToMA.StringFixed(4),
			fmt.Sprint(c.Positions),
			fmt.Sprint(c.Entries),
			chance,
		})
	}
	for _, s := range sel.Skipped {
		rows = append(rows, []string{s.Market.String(), "", "", "skip", s.Reason})
	}

	out := render("Buy lottery",
		[]string{"market", "price/MA", "positions", "entries", "odds"}, rows, nil)
	if sel.Chosen != nil {
		out += fmt.Sprintf("\nchosen: %s", sel.Chosen.Metric.Ref())
	}
	return out
}

// Sold is the one-line-per-position summary of sells filled this run.
func Sold(positions []*domain.Position) string {
	var b strings.Builder
	for _, p := range positions {
		fmt.Fprintf(&b, "%s: sold %s | recouped %s %s | scalped %s\n",
			p.Market.Symbol(),
			p.SellQuantity.Decimal.String(),
			fmtDec(p.Recouped()),
			p.Market.To,
			p.ScalpedQuantity.Decimal.String())
	}
	return b.String()
}

// BoughtTitle is the notification subject after a buy.
func BoughtTitle(pos *domain.Position, m domain.Metric) string {
	return fmt.Sprintf("Bought %s %s (%s%% of %d-period MA)",
		pos.BuyQuantity.String(), pos.Market.From,
		m.PriceToMA.Mul(hundred).StringFixed(2), m.MAPeriod)
}

// SoldTitle is the notification subject after fills were reconciled.
func SoldTitle(n int) string {
	return fmt.Sprintf("SOLD %d positions", n)
}
