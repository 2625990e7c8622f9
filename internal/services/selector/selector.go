// Package selector picks the next market to buy with a weighted lottery that
// favours markets trading furthest below their moving average.
package selector

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/exposure"
)

// RNG is the randomness source of the draw.
type RNG interface {
	Int63n(n int64) int64
}

// RecentBuysPolicy controls how the last buys restrict candidates.
type RecentBuysPolicy string

const (
	// RecentBuysExclude skips every market among the recent buys unless all of
	// them are the same market.
	RecentBuysExclude RecentBuysPolicy = "exclude"
	// RecentBuysStreak skips a market only when every recent buy was that market.
	RecentBuysStreak RecentBuysPolicy = "streak"
)

// ParseRecentBuysPolicy validates a policy name. Empty means RecentBuysExclude.
func ParseRecentBuysPolicy(s string) (RecentBuysPolicy, error) {
	switch p := RecentBuysPolicy(s); p {
	case "":
		return RecentBuysExclude, nil
	case RecentBuysExclude, RecentBuysStreak:
		return p, nil
	default:
		return "", fmt.Errorf("unknown recent buys policy %q", s)
	}
}

var (
	entriesScale = decimal.NewFromInt(100)
)

// Input is everything one draw depends on.
type Input struct {
	// Metrics for every tracked market, including ones no longer on the active watchlist.
	Metrics []domain.Metric
	// Watchlist is the set of markets eligible for buying.
	Watchlist []domain.MarketRef
	Exposure  *exposure.Tracker
	// Recent are the last max_consecutive_buys positions, newest first.
	Recent         []*domain.Position
	MaxHoldingsPct decimal.Decimal
	Policy         RecentBuysPolicy
}

// Candidate is a market admitted to the lottery.
type Candidate struct {
	Metric    domain.Metric
	Positions int
	Entries   int64
}

// Skip is a watchlist market left out of the lottery.
type Skip struct {
	Market domain.MarketRef
	Reason string
}

// Selection is the outcome of one draw with everything needed to explain it.
type Selection struct {
	MaxPriceToMA decimal.Decimal
	Candidates   []Candidate
	Skipped      []Skip
	TotalEntries int64
	Chosen       *Candidate
}

// Selector draws buy targets.
type Selector struct {
	rng RNG
}

// New returns a Selector drawing from rng. A nil rng is seeded from the clock.
func New(rng RNG) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{rng: rng}
}

// Select ranks, filters and draws. domain.ErrNoCandidates is returned with the
// partially filled selection when nothing is eligible.
func (s *Selector) Select(in Input) (Selection, error) {
	var sel Selection
	if len(in.Metrics) == 0 {
		for _, m := range in.Watchlist {
			sel.Skipped = append(sel.Skipped, Skip{Market: m, Reason: "no metric"})
		}
		return sel, domain.ErrNoCandidates
	}

	tracker := in.Exposure
	if tracker == nil {
		tracker = exposure.New(nil)
	}

	byMarket := make(map[string]domain.Metric, len(in.Metrics))
	sel.MaxPriceToMA = in.Metrics[0].PriceToMA
	for _, m := range in.Metrics {
		byMarket[m.Ref().Key()] = m
		if m.PriceToMA.GreaterThan(sel.MaxPriceToMA) {
			sel.MaxPriceToMA = m.PriceToMA
		}
	}

	blocked := recentlyBought(in.Recent, in.Policy)

	var eligible []domain.Metric
	for _, market := range in.Watchlist {
		m, ok := byMarket[market.Key()]
		switch {
		case !ok:
			sel.Skipped = append(sel.Skipped, Skip{Market: market, Reason: "no metric"})
		case tracker.OverPositioned(market, in.MaxHoldingsPct):
			sel.Skipped = append(sel.Skipped, Skip{
				Market: market,
				Reason: fmt.Sprintf("over-positioned: %d of %d open positions", tracker.Count(market), tracker.Total()),
			})
		case blocked[market.Key()]:
			sel.Skipped = append(sel.Skipped, Skip{Market: market, Reason: "bought recently"})
		default:
			eligible = append(eligible, m)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].PriceToMA.LessThan(eligible[j].PriceToMA)
	})

	for _, m := range eligible {
		c := Candidate{
			Metric:    m,
			Positions: tracker.Count(m.Ref()),
			Entries:   Entries(sel.MaxPriceToMA, m.PriceToMA),
		}
		sel.TotalEntries += c.Entries
		sel.Candidates = append(sel.Candidates, c)
	}

	if len(sel.Candidates) == 0 {
		return sel, domain.ErrNoCandidates
	}

	chosen := sel.Candidates[s.draw(sel.Candidates, sel.TotalEntries)]
	sel.Chosen = &chosen
	return sel, nil
}

func (s *Selector) draw(candidates []Candidate, total int64) int {
	if total <= 0 {
		return int(s.rng.Int63n(int64(len(candidates))))
	}

	ticket := s.rng.Int63n(total)
	for i, c := range candidates {
		if ticket < c.Entries {
			return i
		}
		ticket -= c.Entries
	}
	return len(candidates) - 1
}

// Entries is the lottery weight ((max - ratio) * 100)^3 rounded half to even.
func Entries(maxRatio, ratio decimal.Decimal) int64 {
	dist := maxRatio.Sub(ratio).Mul(entriesScale)
	if !dist.IsPositive() {
		return 0
	}
	return dist.Mul(dist).Mul(dist).RoundBank(0).IntPart()
}

func recentlyBought(recent []*domain.Position, policy RecentBuysPolicy) map[string]bool {
	markets := make(map[string]bool)
	for _, p := range recent {
		markets[p.Ref().Key()] = true
	}

	switch policy {
	case RecentBuysStreak:
		if len(markets) == 1 {
			return markets
		}
		return nil
	default:
		if len(markets) == 1 {
			return nil
		}
		return markets
	}
}
