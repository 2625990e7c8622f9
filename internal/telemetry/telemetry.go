// Package telemetry counts run outcomes with Prometheus. The bot is a batch
// job, so metrics are pushed to a Pushgateway at the end of a run instead of
// being scraped.
package telemetry

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/lifecycle"
)

const jobName = "selectivedca"

// Recorder implements the strategy's cycle observer.
type Recorder struct {
	reg *prometheus.Registry

	buys      *prometheus.CounterVec
	spent     *prometheus.CounterVec
	decisions *prometheus.CounterVec
	sold      *prometheus.CounterVec
	recouped  *prometheus.CounterVec
	openLots  *prometheus.GaugeVec
	lastRun   prometheus.Gauge
}

// NewRecorder registers the collectors on a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		buys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdca_buys_total",
			Help: "Market buys executed",
		}, []string{"exchange", "market"}),
		spent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdca_spent_quote_total",
			Help: "Quote currency spent on buys",
		}, []string{"exchange", "market"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdca_sell_decisions_total",
			Help: "Sell lifecycle decisions by action",
		}, []string{"market", "action"}),
		sold: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdca_positions_sold_total",
			Help: "Positions whose scalp sell filled",
		}, []string{"exchange", "market"}),
		recouped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdca_recouped_quote_total",
			Help: "Quote currency received from filled sells",
		}, []string{"exchange", "market"}),
		openLots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdca_open_positions",
			Help: "Open positions at the end of the run",
		}, []string{"exchange", "market"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sdca_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
	}
	r.reg.MustRegister(r.buys, r.spent, r.decisions, r.sold, r.recouped, r.openLots, r.lastRun)
	return r
}

// Registry exposes the registry for tests and custom gatherers.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

func (r *Recorder) ObserveBuy(ref domain.MarketRef, spent decimal.Decimal) {
	labels := []string{string(ref.Exchange), ref.Pair.Symbol()}
	r.buys.WithLabelValues(labels...).Inc()
	r.spent.WithLabelValues(labels...).Add(spent.InexactFloat64())
}

func (r *Recorder) ObserveDecision(d lifecycle.Decision) {
	r.decisions.WithLabelValues(d.Market.Symbol(), string(d.Action)).Inc()
}

func (r *Recorder) ObserveSold(p *domain.Position) {
	labels := []string{string(p.Exchange), p.Market.Symbol()}
	r.sold.WithLabelValues(labels...).Inc()
	r.recouped.WithLabelValues(labels...).Add(p.Recouped().InexactFloat64())
}

// ObserveOpen replaces the open positions gauge with the given snapshot.
func (r *Recorder) ObserveOpen(positions []*domain.Position) {
	r.openLots.Reset()
	for _, p := range positions {
		if p.IsOpen() {
			r.openLots.WithLabelValues(string(p.Exchange), p.Market.Symbol()).Inc()
		}
	}
}

// MarkRun stamps the completion time.
func (r *Recorder) MarkRun(unixSeconds int64) {
	r.lastRun.Set(float64(unixSeconds))
}

// Push sends everything gathered to the Pushgateway at url, replacing the
// previous push of this instance.
func (r *Recorder) Push(ctx context.Context, url, instance string) error {
	p := push.New(url, jobName).Gatherer(r.reg)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return errors.Wrap(err, "push metrics")
	}
	return nil
}
