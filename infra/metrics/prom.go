package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	coremetrics "github.com/kilianp07/ugs/core/metrics"
	"github.com/kilianp07/ugs/core/model"
	"github.com/kilianp07/ugs/infra/logger"
)

// PromConfig configures how a batch run exposes its gauges. Both outputs are
// optional: Textfile is picked up by the node exporter textfile collector,
// PushURL targets a Pushgateway.
type PromConfig struct {
	Textfile string `json:"textfile"`
	PushURL  string `json:"push_url"`
	Job      string `json:"job"`
}

// PromSink records run valuations in Prometheus gauges.
type PromSink struct {
	cfg      PromConfig
	gatherer prometheus.Gatherer
	log      logger.Logger

	value     *prometheus.GaugeVec
	bid       *prometheus.GaugeVec
	volume    *prometheus.GaugeVec
	days      *prometheus.GaugeVec
	storage   *prometheus.GaugeVec
	optimal   prometheus.Gauge
	lastRun   prometheus.Gauge
	runsTotal *prometheus.CounterVec
}

// NewPromSink registers run metrics on the default Prometheus registerer.
func NewPromSink(cfg PromConfig) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. When reg is
// also a Gatherer it is used for textfile and push output.
func NewPromSinkWithRegistry(cfg PromConfig, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if cfg.Job == "" {
		cfg.Job = "ugs_optimizer"
	}
	s := &PromSink{cfg: cfg, log: logger.New("prom-sink")}
	s.gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		s.gatherer = g
	}

	var err error
	if s.value, err = registerGaugeVec(reg, "ugs_intrinsic_value", "Intrinsic value of the last run by unit (total or per_unit)", "unit"); err != nil {
		return nil, err
	}
	if s.bid, err = registerGaugeVec(reg, "ugs_bid", "Recommended bid and expected profit of the last run", "kind"); err != nil {
		return nil, err
	}
	if s.volume, err = registerGaugeVec(reg, "ugs_volume", "Total volume moved by the last schedule", "direction"); err != nil {
		return nil, err
	}
	if s.days, err = registerGaugeVec(reg, "ugs_days", "Days per operation mode in the last schedule", "mode"); err != nil {
		return nil, err
	}
	if s.storage, err = registerGaugeVec(reg, "ugs_storage", "Storage indicators of the last schedule", "kind"); err != nil {
		return nil, err
	}
	optimal := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ugs_run_optimal",
		Help: "1 when the last run was proven optimal",
	})
	if s.optimal, err = registerCollector(reg, optimal); err != nil {
		return nil, err
	}
	last := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ugs_last_run_timestamp_seconds",
		Help: "Unix time of the last recorded run",
	})
	if s.lastRun, err = registerCollector(reg, last); err != nil {
		return nil, err
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ugs_runs_recorded_total",
		Help: "Runs recorded by status",
	}, []string{"status"})
	if s.runsTotal, err = registerCollector(reg, runs); err != nil {
		return nil, err
	}
	return s, nil
}

func registerGaugeVec(reg prometheus.Registerer, name, help, label string) (*prometheus.GaugeVec, error) {
	return registerCollector(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{label}))
}

// registerCollector registers c or returns the collector already registered
// under the same descriptor.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRun sets the gauges from rep and writes the configured outputs.
func (s *PromSink) RecordRun(rep model.Report) error {
	s.value.WithLabelValues("total").Set(rep.Economics.IntrinsicValue)
	s.value.WithLabelValues("per_unit").Set(rep.Economics.IntrinsicValuePerUnit)
	s.bid.WithLabelValues("total").Set(rep.Bid.TotalBid)
	s.bid.WithLabelValues("per_unit").Set(rep.Bid.BidPerUnit)
	s.bid.WithLabelValues("expected_profit").Set(rep.Bid.ExpectedProfit)
	s.volume.WithLabelValues("injected").Set(rep.Economics.TotalInjected)
	s.volume.WithLabelValues("withdrawn").Set(rep.Economics.TotalWithdrawn)
	s.days.WithLabelValues("injection").Set(float64(rep.KPIs.InjectionDays))
	s.days.WithLabelValues("withdrawal").Set(float64(rep.KPIs.WithdrawalDays))
	s.days.WithLabelValues("hold").Set(float64(rep.KPIs.HoldDays))
	s.storage.WithLabelValues("max").Set(rep.KPIs.MaxStorage)
	s.storage.WithLabelValues("final").Set(rep.KPIs.FinalStorage)
	s.storage.WithLabelValues("utilization").Set(rep.KPIs.Utilization)
	if rep.Optimal {
		s.optimal.Set(1)
	} else {
		s.optimal.Set(0)
	}
	s.lastRun.Set(float64(rep.CreatedAt.Unix()))
	s.runsTotal.WithLabelValues(rep.Solve.Status).Inc()
	return s.flush(rep.RunID)
}

func (s *PromSink) flush(runID string) error {
	if s.cfg.Textfile != "" {
		if err := prometheus.WriteToTextfile(s.cfg.Textfile, s.gatherer); err != nil {
			return fmt.Errorf("write textfile: %w", err)
		}
	}
	if s.cfg.PushURL != "" {
		err := push.New(s.cfg.PushURL, s.cfg.Job).
			Gatherer(s.gatherer).
			Grouping("run_id", runID).
			Push()
		if err != nil {
			return fmt.Errorf("push metrics: %w", err)
		}
		s.log.Debugf("pushed metrics for run %s to %s", runID, s.cfg.PushURL)
	}
	return nil
}

var _ coremetrics.MetricsSink = (*PromSink)(nil)
