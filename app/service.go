// Package app wires a valuation run: price loading, optimization, bid
// evaluation, exports, metrics and the run log.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/ugs/config"
	coremetrics "github.com/kilianp07/ugs/core/metrics"
	"github.com/kilianp07/ugs/core/milp"
	"github.com/kilianp07/ugs/core/model"
	coremon "github.com/kilianp07/ugs/core/monitoring"
	"github.com/kilianp07/ugs/core/optimizer"
	"github.com/kilianp07/ugs/core/strategy"
	"github.com/kilianp07/ugs/infra/logger"
	_ "github.com/kilianp07/ugs/infra/metrics"
	inframilp "github.com/kilianp07/ugs/infra/milp"
	"github.com/kilianp07/ugs/infra/monitoring"
	"github.com/kilianp07/ugs/infra/prices"
	"github.com/kilianp07/ugs/infra/runlog"
	"github.com/kilianp07/ugs/pkg/export"
)

// Stages reported with captured failures.
const (
	StagePrices   = "prices"
	StageOptimize = "optimize"
	StageStrategy = "strategy"
	StageExport   = "export"
	StageMetrics  = "metrics"
	StageRunLog   = "run_log"
)

// PriceLoader reads the forward curve described by cfg.
type PriceLoader func(ctx context.Context, cfg prices.Config) (model.PriceSeries, error)

// Service runs valuations with the collaborators built from the configuration.
type Service struct {
	cfg     config.Config
	solver  milp.Solver
	sink    coremetrics.MetricsSink
	store   runlog.Store
	monitor coremon.Monitor
	log     logger.Logger
	load    PriceLoader
	now     func() time.Time
	newID   func() string
}

// Option overrides a collaborator of the Service.
type Option func(*Service)

func WithSolver(s milp.Solver) Option            { return func(svc *Service) { svc.solver = s } }
func WithSink(s coremetrics.MetricsSink) Option  { return func(svc *Service) { svc.sink = s } }
func WithStore(s runlog.Store) Option            { return func(svc *Service) { svc.store = s } }
func WithMonitor(m coremon.Monitor) Option       { return func(svc *Service) { svc.monitor = m } }
func WithLogger(l logger.Logger) Option          { return func(svc *Service) { svc.log = l } }
func WithPriceLoader(l PriceLoader) Option       { return func(svc *Service) { svc.load = l } }
func WithClock(now func() time.Time) Option      { return func(svc *Service) { svc.now = now } }
func WithIDGenerator(newID func() string) Option { return func(svc *Service) { svc.newID = newID } }

// RunResult is the outcome of Run.
type RunResult struct {
	Report model.Report
	// Files lists the exported artefacts.
	Files []string
}

// New creates a Service from the configuration. Collaborators not given as
// options are built from cfg.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	svc := &Service{cfg: *cfg}
	for _, o := range opts {
		o(svc)
	}
	if svc.log == nil {
		svc.log = logger.New("service")
	}
	if svc.load == nil {
		svc.load = prices.Read
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.newID == nil {
		svc.newID = uuid.NewString
	}
	if svc.solver == nil {
		svc.solver = inframilp.New(cfg.Solver, logger.New("branch-and-bound"))
	}
	if svc.monitor == nil {
		m, err := monitoring.NewSentryMonitor(cfg.Monitoring)
		if err != nil {
			return nil, fmt.Errorf("monitoring: %w", err)
		}
		svc.monitor = m
	}
	if svc.sink == nil {
		sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
		if err != nil {
			return nil, fmt.Errorf("metrics sinks: %w", err)
		}
		svc.sink = sink
	}
	if svc.store == nil {
		store, err := runlog.New(cfg.RunLog)
		if err != nil {
			svc.closeSink()
			return nil, fmt.Errorf("run log: %w", err)
		}
		svc.store = store
	}
	return svc, nil
}

// Run loads the curve, solves the schedule, prices the bid and hands the
// report to exports, metrics sinks and the run log. Export and run log
// failures fail the run, metrics failures are only reported.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	runID := s.newID()
	log := s.log
	log.Infow("run started", map[string]any{"run_id": runID, "prices": s.pricesRef()})

	series, err := s.load(ctx, s.cfg.Prices)
	if err != nil {
		return nil, s.fail(err, runID, StagePrices)
	}

	modelCfg := s.cfg.Model
	if modelCfg.Horizon == 0 {
		modelCfg.Horizon = s.cfg.Prices.Horizon
	}
	opt := optimizer.New(s.solver, modelCfg, logger.New("optimizer"))
	res, err := opt.Optimize(ctx, series, s.cfg.Facility)
	if err != nil {
		var noOpt *optimizer.NoOptimalError
		if errors.As(err, &noOpt) && noOpt.Incumbent != nil {
			log.Warnf("best incumbent %.2f (bound %.2f) rejected; set model.accept_suboptimal to keep it",
				noOpt.Incumbent.Objective, noOpt.Incumbent.BestBound)
		}
		return nil, s.fail(err, runID, StageOptimize)
	}

	bid, err := strategy.Evaluate(res.Economics, s.cfg.Facility.WGV, s.cfg.Strategy.BidFraction)
	if err != nil {
		return nil, s.fail(err, runID, StageStrategy)
	}
	rep := model.Report{
		RunID:     runID,
		CreatedAt: s.now().UTC(),
		Optimal:   res.Optimal,
		Facility:  s.cfg.Facility,
		Plan:      res.Plan,
		Economics: res.Economics,
		KPIs:      strategy.ComputeKPIs(res.Plan, s.cfg.Facility),
		Bid:       bid,
		Solve: model.SolveSummary{
			Status:     res.Status.String(),
			Objective:  res.Objective,
			BestBound:  res.BestBound,
			Nodes:      res.Nodes,
			DurationMS: res.Duration.Milliseconds(),
		},
	}

	files, err := export.WriteFiles(rep, s.cfg.Output)
	if err != nil {
		return nil, s.fail(err, runID, StageExport)
	}
	if err := coremetrics.Record(s.sink, rep); err != nil {
		log.Errorf("record metrics for run %s: %v", runID, err)
		coremon.Capture(s.monitor, err, runID, StageMetrics)
	}
	if err := s.store.Append(ctx, runlog.FromReport(rep, s.pricesRef())); err != nil {
		return &RunResult{Report: rep, Files: files}, s.fail(err, runID, StageRunLog)
	}

	log.Infow("run complete", map[string]any{
		"run_id":          runID,
		"status":          rep.Solve.Status,
		"intrinsic_value": rep.Economics.IntrinsicValue,
		"total_bid":       rep.Bid.TotalBid,
		"files":           len(files),
	})
	return &RunResult{Report: rep, Files: files}, nil
}

// Check loads the curve and validates it against the facility without
// solving.
func (s *Service) Check(ctx context.Context) (model.PriceSeries, error) {
	if err := s.cfg.Facility.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", optimizer.ErrInvalidParameters, err)
	}
	series, err := s.load(ctx, s.cfg.Prices)
	if err != nil {
		return nil, err
	}
	s.log.Infof("prices ok: %d days from %s", len(series), s.pricesRef())
	return series, nil
}

// Rebid prices the stored run runID again with another bid fraction. A zero
// fraction uses the configured one.
func (s *Service) Rebid(ctx context.Context, runID string, fraction float64) (runlog.RunRecord, model.BidRecommendation, error) {
	if fraction == 0 {
		fraction = s.cfg.Strategy.BidFraction
	}
	rec, err := runlog.Get(ctx, s.store, runID)
	if err != nil {
		return runlog.RunRecord{}, model.BidRecommendation{}, err
	}
	bid, err := strategy.Evaluate(rec.Economics, rec.Facility.WGV, fraction)
	if err != nil {
		return rec, model.BidRecommendation{}, err
	}
	return rec, bid, nil
}

// History lists stored runs matching q.
func (s *Service) History(ctx context.Context, q runlog.RunQuery) ([]runlog.RunRecord, error) {
	return s.store.Query(ctx, q)
}

// Monitor returns the error monitor of the service.
func (s *Service) Monitor() coremon.Monitor { return s.monitor }

// Close releases the run log and the metrics sinks and flushes pending
// monitoring events.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	errs = append(errs, s.closeSink())
	if s.monitor != nil {
		s.monitor.Flush(2 * time.Second)
	}
	return errors.Join(errs...)
}

func (s *Service) closeSink() error {
	if c, ok := s.sink.(coremetrics.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Service) fail(err error, runID, stage string) error {
	s.log.Errorf("run %s failed at %s: %v", runID, stage, err)
	coremon.Capture(s.monitor, err, runID, stage)
	return fmt.Errorf("%s: %w", stage, err)
}

func (s *Service) pricesRef() string {
	if s.cfg.Prices.Source == prices.SourceHTTP {
		return s.cfg.Prices.HTTP.URL
	}
	return s.cfg.Prices.Path
}
