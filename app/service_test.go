package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ugs/config"
	"github.com/kilianp07/ugs/core/milp"
	"github.com/kilianp07/ugs/core/model"
	"github.com/kilianp07/ugs/core/optimizer"
	"github.com/kilianp07/ugs/infra/logger"
	"github.com/kilianp07/ugs/infra/prices"
	"github.com/kilianp07/ugs/infra/runlog"
	"github.com/kilianp07/ugs/pkg/export"
)

type recordSink struct {
	runs   []model.Report
	plans  map[string]model.Plan
	err    error
	closed bool
}

func (r *recordSink) RecordRun(rep model.Report) error {
	if r.err != nil {
		return r.err
	}
	r.runs = append(r.runs, rep)
	return nil
}

func (r *recordSink) RecordPlan(runID string, plan model.Plan) error {
	if r.plans == nil {
		r.plans = map[string]model.Plan{}
	}
	r.plans[runID] = plan
	return nil
}

func (r *recordSink) Close() error { r.closed = true; return nil }

type captured struct {
	err  error
	tags map[string]string
}

type recordMonitor struct {
	mu      sync.Mutex
	events  []captured
	flushed bool
}

func (m *recordMonitor) CaptureException(err error, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, captured{err, tags})
}
func (m *recordMonitor) Recover()            {}
func (m *recordMonitor) Flush(time.Duration) { m.flushed = true }

type limitSolver struct{}

func (limitSolver) Solve(context.Context, *milp.Model) (milp.Solution, error) {
	return milp.Solution{Status: milp.StatusLimitReached}, nil
}

// spreadFacility makes the optimum obvious: buy 100 on day 0, sell it on day 1.
func spreadFacility() model.FacilityParameters {
	return model.FacilityParameters{
		WGV:                 1_000_000,
		MaxInjectionRate:    100,
		InjectionThreshold:  0.5,
		InjectionFirstHalf:  1,
		InjectionSecondHalf: 1,
		MaxWithdrawalRate:   100,
		WithdrawalMinFactor: 1,
		WithdrawalMaxFactor: 1,
	}
}

func curve(context.Context, prices.Config) (model.PriceSeries, error) {
	s := model.NewPriceSeries([]float64{10, 20})
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := range s {
		s[i].Date = start.AddDate(0, 0, i)
	}
	return s, nil
}

type fixture struct {
	svc     *Service
	sink    *recordSink
	monitor *recordMonitor
	store   runlog.Store
	dir     string
}

func newFixture(t *testing.T, mutate func(*config.Config), opts ...Option) fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Facility = spreadFacility()
	cfg.Prices.Path = "curve.csv"
	cfg.Prices.Horizon = 2
	cfg.Output = export.Options{Dir: filepath.Join(dir, "out"), CSV: true, JSON: true, Summary: true}
	if mutate != nil {
		mutate(cfg)
	}
	store, err := runlog.NewJSONLStore(filepath.Join(dir, "runs.jsonl"))
	require.NoError(t, err)
	f := fixture{sink: &recordSink{}, monitor: &recordMonitor{}, store: store, dir: dir}
	base := []Option{
		WithSink(f.sink),
		WithMonitor(f.monitor),
		WithStore(store),
		WithLogger(logger.NopLogger{}),
		WithPriceLoader(curve),
		WithIDGenerator(func() string { return "run-1" }),
		WithClock(func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }),
	}
	f.svc, err = New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.svc.Close() })
	return f
}

func TestService_Run(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	rep := res.Report
	assert.Equal(t, "run-1", rep.RunID)
	assert.True(t, rep.Optimal)
	assert.Equal(t, "optimal", rep.Solve.Status)
	assert.InDelta(t, 1000, rep.Economics.IntrinsicValue, 1e-3)
	assert.InDelta(t, 800, rep.Bid.TotalBid, 1e-3)
	assert.InDelta(t, 200, rep.Bid.ExpectedProfit, 1e-3)
	assert.Equal(t, 1, rep.KPIs.InjectionDays)
	assert.Equal(t, 1, rep.KPIs.WithdrawalDays)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), rep.CreatedAt)

	require.Len(t, res.Files, 3)
	for _, p := range res.Files {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}

	require.Len(t, f.sink.runs, 1)
	assert.Len(t, f.sink.plans["run-1"], 2)
	assert.Empty(t, f.monitor.events)

	rec, err := runlog.Get(context.Background(), f.store, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "curve.csv", rec.PricesPath)
	assert.Equal(t, 2, rec.Days)
	assert.InDelta(t, 1000, rec.Economics.IntrinsicValue, 1e-3)
}

func TestService_Rebid(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	rec, bid, err := f.svc.Rebid(context.Background(), "run-1", 0.5)
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.RunID)
	assert.InDelta(t, 500, bid.TotalBid, 1e-3)
	assert.InDelta(t, 500, bid.ExpectedProfit, 1e-3)

	_, bid, err = f.svc.Rebid(context.Background(), "run-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.8, bid.BidFraction)

	_, _, err = f.svc.Rebid(context.Background(), "missing", 0.5)
	assert.True(t, errors.Is(err, runlog.ErrNotFound))

	_, _, err = f.svc.Rebid(context.Background(), "run-1", 1.5)
	assert.True(t, errors.Is(err, optimizer.ErrInvalidParameters))

	runs, err := f.svc.History(context.Background(), runlog.RunQuery{OptimalOnly: true})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestService_PricesFailure(t *testing.T) {
	boom := errors.New("curve unavailable")
	f := newFixture(t, nil, WithPriceLoader(func(context.Context, prices.Config) (model.PriceSeries, error) {
		return nil, boom
	}))
	_, err := f.svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	require.Len(t, f.monitor.events, 1)
	assert.Equal(t, StagePrices, f.monitor.events[0].tags["stage"])
	assert.Equal(t, "run-1", f.monitor.events[0].tags["run_id"])
	runs, _ := f.store.Query(context.Background(), runlog.RunQuery{})
	assert.Empty(t, runs)
}

func TestService_InvalidFacility(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Facility.WGV = 0 })
	_, err := f.svc.Run(context.Background())
	assert.True(t, errors.Is(err, optimizer.ErrInvalidParameters), "got %v", err)
	require.Len(t, f.monitor.events, 1)
	assert.Equal(t, StageOptimize, f.monitor.events[0].tags["stage"])

	_, err = f.svc.Check(context.Background())
	assert.True(t, errors.Is(err, optimizer.ErrInvalidParameters))
}

func TestService_NoOptimalSolution(t *testing.T) {
	f := newFixture(t, nil, WithSolver(limitSolver{}))
	_, err := f.svc.Run(context.Background())
	assert.True(t, errors.Is(err, optimizer.ErrNoOptimalSolution), "got %v", err)
	assert.Empty(t, f.sink.runs)
}

func TestService_MetricsFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.sink.err = errors.New("influx down")
	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.Report.RunID)
	require.Len(t, f.monitor.events, 1)
	assert.Equal(t, StageMetrics, f.monitor.events[0].tags["stage"])

	_, err = runlog.Get(context.Background(), f.store, "run-1")
	assert.NoError(t, err)
}

func TestService_Check(t *testing.T) {
	f := newFixture(t, nil)
	series, err := f.svc.Check(context.Background())
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestService_Close(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.svc.Close())
	assert.True(t, f.sink.closed)
	assert.True(t, f.monitor.flushed)
}

func TestNew_BuildsCollaborators(t *testing.T) {
	cfg := config.Default()
	cfg.RunLog.Path = filepath.Join(t.TempDir(), "runs.jsonl")
	svc, err := New(cfg)
	require.NoError(t, err)
	defer svc.Close()
	assert.NotNil(t, svc.solver)
	assert.NotNil(t, svc.sink)
	assert.NotNil(t, svc.store)
	assert.NotNil(t, svc.Monitor())
}
