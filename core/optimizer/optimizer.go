// Package optimizer computes the intrinsic injection/withdrawal schedule of a
// gas storage facility against a deterministic forward curve.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/ugs/core/milp"
	"github.com/kilianp07/ugs/core/model"
	"github.com/kilianp07/ugs/infra/logger"
)

// ModelStats describes the size of a built model.
type ModelStats struct {
	Variables   int `json:"variables"`
	Binaries    int `json:"binaries"`
	Constraints int `json:"constraints"`
}

// Result is the outcome of one optimization run.
type Result struct {
	Plan      model.Plan
	Economics model.EconomicsSummary
	Status    milp.Status
	// Optimal is false only for incumbents accepted after a solver limit.
	Optimal bool
	// Objective is the solver's objective value in currency units.
	Objective float64
	// BestBound is the best proven upper bound on the intrinsic value.
	BestBound float64
	Nodes     int
	Duration  time.Duration
	Stats     ModelStats
}

// Optimizer builds and solves the storage model. Each call to Optimize uses
// an independent model so an Optimizer can be reused across runs.
type Optimizer struct {
	solver milp.Solver
	cfg    Config
	log    logger.Logger
	now    func() time.Time
}

// New returns an optimizer delegating to solver. A nil logger disables
// logging.
func New(solver milp.Solver, cfg Config, log logger.Logger) *Optimizer {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Optimizer{solver: solver, cfg: cfg, log: log, now: time.Now}
}

// integralityReporter is implemented by solvers that accept a binary within
// some distance of 0 or 1.
type integralityReporter interface {
	IntegralityTolerance() float64
}

// planTolerance, as a fraction of the WGV, is the slack allowed when a
// solved schedule is checked against the facility curves.
const planTolerance = 1e-6

func (o *Optimizer) validate(prices model.PriceSeries, p model.FacilityParameters) error {
	if err := o.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if r, ok := o.solver.(integralityReporter); ok {
		if err := o.cfg.CheckIntegralityTolerance(r.IntegralityTolerance()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if err := prices.Validate(o.cfg.Horizon); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return nil
}

// Optimize solves the schedule for prices under the facility parameters.
//
// Invalid inputs fail with ErrInvalidParameters before a model is built. A
// proven infeasible model fails with ErrInfeasibleModel. When the solver
// stops on a limit the error is a *NoOptimalError carrying the incumbent,
// unless AcceptSuboptimal is set, in which case the incumbent is returned
// with Optimal=false.
func (o *Optimizer) Optimize(ctx context.Context, prices model.PriceSeries, p model.FacilityParameters) (*Result, error) {
	if o.solver == nil {
		return nil, errors.New("optimizer: no solver configured")
	}
	if err := o.validate(prices, p); err != nil {
		return nil, err
	}

	f := buildFormulation(prices.Prices(), p, o.cfg)
	f.model.SetStart(f.idleStart(p))
	stats := ModelStats{
		Variables:   f.model.NumVars(),
		Binaries:    f.model.NumBinaries(),
		Constraints: len(f.model.Constraints()),
	}
	o.log.Infow("model built", map[string]any{
		"days":        len(prices),
		"variables":   stats.Variables,
		"binaries":    stats.Binaries,
		"constraints": stats.Constraints,
	})

	start := o.now()
	sol, err := o.solver.Solve(ctx, f.model)
	elapsed := o.now().Sub(start)
	observeSolve(sol, elapsed)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	o.log.Infow("solver finished", map[string]any{
		"status":   sol.Status.String(),
		"nodes":    sol.Nodes,
		"duration": elapsed.String(),
	})

	switch sol.Status {
	case milp.StatusOptimal:
	case milp.StatusInfeasible:
		return nil, fmt.Errorf("%w: %d days, wgv %.0f", ErrInfeasibleModel, len(prices), p.WGV)
	case milp.StatusLimitReached:
		if !sol.HasIncumbent() {
			return nil, &NoOptimalError{Status: sol.Status}
		}
		res, err := o.extract(f, prices, p, sol, elapsed, stats)
		if err != nil {
			return nil, err
		}
		if !o.cfg.AcceptSuboptimal {
			return res, &NoOptimalError{Status: sol.Status, Incumbent: res}
		}
		o.log.Warnf("accepting sub-optimal schedule: value %.2f, bound %.2f", res.Objective, res.BestBound)
		return res, nil
	default:
		return nil, &NoOptimalError{Status: sol.Status}
	}
	return o.extract(f, prices, p, sol, elapsed, stats)
}

// extract turns solver values into a Plan. Flows below the zero tolerance are
// dropped and storage levels are re-derived from the flows so that the
// continuity equation holds exactly. A schedule breaking the facility curves
// is refused with ErrNoOptimalSolution whatever status the solver reported.
func (o *Optimizer) extract(f *formulation, prices model.PriceSeries, p model.FacilityParameters, sol milp.Solution, elapsed time.Duration, stats ModelStats) (*Result, error) {
	zero := o.cfg.ZeroTolerance * p.WGV
	snap := func(v float64) float64 {
		v *= f.scale
		if v < zero {
			return 0
		}
		return v
	}

	plan := make(model.Plan, len(prices))
	level := p.InitialLevel
	for t, d := range prices {
		inj := snap(sol.Value(f.injection[t]))
		wd := snap(sol.Value(f.withdrawal[t]))
		level = clamp(level+inj-wd, 0, p.WGV, zero)
		plan[t] = model.DayPlan{
			Day:        d.Day,
			Date:       d.Date,
			Price:      d.Price,
			Injection:  inj,
			Withdrawal: wd,
			Storage:    level,
		}
	}

	if err := o.checkCurves(f, plan, p, sol); err != nil {
		o.log.Errorf("solver schedule rejected: %v", err)
		return nil, fmt.Errorf("%w: solver status %s: %v", ErrNoOptimalSolution, sol.Status, err)
	}

	econ := Economics(plan, p)
	objective := sol.Objective * f.scale
	if diff := math.Abs(objective - econ.IntrinsicValue); diff > 1e-6*math.Max(1, math.Abs(objective)) {
		o.log.Debugf("intrinsic value %.6f differs from solver objective %.6f", econ.IntrinsicValue, objective)
	}
	bound := sol.BestBound * f.scale
	switch {
	case sol.Status == milp.StatusOptimal:
		bound = objective
	case math.IsInf(bound, 0) || math.IsNaN(bound):
		// Stopped before the root relaxation was solved.
		bound = rateBound(prices, p)
	}
	return &Result{
		Plan:      plan,
		Economics: econ,
		Status:    sol.Status,
		Optimal:   sol.Status == milp.StatusOptimal,
		Objective: objective,
		BestBound: bound,
		Nodes:     sol.Nodes,
		Duration:  elapsed,
		Stats:     stats,
	}, nil
}

// checkCurves verifies every day of plan against the facility's injection
// and withdrawal capacities. The prior level is taken from both the plan and
// the solver, whichever is more favourable, so snapping drift alone never
// fails a schedule.
func (o *Optimizer) checkCurves(f *formulation, plan model.Plan, p model.FacilityParameters, sol milp.Solution) error {
	slack := planTolerance * p.WGV
	prev, solved := p.InitialLevel, p.InitialLevel
	for t, d := range plan {
		low, high := math.Min(prev, solved), math.Max(prev, solved)
		if limit := p.InjectionCapacity(low); d.Injection > limit+slack {
			return fmt.Errorf("day %d: injection %.6f above rate %.6f at level %.6f", d.Day, d.Injection, limit, low)
		}
		if limit := p.WGV - low; d.Injection > limit+slack {
			return fmt.Errorf("day %d: injection %.6f above free space %.6f", d.Day, d.Injection, limit)
		}
		if limit := p.WithdrawalCapacity(high); d.Withdrawal > limit+slack {
			return fmt.Errorf("day %d: withdrawal %.6f above rate %.6f at level %.6f", d.Day, d.Withdrawal, limit, high)
		}
		if d.Withdrawal > high+slack {
			return fmt.Errorf("day %d: withdrawal %.6f above stored gas %.6f", d.Day, d.Withdrawal, high)
		}
		prev, solved = d.Storage, sol.Value(f.storage[t])*f.scale
	}
	return nil
}

// rateBound caps the intrinsic value by trading every day at full rate in
// whichever direction pays, ignoring the storage level.
func rateBound(prices model.PriceSeries, p model.FacilityParameters) float64 {
	var v float64
	for _, d := range prices {
		sell := d.Price * p.MaxWithdrawalRate
		buy := -d.Price * (1 + p.VariableCostRate) * p.MaxInjectionRate
		v += math.Max(0, math.Max(sell, buy))
	}
	return v
}

// Economics aggregates the cash flows of plan.
func Economics(plan model.Plan, p model.FacilityParameters) model.EconomicsSummary {
	var e model.EconomicsSummary
	for _, d := range plan {
		e.Revenue += d.Withdrawal * d.Price
		e.Cost += d.Injection * d.Price * (1 + p.VariableCostRate)
		e.VariableCost += d.Injection * d.Price * p.VariableCostRate
		e.TotalInjected += d.Injection
		e.TotalWithdrawn += d.Withdrawal
	}
	e.IntrinsicValue = e.Revenue - e.Cost
	if p.WGV > 0 {
		e.IntrinsicValuePerUnit = e.IntrinsicValue / p.WGV
	}
	return e
}

// clamp pulls v into [lo, hi] when it lies outside by at most tol.
func clamp(v, lo, hi, tol float64) float64 {
	if v < lo && v >= lo-tol {
		return lo
	}
	if v > hi && v <= hi+tol {
		return hi
	}
	return v
}
