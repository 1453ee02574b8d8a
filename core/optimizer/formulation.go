package optimizer

import (
	"fmt"
	"math"

	"github.com/kilianp07/ugs/core/milp"
	"github.com/kilianp07/ugs/core/model"
)

// formulation is the MILP for one run together with the handles needed to
// read the schedule back. Volumes inside the model are expressed in units of
// scale MWh so that coefficients stay close to one.
type formulation struct {
	model      *milp.Model
	scale      float64
	injection  []milp.Var
	withdrawal []milp.Var
	storage    []milp.Var
	// below[t] is 1 when the level before day t is under the injection
	// threshold.
	below []milp.Var
	// fill[t] is the fill fraction before day t.
	fill []milp.Var
}

// buildFormulation constructs the storage MILP:
//
//	max  Σ wd[t]·p[t] − Σ inj[t]·p[t]·(1+c)
//	s.t. s[t] = s[t-1] + inj[t] − wd[t]                 (s[-1] = initial level)
//	     s[t-1] − θW ≤ M(1−b[t]) − ε·b[t]
//	     s[t-1] − θW ≥ −M·b[t]
//	     inj[t] ≤ R_inj·(f_above + (f_below − f_above)·b[t])
//	     inj[t] ≤ W − s[t-1]
//	     fill[t]·W = s[t-1]
//	     wd[t] ≤ R_wd·(f_empty + (f_full − f_empty)·fill[t])
//	     wd[t] ≤ s[t-1]
//	     s[N-1] = terminal level                        (when configured)
func buildFormulation(prices []float64, p model.FacilityParameters, cfg Config) *formulation {
	n := len(prices)
	scale := p.WGV
	w := p.WGV / scale
	f := &formulation{
		model:      milp.NewModel(fmt.Sprintf("ugs_%dd", n), milp.Maximize),
		scale:      scale,
		injection:  make([]milp.Var, n),
		withdrawal: make([]milp.Var, n),
		storage:    make([]milp.Var, n),
		below:      make([]milp.Var, n),
		fill:       make([]milp.Var, n),
	}
	initial := p.InitialLevel / scale
	threshold := p.InjectionThreshold * w
	bigM := cfg.BigMFactor * w
	eps := cfg.ThresholdEpsilon * w
	injAbove := p.MaxInjectionRate * p.InjectionSecondHalf / scale
	injBelow := p.MaxInjectionRate * p.InjectionFirstHalf / scale
	wdEmpty := p.MaxWithdrawalRate * p.WithdrawalMinFactor / scale
	wdFull := p.MaxWithdrawalRate * p.WithdrawalMaxFactor / scale

	// Flows are boxed by the larger of their two regime rates; the rate
	// rows below select the binding one.
	m := f.model
	for t := 0; t < n; t++ {
		f.injection[t] = m.AddContinuous(fmt.Sprintf("inject_%d", t), 0, math.Max(injAbove, injBelow))
		f.withdrawal[t] = m.AddContinuous(fmt.Sprintf("withdraw_%d", t), 0, math.Max(wdEmpty, wdFull))
		f.storage[t] = m.AddContinuous(fmt.Sprintf("storage_%d", t), 0, w)
		f.below[t] = m.AddBinary(fmt.Sprintf("is_first_half_%d", t))
		f.fill[t] = m.AddContinuous(fmt.Sprintf("fill_%d", t), 0, 1)
	}

	var objective milp.Expr
	for t := 0; t < n; t++ {
		inj, wd, st, b, fill := f.injection[t], f.withdrawal[t], f.storage[t], f.below[t], f.fill[t]

		// prev is the level before day t: a variable, or the initial level
		// folded into the right-hand side.
		prevCoef := func(coef float64, e milp.Expr, rhs float64) (milp.Expr, float64) {
			switch {
			case coef == 0:
				return e, rhs
			case t == 0:
				return e, rhs - coef*initial
			}
			return e.Add(f.storage[t-1], coef), rhs
		}
		add := func(name string, coef float64, e milp.Expr, sense milp.Sense, rhs float64) {
			e, rhs = prevCoef(coef, e, rhs)
			m.AddConstraint(fmt.Sprintf("%s_%d", name, t), e, sense, rhs)
		}

		add("storage_balance", -1, milp.Expr{}.Add(st, 1).Add(inj, -1).Add(wd, 1), milp.EQ, 0)

		e := eps
		if t == 0 && initial > threshold-eps && initial < threshold {
			e = 0
		}
		add("first_half_upper", 1, milp.Expr{}.Add(b, bigM+e), milp.LE, threshold+bigM)
		add("first_half_lower", 1, milp.Expr{}.Add(b, bigM), milp.GE, threshold)
		add("injection_rate", 0, milp.Expr{}.Add(inj, 1).Add(b, -(injBelow-injAbove)), milp.LE, injAbove)
		add("injection_capacity", 1, milp.Expr{}.Add(inj, 1), milp.LE, w)

		add("fill_percentage", -1, milp.Expr{}.Add(fill, w), milp.EQ, 0)
		add("withdrawal_rate", 0, milp.Expr{}.Add(wd, 1).Add(fill, -(wdFull-wdEmpty)), milp.LE, wdEmpty)
		add("withdrawal_capacity", -1, milp.Expr{}.Add(wd, 1), milp.LE, 0)

		objective = objective.
			Add(wd, prices[t]).
			Add(inj, -prices[t]*(1+p.VariableCostRate))
	}
	if p.TerminalLevel != nil && n > 0 {
		m.AddConstraint("terminal_storage", milp.Expr{}.Add(f.storage[n-1], 1), milp.EQ, *p.TerminalLevel/scale)
	}
	m.SetObjective(objective)
	return f
}

// idleStart returns the do-nothing schedule as a point of the model: no
// flows, the initial level kept every day and the regime indicator matching
// it. The solver checks it before using it, so a terminal level it misses
// or an initial level inside the threshold margin only costs the hint.
func (f *formulation) idleStart(p model.FacilityParameters) []float64 {
	x := make([]float64, f.model.NumVars())
	level := p.InitialLevel / f.scale
	below := 0.0
	if p.InitialLevel < p.InjectionThreshold*p.WGV {
		below = 1
	}
	for t := range f.storage {
		x[f.storage[t]] = level
		x[f.fill[t]] = p.InitialLevel / p.WGV
		x[f.below[t]] = below
	}
	return x
}
