package milp

import (
	"context"
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	coremilp "github.com/kilianp07/ugs/core/milp"
)

var (
	// errLPStopped is returned when the context is done or the deadline
	// passed in the middle of a solve.
	errLPStopped = errors.New("simplex: stopped")
	// errLPIterations is returned when a solve exceeds its iteration budget.
	errLPIterations = errors.New("simplex: iteration limit")
	// errLPNumerical is returned when the basis keeps producing directions
	// that contradict the phase one objective.
	errLPNumerical = errors.New("simplex: numerical failure")
)

const (
	// pivotTolerance is the smallest |alpha| accepted as a pivot.
	pivotTolerance = 1e-9
	// checkEvery is the number of iterations between accuracy checks of the
	// basis inverse.
	checkEvery = 100
	// residualTolerance triggers a refactorization when exceeded by the row
	// residuals of the recomputed basic solution.
	residualTolerance = 1e-7
	// blandAfter switches pricing to Bland's rule after that many
	// consecutive degenerate pivots.
	blandAfter = 50
	// stopCheckEvery is the number of iterations between context checks.
	stopCheckEvery = 32
)

type colEntry struct {
	row  int
	coef float64
}

// simplex is a bounded primal simplex over
//
//	min c·x  s.t.  A·x − z = 0,  lo ≤ (x, z) ≤ hi
//
// where z holds one logical variable per row whose bounds carry the sense
// and right-hand side of the row. The basis inverse is kept dense and
// updated in product form after every pivot. Bounds of the structural
// variables can be replaced between solves; the basis is kept so that the
// next solve starts where the previous one stopped.
type simplex struct {
	m, nx int
	cols  [][]colEntry
	cost  []float64
	lo    []float64
	hi    []float64
	x     []float64
	head  []int
	pos   []int
	binv  *mat.Dense

	tol  float64
	dtol float64

	// refreshed is true while x holds basic values recomputed from the
	// nonbasic ones rather than updated step by step.
	refreshed bool
	iters     int

	cb, y, alpha, rho, work []float64
}

// newSimplex builds the LP of m with the minimisation costs cost. The first
// basis is made of the logical variables only.
func newSimplex(m *coremilp.Model, cost []float64, tol float64) *simplex {
	nx := m.NumVars()
	rows := m.Constraints()
	s := &simplex{
		m:    len(rows),
		nx:   nx,
		cols: make([][]colEntry, nx),
		cost: cost,
		lo:   make([]float64, nx+len(rows)),
		hi:   make([]float64, nx+len(rows)),
		x:    make([]float64, nx+len(rows)),
		head: make([]int, len(rows)),
		pos:  make([]int, nx+len(rows)),
		tol:  tol,
	}
	maxCost := 1.0
	for _, c := range cost {
		maxCost = math.Max(maxCost, math.Abs(c))
	}
	s.dtol = tol * maxCost

	for i, c := range rows {
		merged := make(map[coremilp.Var]float64, len(c.Expr))
		order := make([]coremilp.Var, 0, len(c.Expr))
		for _, t := range c.Expr {
			if _, seen := merged[t.Var]; !seen {
				order = append(order, t.Var)
			}
			merged[t.Var] += t.Coef
		}
		for _, v := range order {
			if a := merged[v]; a != 0 {
				s.cols[v] = append(s.cols[v], colEntry{row: i, coef: a})
			}
		}
		z := nx + i
		switch c.Sense {
		case coremilp.LE:
			s.lo[z], s.hi[z] = math.Inf(-1), c.RHS
		case coremilp.GE:
			s.lo[z], s.hi[z] = c.RHS, math.Inf(1)
		default:
			s.lo[z], s.hi[z] = c.RHS, c.RHS
		}
	}
	for j, v := range m.Variables() {
		s.lo[j], s.hi[j] = v.Lower, v.Upper
		s.x[j] = s.snap(j, v.Lower)
	}
	if s.m > 0 {
		s.binv = mat.NewDense(s.m, s.m, nil)
		s.cb = make([]float64, s.m)
		s.y = make([]float64, s.m)
		s.alpha = make([]float64, s.m)
		s.rho = make([]float64, s.m)
		s.work = make([]float64, s.m)
	}
	s.logicalBasis()
	return s
}

// logicalBasis makes every logical variable basic, B = −I, and moves the
// structural variables onto a bound.
func (s *simplex) logicalBasis() {
	for j := range s.pos {
		s.pos[j] = -1
	}
	for j := 0; j < s.nx; j++ {
		s.x[j] = s.snap(j, s.x[j])
	}
	for i := range s.head {
		s.head[i] = s.nx + i
		s.pos[s.nx+i] = i
	}
	if s.m == 0 {
		return
	}
	s.binv.Zero()
	for i := 0; i < s.m; i++ {
		s.binv.Set(i, i, -1)
	}
	s.refresh()
}

// setBounds replaces the bounds of the structural variables, moves the
// nonbasic ones onto their new bounds and recomputes the basic values.
func (s *simplex) setBounds(lower, upper []float64) {
	copy(s.lo, lower)
	copy(s.hi, upper)
	for j := 0; j < s.nx; j++ {
		if s.pos[j] < 0 {
			s.x[j] = s.snap(j, s.x[j])
		}
	}
	s.refresh()
}

// snap returns the bound of j closest to v, or 0 for a free variable.
func (s *simplex) snap(j int, v float64) float64 {
	lo, hi := s.lo[j], s.hi[j]
	switch {
	case math.IsInf(lo, -1) && math.IsInf(hi, 1):
		return 0
	case math.IsInf(lo, -1):
		return hi
	case math.IsInf(hi, 1):
		return lo
	case v-lo <= hi-v:
		return lo
	default:
		return hi
	}
}

// values returns a copy of the structural part of the current point.
func (s *simplex) values() []float64 {
	return append([]float64(nil), s.x[:s.nx]...)
}

func (s *simplex) objective() float64 { return dot(s.cost, s.x[:s.nx]) }

func (s *simplex) row(i int) []float64 {
	raw := s.binv.RawMatrix()
	return raw.Data[i*raw.Stride : i*raw.Stride+s.m]
}

// refresh recomputes the basic values as x_B = −B⁻¹·N·x_N.
func (s *simplex) refresh() {
	if s.m == 0 {
		return
	}
	r := s.work
	for i := range r {
		r[i] = 0
	}
	for j := 0; j < s.nx; j++ {
		if s.pos[j] >= 0 || s.x[j] == 0 {
			continue
		}
		for _, e := range s.cols[j] {
			r[e.row] += e.coef * s.x[j]
		}
	}
	for i := 0; i < s.m; i++ {
		if z := s.nx + i; s.pos[z] < 0 {
			r[i] -= s.x[z]
		}
	}
	for i := 0; i < s.m; i++ {
		s.x[s.head[i]] = -floats.Dot(s.row(i), r)
	}
	s.refreshed = true
}

// residual returns the largest violation of A·x − z = 0 relative to the
// magnitude of the row activity.
func (s *simplex) residual() float64 {
	act := s.work
	for i := range act {
		act[i] = 0
	}
	for j := 0; j < s.nx; j++ {
		for _, e := range s.cols[j] {
			act[e.row] += e.coef * s.x[j]
		}
	}
	var worst float64
	for i, a := range act {
		z := s.x[s.nx+i]
		worst = math.Max(worst, math.Abs(a-z)/(1+math.Abs(z)))
	}
	return worst
}

// refactor rebuilds the basis inverse from scratch. A singular or badly
// conditioned basis is replaced by the logical one.
func (s *simplex) refactor() {
	b := mat.NewDense(s.m, s.m, nil)
	for i, j := range s.head {
		if j >= s.nx {
			b.Set(j-s.nx, i, -1)
			continue
		}
		for _, e := range s.cols[j] {
			b.Set(e.row, i, e.coef)
		}
	}
	err := s.binv.Inverse(b)
	var cond mat.Condition
	if err != nil && (!errors.As(err, &cond) || float64(cond) > 1e12) {
		s.logicalBasis()
		return
	}
	s.refresh()
}

// ptol is the primal feasibility tolerance around bound b.
func (s *simplex) ptol(b float64) float64 { return s.tol * (1 + math.Abs(b)) }

// phaseCosts loads the basic costs of the current phase into cb and returns
// the total bound violation of the basic variables. A positive result means
// phase one costs were loaded.
func (s *simplex) phaseCosts() float64 {
	var sum float64
	for i, j := range s.head {
		v := s.x[j]
		switch {
		case v < s.lo[j]-s.ptol(s.lo[j]):
			s.cb[i] = -1
			sum += s.lo[j] - v
		case v > s.hi[j]+s.ptol(s.hi[j]):
			s.cb[i] = 1
			sum += v - s.hi[j]
		default:
			s.cb[i] = 0
		}
	}
	if sum > 0 {
		return sum
	}
	for i, j := range s.head {
		s.cb[i] = 0
		if j < s.nx {
			s.cb[i] = s.cost[j]
		}
	}
	return 0
}

// duals computes y = B⁻ᵀ·c_B.
func (s *simplex) duals() {
	for k := range s.y {
		s.y[k] = 0
	}
	for i, c := range s.cb {
		if c != 0 {
			floats.AddScaled(s.y, c, s.row(i))
		}
	}
}

func (s *simplex) reducedCost(j int, phase1 bool) float64 {
	if j >= s.nx {
		// The column of a logical is −e_i and its cost is zero.
		return s.y[j-s.nx]
	}
	var d float64
	if !phase1 {
		d = s.cost[j]
	}
	for _, e := range s.cols[j] {
		d -= s.y[e.row] * e.coef
	}
	return d
}

// price picks the entering variable and the direction it moves in. Dantzig's
// rule is used unless bland is set.
func (s *simplex) price(phase1, bland bool) (int, float64) {
	dtol := s.dtol
	if phase1 {
		dtol = s.tol
	}
	q, dir, best := -1, 0.0, 0.0
	for j := 0; j < s.nx+s.m; j++ {
		if s.pos[j] >= 0 || s.lo[j] == s.hi[j] {
			continue
		}
		d := s.reducedCost(j, phase1)
		var move float64
		switch {
		case d < -dtol && s.x[j] < s.hi[j]:
			move = 1
		case d > dtol && s.x[j] > s.lo[j]:
			move = -1
		default:
			continue
		}
		if bland {
			return j, move
		}
		if a := math.Abs(d); a > best {
			q, dir, best = j, move, a
		}
	}
	return q, dir
}

// ftran computes alpha = B⁻¹·a_q.
func (s *simplex) ftran(q int) {
	raw := s.binv.RawMatrix()
	if q >= s.nx {
		k := q - s.nx
		for i := 0; i < s.m; i++ {
			s.alpha[i] = -raw.Data[i*raw.Stride+k]
		}
		return
	}
	col := s.cols[q]
	for i := 0; i < s.m; i++ {
		row := raw.Data[i*raw.Stride:]
		var v float64
		for _, e := range col {
			v += row[e.row] * e.coef
		}
		s.alpha[i] = v
	}
}

// target returns the bound basic variable j runs into when moving with rate
// g, or false when it never blocks. In phase one an infeasible variable
// blocks on the bound it is moving towards.
func (s *simplex) target(j int, g float64, phase1 bool) (float64, bool) {
	v, lo, hi := s.x[j], s.lo[j], s.hi[j]
	if g > 0 {
		switch {
		case phase1 && v < lo-s.ptol(lo):
			return lo, true
		case phase1 && v > hi+s.ptol(hi):
			return 0, false
		case math.IsInf(hi, 1):
			return 0, false
		}
		return hi, true
	}
	switch {
	case phase1 && v > hi+s.ptol(hi):
		return hi, true
	case phase1 && v < lo-s.ptol(lo):
		return 0, false
	case math.IsInf(lo, -1):
		return 0, false
	}
	return lo, true
}

// ratio runs the ratio test for entering q moving in direction dir. It
// returns the leaving row (or -1 for a bound flip or an unbounded ray), the
// step length and the bound the leaving variable ends on. The default test
// is Harris' two-pass rule; bland selects the textbook minimum with ties
// broken on the smallest variable index.
func (s *simplex) ratio(q int, dir float64, phase1, bland bool) (int, float64, float64) {
	span := s.hi[q] - s.lo[q]
	if math.IsInf(s.lo[q], -1) || math.IsInf(s.hi[q], 1) {
		span = math.Inf(1)
	}

	relaxed := math.Inf(1)
	exact := math.Inf(1)
	leave := -1
	var bound float64
	for i, j := range s.head {
		a := s.alpha[i]
		if math.Abs(a) <= pivotTolerance {
			continue
		}
		g := -dir * a
		t, ok := s.target(j, g, phase1)
		if !ok {
			continue
		}
		theta := math.Max(0, (t-s.x[j])/g)
		if bland {
			if theta < exact || (theta == exact && leave >= 0 && j < s.head[leave]) {
				exact, leave, bound = theta, i, t
			}
			continue
		}
		slack := s.ptol(t)
		if g < 0 {
			slack = -slack
		}
		relaxed = math.Min(relaxed, math.Max(0, (t+slack-s.x[j])/g))
	}
	if bland {
		if span <= exact {
			return -1, span, 0
		}
		return leave, exact, bound
	}

	if span <= relaxed {
		return -1, span, 0
	}
	if math.IsInf(relaxed, 1) {
		return -1, relaxed, 0
	}
	best := 0.0
	for i, j := range s.head {
		a := s.alpha[i]
		if math.Abs(a) <= pivotTolerance {
			continue
		}
		g := -dir * a
		t, ok := s.target(j, g, phase1)
		if !ok {
			continue
		}
		theta := math.Max(0, (t-s.x[j])/g)
		if theta <= relaxed && math.Abs(a) > best {
			best, leave, exact, bound = math.Abs(a), i, theta, t
		}
	}
	return leave, exact, bound
}

// move advances the entering variable by step in direction dir and updates
// the basic variables accordingly.
func (s *simplex) move(q int, dir, step float64) {
	if step == 0 {
		return
	}
	s.x[q] += dir * step
	for i, j := range s.head {
		if a := s.alpha[i]; a != 0 {
			s.x[j] -= dir * a * step
		}
	}
	s.refreshed = false
}

// pivot replaces the variable basic in row r by q and updates the inverse.
func (s *simplex) pivot(r, q int, bound float64) {
	out := s.head[r]
	s.x[out] = bound
	s.pos[out] = -1
	s.head[r] = q
	s.pos[q] = r

	pivot := s.alpha[r]
	rowR := s.row(r)
	copy(s.rho, rowR)
	for i := 0; i < s.m; i++ {
		if a := s.alpha[i]; i != r && a != 0 {
			floats.AddScaled(s.row(i), -a/pivot, s.rho)
		}
	}
	floats.Scale(1/pivot, rowR)
}

// solve iterates from the current basis until it is optimal for the current
// bounds. It checks ctx, and the deadline when it is not zero, every few
// iterations.
//
//gocyclo:ignore
func (s *simplex) solve(ctx context.Context, deadline time.Time) (coremilp.Status, error) {
	if s.m == 0 {
		return s.solveUnconstrained(), nil
	}
	limit := 50*(s.nx+s.m) + 1000
	degenerate := 0
	retried := false
	for it := 0; ; it++ {
		if it%stopCheckEvery == 0 {
			if ctx.Err() != nil || (!deadline.IsZero() && !time.Now().Before(deadline)) {
				return coremilp.StatusUnknown, errLPStopped
			}
		}
		if it > limit {
			return coremilp.StatusUnknown, errLPIterations
		}
		if it > 0 && it%checkEvery == 0 {
			s.refresh()
			if s.residual() > residualTolerance {
				s.refactor()
			}
		}

		phase1 := s.phaseCosts() > 0
		s.duals()
		bland := degenerate > blandAfter
		q, dir := s.price(phase1, bland)
		if q < 0 {
			// Confirm on freshly computed basic values before concluding.
			if !s.refreshed {
				s.refresh()
				continue
			}
			if phase1 {
				return coremilp.StatusInfeasible, nil
			}
			return coremilp.StatusOptimal, nil
		}

		s.ftran(q)
		r, step, bound := s.ratio(q, dir, phase1, bland)
		if r < 0 && math.IsInf(step, 1) {
			if !phase1 {
				return coremilp.StatusUnbounded, nil
			}
			if retried {
				return coremilp.StatusUnknown, errLPNumerical
			}
			retried = true
			s.refactor()
			continue
		}
		s.move(q, dir, step)
		if r < 0 {
			// Bound flip: q stays nonbasic on its opposite bound.
			if dir > 0 {
				s.x[q] = s.hi[q]
			} else {
				s.x[q] = s.lo[q]
			}
		} else {
			s.pivot(r, q, bound)
		}
		s.iters++
		if step <= s.tol {
			degenerate++
		} else {
			degenerate = 0
		}
	}
}

// solveUnconstrained places every variable on its cheapest bound.
func (s *simplex) solveUnconstrained() coremilp.Status {
	for j := 0; j < s.nx; j++ {
		switch c := s.cost[j]; {
		case c < 0 && math.IsInf(s.hi[j], 1):
			return coremilp.StatusUnbounded
		case c < 0:
			s.x[j] = s.hi[j]
		default:
			s.x[j] = s.lo[j]
		}
	}
	return coremilp.StatusOptimal
}

// minCosts returns the objective coefficients in minimisation form.
func minCosts(m *coremilp.Model) []float64 {
	c := make([]float64, m.NumVars())
	sign := 1.0
	if m.Direction == coremilp.Maximize {
		sign = -1
	}
	for _, t := range m.Objective() {
		c[t.Var] += sign * t.Coef
	}
	return c
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
