// Package milp solves mixed-integer linear programs with a best-first
// branch-and-bound search over a warm-started bounded simplex.
package milp

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	coremilp "github.com/kilianp07/ugs/core/milp"
	"github.com/kilianp07/ugs/infra/logger"
)

// DefaultTimeLimitSeconds bounds a search when the configuration leaves
// the limit at zero.
const DefaultTimeLimitSeconds = 300

// heuristicEvery is the number of nodes between two rounding attempts.
const heuristicEvery = 50

// Config tunes the search.
type Config struct {
	// Tolerance is the primal and dual feasibility tolerance of the simplex.
	Tolerance float64 `json:"tolerance"`
	// IntegralityTolerance is the distance from 0/1 under which a binary is
	// considered integral. Integral nodes are re-solved with their binaries
	// fixed before the point is accepted.
	IntegralityTolerance float64 `json:"integrality_tolerance"`
	// RelativeGap prunes nodes whose bound cannot improve the incumbent by
	// more than this fraction.
	RelativeGap float64 `json:"relative_gap"`
	// MaxNodes caps the number of relaxations solved. Zero means no cap.
	MaxNodes int `json:"max_nodes"`
	// TimeLimitSeconds stops the search once exceeded. Zero selects
	// DefaultTimeLimitSeconds and a negative value disables the limit.
	TimeLimitSeconds float64 `json:"time_limit_seconds"`
}

// TimeLimit returns the configured limit as a duration, zero when disabled.
func (c Config) TimeLimit() time.Duration {
	if c.TimeLimitSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeLimitSeconds * float64(time.Second))
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Tolerance <= 0 {
		c.Tolerance = 1e-9
	}
	if c.IntegralityTolerance <= 0 {
		c.IntegralityTolerance = 1e-7
	}
	if c.RelativeGap <= 0 {
		c.RelativeGap = 1e-9
	}
	if c.TimeLimitSeconds == 0 {
		c.TimeLimitSeconds = DefaultTimeLimitSeconds
	}
}

// Validate checks the search limits.
func (c Config) Validate() error {
	if c.MaxNodes < 0 {
		return fmt.Errorf("max_nodes must be >= 0, got %d", c.MaxNodes)
	}
	if math.IsNaN(c.TimeLimitSeconds) {
		return errors.New("time_limit_seconds must be a number")
	}
	if c.RelativeGap < 0 || c.RelativeGap >= 1 {
		return fmt.Errorf("relative_gap must be in [0,1), got %v", c.RelativeGap)
	}
	if c.IntegralityTolerance < 0 || c.IntegralityTolerance >= 0.5 {
		return fmt.Errorf("integrality_tolerance must be in [0,0.5), got %v", c.IntegralityTolerance)
	}
	return nil
}

// BranchAndBound implements coremilp.Solver.
type BranchAndBound struct {
	cfg Config
	log logger.Logger
	now func() time.Time
}

// New returns a solver using cfg. A nil logger disables logging.
func New(cfg Config, log logger.Logger) *BranchAndBound {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &BranchAndBound{cfg: cfg, log: log, now: time.Now}
}

// IntegralityTolerance reports the distance from 0/1 accepted for binaries.
func (s *BranchAndBound) IntegralityTolerance() float64 { return s.cfg.IntegralityTolerance }

// fix pins binary j to v below a node.
type fix struct {
	j int
	v float64
}

type node struct {
	fixes []fix
	// bound is the relaxation objective of the parent, a lower bound on
	// anything reachable from this node.
	bound float64
	depth int
}

func (n node) child(j int, v, bound float64) node {
	fixes := make([]fix, len(n.fixes), len(n.fixes)+1)
	copy(fixes, n.fixes)
	return node{fixes: append(fixes, fix{j: j, v: v}), bound: bound, depth: n.depth + 1}
}

// openNodes orders pending nodes by bound, deepest first on ties.
type openNodes []node

func (h openNodes) Len() int { return len(h) }
func (h openNodes) Less(i, j int) bool {
	if h[i].bound != h[j].bound {
		return h[i].bound < h[j].bound
	}
	return h[i].depth > h[j].depth
}
func (h openNodes) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *openNodes) Push(x any)   { *h = append(*h, x.(node)) }
func (h *openNodes) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// search holds the state of one Solve call. Objectives are in minimisation
// form throughout.
type search struct {
	*BranchAndBound
	ctx      context.Context
	deadline time.Time
	start    time.Time
	m        *coremilp.Model
	lp       *simplex
	cost     []float64
	lower    []float64
	upper    []float64
	binaries []int

	incumbent    []float64
	incumbentObj float64
	nodes        int
	open         openNodes
}

// Solve runs branch-and-bound on m. Nodes are taken best bound first; after
// branching the search plunges into the child the relaxation leans to. The
// context and the time limit are checked inside every relaxation.
//
//gocyclo:ignore
func (s *BranchAndBound) Solve(ctx context.Context, m *coremilp.Model) (coremilp.Solution, error) {
	if err := m.Validate(); err != nil {
		return coremilp.Solution{}, err
	}
	sr := s.newSearch(ctx, m)
	sr.tryStart()

	var (
		limitHit bool
		pending  *node
		next     = &node{bound: math.Inf(-1)}
	)
	for {
		if next == nil {
			for sr.open.Len() > 0 {
				nd := heap.Pop(&sr.open).(node)
				if nd.bound < sr.pruneAt() {
					next = &nd
					break
				}
			}
			if next == nil {
				break
			}
		}
		if sr.limitReached() {
			limitHit, pending = true, next
			break
		}
		nd := *next
		next = nil
		if nd.bound >= sr.pruneAt() {
			continue
		}

		status, x, obj, err := sr.relax(nd)
		if errors.Is(err, errLPStopped) || errors.Is(err, errLPIterations) {
			limitHit, pending = true, &nd
			break
		}
		if err != nil {
			return coremilp.Solution{Nodes: sr.nodes}, err
		}
		switch status {
		case coremilp.StatusInfeasible:
			continue
		case coremilp.StatusUnbounded:
			if sr.nodes == 1 {
				return coremilp.Solution{Status: coremilp.StatusUnbounded, Nodes: sr.nodes}, nil
			}
			continue
		}
		if obj >= sr.pruneAt() {
			continue
		}

		branch := sr.mostFractional(x)
		if branch < 0 {
			branch, err = sr.acceptIntegral(nd, x, obj)
			if errors.Is(err, errLPStopped) || errors.Is(err, errLPIterations) {
				nd.bound = obj
				limitHit, pending = true, &nd
				break
			}
			if err != nil {
				return coremilp.Solution{Nodes: sr.nodes}, err
			}
			if branch < 0 {
				continue
			}
		} else if sr.nodes == 1 || sr.nodes%heuristicEvery == 0 {
			if err := sr.round(x); errors.Is(err, errLPStopped) || errors.Is(err, errLPIterations) {
				nd.bound = obj
				limitHit, pending = true, &nd
				break
			} else if err != nil {
				return coremilp.Solution{Nodes: sr.nodes}, err
			}
			if obj >= sr.pruneAt() {
				continue
			}
		}

		down := nd.child(branch, 0, obj)
		up := nd.child(branch, 1, obj)
		if x[branch] >= 0.5 {
			next = &up
			heap.Push(&sr.open, down)
		} else {
			next = &down
			heap.Push(&sr.open, up)
		}
	}
	return sr.finish(limitHit, pending), nil
}

func (s *BranchAndBound) newSearch(ctx context.Context, m *coremilp.Model) *search {
	sr := &search{
		BranchAndBound: s,
		ctx:            ctx,
		start:          s.now(),
		m:              m,
		cost:           minCosts(m),
		incumbentObj:   math.Inf(1),
	}
	if lim := s.cfg.TimeLimit(); lim > 0 {
		sr.deadline = sr.start.Add(lim)
	}
	vars := m.Variables()
	sr.lower = make([]float64, len(vars))
	sr.upper = make([]float64, len(vars))
	for j, v := range vars {
		sr.lower[j], sr.upper[j] = v.Lower, v.Upper
		if v.Kind == coremilp.Binary {
			sr.binaries = append(sr.binaries, j)
			sr.lower[j] = math.Max(0, math.Ceil(v.Lower-s.cfg.IntegralityTolerance))
			sr.upper[j] = math.Min(1, math.Floor(v.Upper+s.cfg.IntegralityTolerance))
		}
	}
	sr.lp = newSimplex(m, sr.cost, s.cfg.Tolerance)
	return sr
}

// checkTolerance is the row tolerance used to accept a point as feasible.
func (sr *search) checkTolerance() float64 { return 100 * sr.cfg.Tolerance }

func (sr *search) pruneAt() float64 {
	if sr.incumbent == nil {
		return math.Inf(1)
	}
	return sr.incumbentObj - sr.cfg.RelativeGap*math.Max(1, math.Abs(sr.incumbentObj))
}

func (sr *search) limitReached() bool {
	if sr.ctx.Err() != nil {
		return true
	}
	if sr.cfg.MaxNodes > 0 && sr.nodes >= sr.cfg.MaxNodes {
		return true
	}
	return !sr.deadline.IsZero() && !sr.now().Before(sr.deadline)
}

// solveWith solves the relaxation under the given bounds, warm starting
// from the basis left by the previous solve.
func (sr *search) solveWith(lower, upper []float64) (coremilp.Status, []float64, float64, error) {
	for j := range lower {
		if upper[j] < lower[j] {
			return coremilp.StatusInfeasible, nil, 0, nil
		}
	}
	sr.lp.setBounds(lower, upper)
	status, err := sr.lp.solve(sr.ctx, sr.deadline)
	if err != nil {
		return status, nil, 0, err
	}
	if status != coremilp.StatusOptimal {
		return status, nil, 0, nil
	}
	return status, sr.lp.values(), sr.lp.objective(), nil
}

// relax solves the relaxation of nd and counts it as a node.
func (sr *search) relax(nd node) (coremilp.Status, []float64, float64, error) {
	lower := append([]float64(nil), sr.lower...)
	upper := append([]float64(nil), sr.upper...)
	for _, f := range nd.fixes {
		lower[f.j], upper[f.j] = f.v, f.v
	}
	sr.nodes++
	return sr.solveWith(lower, upper)
}

func (sr *search) mostFractional(x []float64) int {
	branch, frac := -1, 0.0
	for _, j := range sr.binaries {
		d := math.Abs(x[j] - math.Round(x[j]))
		if d > sr.cfg.IntegralityTolerance && d > frac {
			branch, frac = j, d
		}
	}
	return branch
}

// fixBinaries solves the LP with every binary pinned to the rounding of x
// and offers the result as an incumbent. It returns the objective of the
// fixed LP, +Inf when that LP has no feasible point.
func (sr *search) fixBinaries(x []float64, source string) (float64, error) {
	lower := append([]float64(nil), sr.lower...)
	upper := append([]float64(nil), sr.upper...)
	for _, j := range sr.binaries {
		v := math.Round(x[j])
		v = math.Min(math.Max(v, sr.lower[j]), sr.upper[j])
		lower[j], upper[j] = v, v
	}
	status, y, obj, err := sr.solveWith(lower, upper)
	if err != nil || status != coremilp.StatusOptimal {
		return math.Inf(1), err
	}
	if !sr.offer(y, source) {
		return math.Inf(1), nil
	}
	return obj, nil
}

// acceptIntegral handles a relaxation of objective obj whose binaries are
// all within the integrality tolerance. The node is closed only when the LP
// with the binaries fixed confirms the point at the same objective.
// Otherwise the binary furthest from its rounding is returned for
// branching, or -1 when every binary is exactly integral.
func (sr *search) acceptIntegral(nd node, x []float64, obj float64) (int, error) {
	fixed, err := sr.fixBinaries(x, "integral node")
	if err != nil {
		return -1, err
	}
	if fixed-obj <= math.Max(sr.cfg.RelativeGap, 1e-9)*math.Max(1, math.Abs(obj)) {
		return -1, nil
	}
	branch, frac := -1, 0.0
	for _, j := range sr.binaries {
		if d := math.Abs(x[j] - math.Round(x[j])); d > frac {
			branch, frac = j, d
		}
	}
	if branch >= 0 {
		sr.log.Debugw("milp integral node rejected", map[string]any{
			"model": sr.m.Name,
			"depth": nd.depth,
			"var":   sr.m.Variables()[branch].Name,
			"value": x[branch],
			"fixed": sr.external(fixed),
		})
	}
	return branch, nil
}

// round is the rounding heuristic run at the root and periodically.
func (sr *search) round(x []float64) error {
	_, err := sr.fixBinaries(x, "rounding")
	return err
}

// tryStart installs the model's start point when it is feasible.
func (sr *search) tryStart() {
	start := sr.m.Start()
	if start == nil {
		return
	}
	x := append([]float64(nil), start...)
	for _, j := range sr.binaries {
		x[j] = math.Round(x[j])
	}
	if !sr.offer(x, "start") {
		sr.log.Debugf("milp %s: start point rejected", sr.m.Name)
	}
}

// offer keeps x when it is feasible and better than the incumbent.
func (sr *search) offer(x []float64, source string) bool {
	for _, j := range sr.binaries {
		x[j] = math.Round(x[j])
	}
	if !sr.m.Feasible(x, sr.checkTolerance()) {
		return false
	}
	obj := dot(sr.cost, x)
	if obj >= sr.incumbentObj {
		return true
	}
	sr.incumbent, sr.incumbentObj = x, obj
	sr.log.Debugw("milp incumbent", map[string]any{
		"model":     sr.m.Name,
		"source":    source,
		"objective": sr.external(obj),
		"nodes":     sr.nodes,
	})
	return true
}

func (sr *search) finish(limitHit bool, pending *node) coremilp.Solution {
	sol := coremilp.Solution{Nodes: sr.nodes}
	if sr.incumbent != nil {
		sol.Values = sr.incumbent
		sol.Objective = sr.external(sr.incumbentObj)
	}
	elapsed := sr.now().Sub(sr.start)
	if !limitHit {
		if sr.incumbent == nil {
			sol.Status = coremilp.StatusInfeasible
			return sol
		}
		sol.Status = coremilp.StatusOptimal
		sol.BestBound = sol.Objective
		sr.log.Debugf("milp %s solved to optimality in %d nodes, %d simplex iterations (%s)",
			sr.m.Name, sr.nodes, sr.lp.iters, elapsed)
		return sol
	}

	bound := sr.incumbentObj
	if pending != nil {
		bound = math.Min(bound, pending.bound)
	}
	for _, nd := range sr.open {
		bound = math.Min(bound, nd.bound)
	}
	sol.Status = coremilp.StatusLimitReached
	sol.BestBound = sr.external(bound)
	sr.log.Warnf("milp %s stopped after %d nodes with %d open in %s (incumbent=%v)",
		sr.m.Name, sr.nodes, sr.open.Len(), elapsed, sr.incumbent != nil)
	return sol
}

// external converts a minimisation objective back to the model direction.
func (sr *search) external(v float64) float64 {
	if sr.m.Direction == coremilp.Maximize {
		return -v
	}
	return v
}
