package milp

import "context"

// Status is the termination state reported by a solver.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusInfeasible
	StatusUnbounded
	// StatusLimitReached means a node, time or cancellation limit stopped the
	// search before optimality was proven.
	StatusLimitReached
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusLimitReached:
		return "limit_reached"
	default:
		return "unknown"
	}
}

// Solution is the outcome of a solve.
type Solution struct {
	Status Status
	// Objective is the objective value of Values in the model's direction.
	Objective float64
	// Values holds one entry per model variable. It is nil when no
	// integer-feasible point was found.
	Values []float64
	// BestBound is the best proven bound on the objective.
	BestBound float64
	// Nodes is the number of LP relaxations solved.
	Nodes int
}

// HasIncumbent reports whether the solution carries variable values.
func (s Solution) HasIncumbent() bool { return s.Values != nil }

// Value returns the solved value of v.
func (s Solution) Value(v Var) float64 { return s.Values[v] }

// Solver solves a Model. Implementations must honour ctx cancellation by
// returning StatusLimitReached with the best incumbent found so far.
type Solver interface {
	Solve(ctx context.Context, m *Model) (Solution, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, m *Model) (Solution, error)

// Solve calls f.
func (f SolverFunc) Solve(ctx context.Context, m *Model) (Solution, error) { return f(ctx, m) }
