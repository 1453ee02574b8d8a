// Package milp describes mixed-integer linear programs independently of the
// backend used to solve them.
package milp

import (
	"errors"
	"fmt"
	"math"
)

// Kind distinguishes continuous and binary variables.
type Kind int

const (
	Continuous Kind = iota
	Binary
)

// Sense is the relation of a constraint row to its right-hand side.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case GE:
		return ">="
	case EQ:
		return "="
	default:
		return "?"
	}
}

// Direction is the optimization direction of the objective.
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

// Var identifies a variable inside the Model that created it.
type Var int

// Variable holds the declaration of a decision variable.
type Variable struct {
	Name  string
	Lower float64
	Upper float64
	Kind  Kind
}

// Term is a coefficient applied to a variable.
type Term struct {
	Var  Var
	Coef float64
}

// Expr is a linear expression without constant part.
type Expr []Term

// Add appends coef*v to the expression.
func (e Expr) Add(v Var, coef float64) Expr {
	return append(e, Term{Var: v, Coef: coef})
}

// Constraint is a named linear row.
type Constraint struct {
	Name  string
	Expr  Expr
	Sense Sense
	RHS   float64
}

// ErrModel reports a structurally broken model.
var ErrModel = errors.New("milp: invalid model")

// Model is a MILP under construction. It is not safe for concurrent use and
// must not be modified while a solver works on it.
type Model struct {
	Name        string
	Direction   Direction
	vars        []Variable
	constraints []Constraint
	objective   Expr
	start       []float64
}

// NewModel returns an empty model.
func NewModel(name string, dir Direction) *Model {
	return &Model{Name: name, Direction: dir}
}

// AddContinuous declares a continuous variable bounded by [lower, upper].
// Use math.Inf(1) for an unbounded upper side.
func (m *Model) AddContinuous(name string, lower, upper float64) Var {
	m.vars = append(m.vars, Variable{Name: name, Lower: lower, Upper: upper, Kind: Continuous})
	return Var(len(m.vars) - 1)
}

// AddBinary declares a 0/1 variable.
func (m *Model) AddBinary(name string) Var {
	m.vars = append(m.vars, Variable{Name: name, Lower: 0, Upper: 1, Kind: Binary})
	return Var(len(m.vars) - 1)
}

// AddConstraint appends expr (sense) rhs.
func (m *Model) AddConstraint(name string, expr Expr, sense Sense, rhs float64) {
	m.constraints = append(m.constraints, Constraint{Name: name, Expr: expr, Sense: sense, RHS: rhs})
}

// SetObjective replaces the objective expression.
func (m *Model) SetObjective(expr Expr) { m.objective = expr }

// SetStart records a known point, one value per variable, that solvers may
// use as their first incumbent once they have checked it is feasible. A nil
// slice clears it.
func (m *Model) SetStart(x []float64) { m.start = append([]float64(nil), x...) }

// Start returns the point recorded by SetStart, or nil.
func (m *Model) Start() []float64 {
	if len(m.start) == 0 {
		return nil
	}
	return m.start
}

// Objective returns the objective expression.
func (m *Model) Objective() Expr { return m.objective }

// Variables returns the declared variables. The slice must not be modified.
func (m *Model) Variables() []Variable { return m.vars }

// Constraints returns the declared rows. The slice must not be modified.
func (m *Model) Constraints() []Constraint { return m.constraints }

// NumVars returns the number of declared variables.
func (m *Model) NumVars() int { return len(m.vars) }

// NumBinaries counts binary variables.
func (m *Model) NumBinaries() int {
	n := 0
	for _, v := range m.vars {
		if v.Kind == Binary {
			n++
		}
	}
	return n
}

// Validate checks that every term references a declared variable and that
// bounds and coefficients are usable.
func (m *Model) Validate() error {
	if len(m.vars) == 0 {
		return fmt.Errorf("%w: no variables", ErrModel)
	}
	for i, v := range m.vars {
		if math.IsNaN(v.Lower) || math.IsNaN(v.Upper) || math.IsInf(v.Lower, 0) {
			return fmt.Errorf("%w: variable %s has unusable bounds", ErrModel, v.Name)
		}
		if v.Lower > v.Upper {
			return fmt.Errorf("%w: variable %d (%s) has lower > upper", ErrModel, i, v.Name)
		}
	}
	check := func(where string, e Expr) error {
		for _, t := range e {
			if int(t.Var) < 0 || int(t.Var) >= len(m.vars) {
				return fmt.Errorf("%w: %s references unknown variable %d", ErrModel, where, t.Var)
			}
			if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
				return fmt.Errorf("%w: %s has a non-finite coefficient", ErrModel, where)
			}
		}
		return nil
	}
	if m.start != nil && len(m.start) != len(m.vars) {
		return fmt.Errorf("%w: start has %d values for %d variables", ErrModel, len(m.start), len(m.vars))
	}
	if err := check("objective", m.objective); err != nil {
		return err
	}
	for _, c := range m.constraints {
		if err := check(c.Name, c.Expr); err != nil {
			return err
		}
		if math.IsNaN(c.RHS) || math.IsInf(c.RHS, 0) {
			return fmt.Errorf("%w: %s has a non-finite right-hand side", ErrModel, c.Name)
		}
	}
	return nil
}

// Eval returns the value of e at x.
func (e Expr) Eval(x []float64) float64 {
	var s float64
	for _, t := range e {
		s += t.Coef * x[t.Var]
	}
	return s
}

// Feasible reports whether x satisfies bounds, rows and integrality within tol.
func (m *Model) Feasible(x []float64, tol float64) bool {
	if len(x) != len(m.vars) {
		return false
	}
	for i, v := range m.vars {
		if x[i] < v.Lower-tol || x[i] > v.Upper+tol {
			return false
		}
		if v.Kind == Binary && math.Abs(x[i]-math.Round(x[i])) > tol {
			return false
		}
	}
	for _, c := range m.constraints {
		lhs := c.Expr.Eval(x)
		scale := tol * math.Max(1, math.Abs(c.RHS))
		switch c.Sense {
		case LE:
			if lhs > c.RHS+scale {
				return false
			}
		case GE:
			if lhs < c.RHS-scale {
				return false
			}
		case EQ:
			if math.Abs(lhs-c.RHS) > scale {
				return false
			}
		}
	}
	return true
}
