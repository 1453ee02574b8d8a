package optimizer

import (
	"errors"
	"fmt"

	"github.com/kilianp07/ugs/core/milp"
)

var (
	// ErrInvalidParameters is returned before any model is built when the
	// inputs violate structural or range constraints.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrInfeasibleModel is returned when the solver proves that no schedule
	// satisfies the constraints.
	ErrInfeasibleModel = errors.New("infeasible model")
	// ErrNoOptimalSolution is returned when the solver stops without proving
	// optimality.
	ErrNoOptimalSolution = errors.New("no optimal solution")
)

// NoOptimalError carries the best schedule found before the solver stopped.
// Incumbent is nil when no feasible schedule was found at all.
type NoOptimalError struct {
	Status    milp.Status
	Incumbent *Result
}

func (e *NoOptimalError) Error() string {
	if e.Incumbent == nil {
		return fmt.Sprintf("%s: solver status %s, no incumbent", ErrNoOptimalSolution, e.Status)
	}
	return fmt.Sprintf("%s: solver status %s, incumbent value %.2f (bound %.2f)",
		ErrNoOptimalSolution, e.Status, e.Incumbent.Objective, e.Incumbent.BestBound)
}

func (e *NoOptimalError) Unwrap() error { return ErrNoOptimalSolution }
