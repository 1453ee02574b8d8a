package optimizer

import "fmt"

// Config defines modelling options.
type Config struct {
	// Horizon is the expected number of days in the price series. Zero
	// accepts any non-empty series.
	Horizon int `json:"horizon"`
	// BigMFactor scales the WGV into the Big-M constant of the injection
	// regime rows.
	BigMFactor float64 `json:"big_m_factor"`
	// ThresholdEpsilon, as a fraction of the WGV, is the margin below the
	// injection threshold required to select the first-half rate.
	ThresholdEpsilon float64 `json:"threshold_epsilon"`
	// ZeroTolerance, as a fraction of the WGV, is the volume under which
	// solved flows are reported as zero.
	ZeroTolerance float64 `json:"zero_tolerance"`
	// AcceptSuboptimal returns the incumbent as a result when the solver
	// stops on a limit instead of failing with ErrNoOptimalSolution.
	AcceptSuboptimal bool `json:"accept_suboptimal"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.BigMFactor == 0 {
		c.BigMFactor = 2
	}
	if c.ThresholdEpsilon == 0 {
		c.ThresholdEpsilon = 1e-6
	}
	if c.ZeroTolerance == 0 {
		c.ZeroTolerance = 1e-7
	}
}

// Validate checks the modelling options.
func (c Config) Validate() error {
	if c.Horizon < 0 {
		return fmt.Errorf("horizon must be >= 0")
	}
	// The regime rows need M >= WGV to leave every storage level reachable.
	if c.BigMFactor < 1 {
		return fmt.Errorf("big_m_factor must be >= 1")
	}
	if c.ThresholdEpsilon < 0 || c.ThresholdEpsilon >= 1 {
		return fmt.Errorf("threshold_epsilon must be in [0,1)")
	}
	if c.ZeroTolerance < 0 {
		return fmt.Errorf("zero_tolerance must be >= 0")
	}
	return nil
}

// CheckIntegralityTolerance rejects a threshold margin that a solver
// accepting binaries within tol of 0 or 1 could erase: such a binary relaxes
// the regime rows by up to tol·M, which must stay well below ε.
func (c Config) CheckIntegralityTolerance(tol float64) error {
	if tol <= 0 {
		return nil
	}
	if need := 2 * c.BigMFactor * tol; c.ThresholdEpsilon < need {
		return fmt.Errorf("threshold_epsilon %g is below 2·big_m_factor·integrality_tolerance = %g", c.ThresholdEpsilon, need)
	}
	return nil
}
