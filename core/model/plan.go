package model

import "time"

// DayPlan is the operation scheduled for one day.
type DayPlan struct {
	Day        int       `json:"day"`
	Date       time.Time `json:"date,omitempty"`
	Price      float64   `json:"price"`
	Injection  float64   `json:"injection"`
	Withdrawal float64   `json:"withdrawal"`
	// Storage is the level at the end of the day.
	Storage float64 `json:"storage"`
}

// Plan is a solved schedule. It is produced once per optimization run and
// must not be modified afterwards.
type Plan []DayPlan

// EconomicsSummary aggregates the cash flows of a plan.
type EconomicsSummary struct {
	// IntrinsicValue is revenue minus injection cost.
	IntrinsicValue float64 `json:"intrinsic_value"`
	// IntrinsicValuePerUnit is IntrinsicValue divided by the WGV.
	IntrinsicValuePerUnit float64 `json:"intrinsic_value_per_unit"`
	Revenue               float64 `json:"revenue"`
	// Cost includes the variable cost component.
	Cost           float64 `json:"cost"`
	VariableCost   float64 `json:"variable_cost"`
	TotalInjected  float64 `json:"total_injected"`
	TotalWithdrawn float64 `json:"total_withdrawn"`
}

// KPIs are operational indicators derived from a plan.
type KPIs struct {
	InjectionDays  int     `json:"injection_days"`
	WithdrawalDays int     `json:"withdrawal_days"`
	HoldDays       int     `json:"hold_days"`
	MaxStorage     float64 `json:"max_storage"`
	// Utilization is MaxStorage as a fraction of the WGV.
	Utilization  float64 `json:"utilization"`
	FinalStorage float64 `json:"final_storage"`
	// TerminalDeviation is the final level minus the initial level.
	TerminalDeviation float64 `json:"terminal_deviation"`
}

// BidRecommendation is the auction bid derived from the intrinsic value.
type BidRecommendation struct {
	BidFraction           float64 `json:"bid_fraction"`
	BidPerUnit            float64 `json:"bid_per_unit"`
	TotalBid              float64 `json:"total_bid"`
	ExpectedProfit        float64 `json:"expected_profit"`
	ExpectedProfitPerUnit float64 `json:"expected_profit_per_unit"`
}

// SolveSummary describes how the solver terminated.
type SolveSummary struct {
	Status string `json:"status"`
	// Objective and BestBound are in currency units.
	Objective  float64 `json:"objective"`
	BestBound  float64 `json:"best_bound"`
	Nodes      int     `json:"nodes"`
	DurationMS int64   `json:"duration_ms"`
}

// Report bundles everything a run hands to reporting collaborators.
type Report struct {
	RunID     string             `json:"run_id"`
	CreatedAt time.Time          `json:"created_at"`
	Optimal   bool               `json:"optimal"`
	Facility  FacilityParameters `json:"facility"`
	Plan      Plan               `json:"plan"`
	Economics EconomicsSummary   `json:"economics"`
	KPIs      KPIs               `json:"kpis"`
	Bid       BidRecommendation  `json:"bid"`
	Solve     SolveSummary       `json:"solve"`
}
