// Package strategy turns an optimized schedule into an auction bid and
// operational KPIs.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/ugs/core/model"
	"github.com/kilianp07/ugs/core/optimizer"
)

// DefaultBidFraction is the share of the intrinsic value offered in the auction.
const DefaultBidFraction = 0.8

// ErrInvalidBidFraction is returned for fractions outside (0,1]. It is always
// joined with optimizer.ErrInvalidParameters.
var ErrInvalidBidFraction = errors.New("bid fraction must be in (0,1]")

// Config defines bidding settings.
type Config struct {
	BidFraction float64 `json:"bid_fraction"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.BidFraction == 0 {
		c.BidFraction = DefaultBidFraction
	}
}

// Validate checks the bid fraction range.
func (c Config) Validate() error {
	return checkFraction(c.BidFraction)
}

func checkFraction(f float64) error {
	if math.IsNaN(f) || f <= 0 || f > 1 {
		return fmt.Errorf("%w: %w: got %v", optimizer.ErrInvalidParameters, ErrInvalidBidFraction, f)
	}
	return nil
}

// Evaluate derives the bid for a facility of size wgv from the economics of
// its optimal schedule.
func Evaluate(econ model.EconomicsSummary, wgv, bidFraction float64) (model.BidRecommendation, error) {
	if err := checkFraction(bidFraction); err != nil {
		return model.BidRecommendation{}, err
	}
	if wgv <= 0 {
		return model.BidRecommendation{}, fmt.Errorf("%w: wgv must be > 0, got %v", optimizer.ErrInvalidParameters, wgv)
	}
	perUnit := econ.IntrinsicValue / wgv
	bidPerUnit := perUnit * bidFraction
	total := bidPerUnit * wgv
	expected := econ.IntrinsicValue - total
	return model.BidRecommendation{
		BidFraction:           bidFraction,
		BidPerUnit:            bidPerUnit,
		TotalBid:              total,
		ExpectedProfit:        expected,
		ExpectedProfitPerUnit: expected / wgv,
	}, nil
}

// ComputeKPIs aggregates operational indicators over plan. A day counts as
// an injection (withdrawal) day when its volume is positive.
func ComputeKPIs(plan model.Plan, p model.FacilityParameters) model.KPIs {
	var k model.KPIs
	if len(plan) == 0 {
		k.FinalStorage = p.InitialLevel
		return k
	}
	for _, d := range plan {
		if d.Injection > 0 {
			k.InjectionDays++
		}
		if d.Withdrawal > 0 {
			k.WithdrawalDays++
		}
		if d.Injection == 0 && d.Withdrawal == 0 {
			k.HoldDays++
		}
		if d.Storage > k.MaxStorage {
			k.MaxStorage = d.Storage
		}
	}
	if p.WGV > 0 {
		k.Utilization = k.MaxStorage / p.WGV
	}
	k.FinalStorage = plan[len(plan)-1].Storage
	k.TerminalDeviation = k.FinalStorage - p.InitialLevel
	return k
}
