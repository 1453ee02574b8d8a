package model

import (
	"errors"
	"fmt"
	"math"
)

// FacilityParameters describes the physical and economic envelope of a storage
// facility. Volumes are in MWh, rates in MWh/day.
type FacilityParameters struct {
	// WGV is the working gas volume.
	WGV float64 `json:"wgv"`
	// MaxInjectionRate is the nominal daily injection capacity.
	MaxInjectionRate float64 `json:"max_injection_rate"`
	// InjectionThreshold is the fill fraction at which the injection curve
	// switches from InjectionFirstHalf to InjectionSecondHalf.
	InjectionThreshold  float64 `json:"injection_threshold"`
	InjectionFirstHalf  float64 `json:"injection_first_half"`
	InjectionSecondHalf float64 `json:"injection_second_half"`
	// MaxWithdrawalRate is the nominal daily withdrawal capacity.
	MaxWithdrawalRate float64 `json:"max_withdrawal_rate"`
	// WithdrawalMinFactor applies to an empty facility and WithdrawalMaxFactor
	// to a full one. The curve is linear in between.
	WithdrawalMinFactor float64 `json:"withdrawal_min_factor"`
	WithdrawalMaxFactor float64 `json:"withdrawal_max_factor"`
	// VariableCostRate is charged on the notional of every injected MWh.
	VariableCostRate float64 `json:"variable_cost_rate"`
	// InitialLevel is the storage level before the first day.
	InitialLevel float64 `json:"initial_level"`
	// TerminalLevel, when set, forces the storage level after the last day.
	TerminalLevel *float64 `json:"terminal_level,omitempty"`
}

// DefaultFacility returns the parameters of the reference auction facility.
func DefaultFacility() FacilityParameters {
	return FacilityParameters{
		WGV:                 1_000_000,
		MaxInjectionRate:    20_000,
		InjectionThreshold:  0.5,
		InjectionFirstHalf:  1.0,
		InjectionSecondHalf: 0.7,
		MaxWithdrawalRate:   30_000,
		WithdrawalMinFactor: 0.4,
		WithdrawalMaxFactor: 1.0,
		VariableCostRate:    0.012,
	}
}

// ErrInvalidFacility is wrapped by every error returned from Validate.
var ErrInvalidFacility = errors.New("invalid facility parameters")

// Validate checks structural and range constraints.
func (p FacilityParameters) Validate() error {
	finite := map[string]float64{
		"wgv":                   p.WGV,
		"max_injection_rate":    p.MaxInjectionRate,
		"injection_threshold":   p.InjectionThreshold,
		"injection_first_half":  p.InjectionFirstHalf,
		"injection_second_half": p.InjectionSecondHalf,
		"max_withdrawal_rate":   p.MaxWithdrawalRate,
		"withdrawal_min_factor": p.WithdrawalMinFactor,
		"withdrawal_max_factor": p.WithdrawalMaxFactor,
		"variable_cost_rate":    p.VariableCostRate,
		"initial_level":         p.InitialLevel,
	}
	for name, v := range finite {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidFacility, name)
		}
	}
	switch {
	case p.WGV <= 0:
		return fmt.Errorf("%w: wgv must be > 0, got %v", ErrInvalidFacility, p.WGV)
	case p.MaxInjectionRate <= 0:
		return fmt.Errorf("%w: max_injection_rate must be > 0", ErrInvalidFacility)
	case p.MaxWithdrawalRate <= 0:
		return fmt.Errorf("%w: max_withdrawal_rate must be > 0", ErrInvalidFacility)
	case p.InjectionThreshold <= 0 || p.InjectionThreshold >= 1:
		return fmt.Errorf("%w: injection_threshold must be in (0,1)", ErrInvalidFacility)
	case p.InjectionFirstHalf <= 0 || p.InjectionFirstHalf > 1:
		return fmt.Errorf("%w: injection_first_half must be in (0,1]", ErrInvalidFacility)
	case p.InjectionSecondHalf <= 0 || p.InjectionSecondHalf > 1:
		return fmt.Errorf("%w: injection_second_half must be in (0,1]", ErrInvalidFacility)
	case p.InjectionSecondHalf > p.InjectionFirstHalf:
		return fmt.Errorf("%w: injection_second_half must not exceed injection_first_half", ErrInvalidFacility)
	case p.WithdrawalMinFactor < 0 || p.WithdrawalMinFactor > 1:
		return fmt.Errorf("%w: withdrawal_min_factor must be in [0,1]", ErrInvalidFacility)
	case p.WithdrawalMaxFactor < p.WithdrawalMinFactor || p.WithdrawalMaxFactor > 1:
		return fmt.Errorf("%w: withdrawal_max_factor must be in [withdrawal_min_factor,1]", ErrInvalidFacility)
	case p.VariableCostRate < 0:
		return fmt.Errorf("%w: variable_cost_rate must be >= 0", ErrInvalidFacility)
	case p.InitialLevel < 0 || p.InitialLevel > p.WGV:
		return fmt.Errorf("%w: initial_level must be in [0,wgv]", ErrInvalidFacility)
	}
	if p.TerminalLevel != nil {
		t := *p.TerminalLevel
		if math.IsNaN(t) || t < 0 || t > p.WGV {
			return fmt.Errorf("%w: terminal_level must be in [0,wgv]", ErrInvalidFacility)
		}
	}
	return nil
}

// InjectionCapacity returns the daily injection capacity for a given prior
// storage level.
func (p FacilityParameters) InjectionCapacity(prevStorage float64) float64 {
	if prevStorage < p.InjectionThreshold*p.WGV {
		return p.MaxInjectionRate * p.InjectionFirstHalf
	}
	return p.MaxInjectionRate * p.InjectionSecondHalf
}

// WithdrawalCapacity returns the daily withdrawal capacity for a given prior
// storage level.
func (p FacilityParameters) WithdrawalCapacity(prevStorage float64) float64 {
	fill := prevStorage / p.WGV
	return p.MaxWithdrawalRate * (p.WithdrawalMinFactor + (p.WithdrawalMaxFactor-p.WithdrawalMinFactor)*fill)
}
