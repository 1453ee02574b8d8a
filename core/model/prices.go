package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DayPrice is the forward price for one delivery day.
type DayPrice struct {
	Day   int       `json:"day"`
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// PriceSeries is an ordered daily forward curve.
type PriceSeries []DayPrice

// ErrInvalidSeries is wrapped by PriceSeries validation errors.
var ErrInvalidSeries = errors.New("invalid price series")

// NewPriceSeries builds a series from raw prices, indexing days from 0.
// Dates are left zero.
func NewPriceSeries(prices []float64) PriceSeries {
	s := make(PriceSeries, len(prices))
	for i, p := range prices {
		s[i] = DayPrice{Day: i, Price: p}
	}
	return s
}

// Prices returns the price values in day order.
func (s PriceSeries) Prices() []float64 {
	out := make([]float64, len(s))
	for i, d := range s {
		out[i] = d.Price
	}
	return out
}

// Validate checks that the series covers exactly horizon days with
// contiguous indices. A horizon of 0 accepts any non-empty length.
func (s PriceSeries) Validate(horizon int) error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidSeries)
	}
	if horizon > 0 && len(s) != horizon {
		return fmt.Errorf("%w: expected %d days, got %d", ErrInvalidSeries, horizon, len(s))
	}
	for i, d := range s {
		if d.Day != i {
			return fmt.Errorf("%w: day index %d at position %d", ErrInvalidSeries, d.Day, i)
		}
		if math.IsNaN(d.Price) || math.IsInf(d.Price, 0) {
			return fmt.Errorf("%w: price on day %d is not finite", ErrInvalidSeries, i)
		}
		if i > 0 && !d.Date.IsZero() && !s[i-1].Date.IsZero() && !d.Date.Equal(s[i-1].Date.AddDate(0, 0, 1)) {
			return fmt.Errorf("%w: gap between %s and %s", ErrInvalidSeries,
				s[i-1].Date.Format(time.DateOnly), d.Date.Format(time.DateOnly))
		}
	}
	return nil
}
