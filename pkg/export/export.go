// Package export renders optimization reports for people and downstream tools.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/ugs/core/model"
)

// Row is one day of the plan with the derived cash flow columns.
type Row struct {
	model.DayPlan
	// GainLoss is wd·p − inj·p·(1+c).
	GainLoss      float64 `json:"gain_loss"`
	StorageChange float64 `json:"storage_change"`
}

// Rows derives the export rows of plan. The storage change of the first day
// is measured against the initial level.
func Rows(plan model.Plan, p model.FacilityParameters) []Row {
	rows := make([]Row, len(plan))
	prev := p.InitialLevel
	for i, d := range plan {
		rows[i] = Row{
			DayPlan:       d,
			GainLoss:      d.Withdrawal*d.Price - d.Injection*d.Price*(1+p.VariableCostRate),
			StorageChange: d.Storage - prev,
		}
		prev = d.Storage
	}
	return rows
}

// WriteJSON writes the full report to w in JSON format.
func WriteJSON(w io.Writer, rep model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

var csvHeader = []string{"day", "date", "price", "injection", "withdrawal", "storage", "gain_loss", "storage_change"}

// WritePlanCSV writes the daily plan to w in CSV format.
func WritePlanCSV(w io.Writer, plan model.Plan, p model.FacilityParameters) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range Rows(plan, p) {
		date := ""
		if !r.Date.IsZero() {
			date = r.Date.Format(time.DateOnly)
		}
		rec := []string{
			strconv.Itoa(r.Day),
			date,
			formatFloat(r.Price),
			formatFloat(r.Injection),
			formatFloat(r.Withdrawal),
			formatFloat(r.Storage),
			formatFloat(r.GainLoss),
			formatFloat(r.StorageChange),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
