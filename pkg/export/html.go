package export

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/ugs/core/model"
)

// WriteHTML renders an interactive page with the same three panels as the
// PNG output.
func WriteHTML(w io.Writer, rep model.Report) error {
	if len(rep.Plan) == 0 {
		return ErrTooFewDays
	}
	x := make([]string, len(rep.Plan))
	prices := make([]opts.LineData, len(rep.Plan))
	inj := make([]opts.BarData, len(rep.Plan))
	wd := make([]opts.BarData, len(rep.Plan))
	storage := make([]opts.LineData, len(rep.Plan))
	for i, d := range rep.Plan {
		x[i] = axisLabel(d)
		prices[i] = opts.LineData{Value: d.Price}
		inj[i] = opts.BarData{Value: d.Injection}
		wd[i] = opts.BarData{Value: -d.Withdrawal}
		storage[i] = opts.LineData{Value: d.Storage}
	}

	curve := charts.NewLine()
	curve.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Forward curve"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "EUR/MWh"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	curve.SetXAxis(x).AddSeries("Price", prices)

	flows := charts.NewBar()
	flows.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Daily operations"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "MWh/day"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	flows.SetXAxis(x).
		AddSeries("Injection", inj, charts.WithBarChartOpts(opts.BarChart{Stack: "flow"})).
		AddSeries("Withdrawal", wd, charts.WithBarChartOpts(opts.BarChart{Stack: "flow"}))

	level := charts.NewLine()
	level.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Storage level",
			Subtitle: fmt.Sprintf("run %s, WGV %.0f MWh", rep.RunID, rep.Facility.WGV),
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "MWh"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	level.SetXAxis(x).AddSeries("Storage", storage,
		charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{Name: "WGV", YAxis: rep.Facility.WGV}),
	)

	page := components.NewPage().SetPageTitle("UGS schedule " + rep.RunID)
	page.AddCharts(curve, flows, level)
	return page.Render(w)
}

func axisLabel(d model.DayPlan) string {
	if d.Date.IsZero() {
		return fmt.Sprintf("day %d", d.Day)
	}
	return d.Date.Format(time.DateOnly)
}
