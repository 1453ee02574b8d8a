package export

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/kilianp07/ugs/core/model"
)

const (
	panelWidth  = 1280
	panelHeight = 360
)

// ErrTooFewDays is returned when a plan is too short to be plotted.
var ErrTooFewDays = errors.New("at least two days are required to plot a plan")

// WritePNG renders the forward curve, the daily flows and the storage level
// as three stacked panels.
func WritePNG(w io.Writer, rep model.Report) error {
	if len(rep.Plan) < 2 {
		return ErrTooFewDays
	}
	n := len(rep.Plan)
	days := make([]float64, n)
	prices := make([]float64, n)
	inj := make([]float64, n)
	wd := make([]float64, n)
	storage := make([]float64, n)
	capacity := make([]float64, n)
	for i, d := range rep.Plan {
		days[i] = float64(d.Day)
		prices[i] = d.Price
		inj[i] = d.Injection
		wd[i] = -d.Withdrawal
		storage[i] = d.Storage
		capacity[i] = rep.Facility.WGV
	}

	panels := []chart.Chart{
		panel("Forward curve", "EUR/MWh", days, []chart.Series{
			chart.ContinuousSeries{Name: "Price", XValues: days, YValues: prices, Style: line(chart.ColorBlue)},
		}, prices),
		panel("Daily operations", "MWh/day", days, []chart.Series{
			chart.ContinuousSeries{Name: "Injection", XValues: days, YValues: inj, Style: area(chart.ColorGreen)},
			chart.ContinuousSeries{Name: "Withdrawal", XValues: days, YValues: wd, Style: area(chart.ColorRed)},
		}, inj, wd),
		panel("Storage level", "MWh", days, []chart.Series{
			chart.ContinuousSeries{Name: "Storage", XValues: days, YValues: storage, Style: area(chart.ColorBlue)},
			chart.ContinuousSeries{Name: "WGV", XValues: days, YValues: capacity, Style: dashed(chart.ColorBlack)},
		}, storage, capacity),
	}

	out := image.NewRGBA(image.Rect(0, 0, panelWidth, panelHeight*len(panels)))
	for i := range panels {
		panels[i].Elements = []chart.Renderable{chart.LegendThin(&panels[i])}
		collector := &chart.ImageWriter{}
		if err := panels[i].Render(chart.PNG, collector); err != nil {
			return fmt.Errorf("render %s: %w", panels[i].Title, err)
		}
		img, err := collector.Image()
		if err != nil {
			return err
		}
		r := image.Rect(0, i*panelHeight, panelWidth, (i+1)*panelHeight)
		draw.Draw(out, r, img, img.Bounds().Min, draw.Src)
	}
	return png.Encode(w, out)
}

func panel(title, unit string, days []float64, series []chart.Series, values ...[]float64) chart.Chart {
	return chart.Chart{
		Title:  title,
		Width:  panelWidth,
		Height: panelHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			Name:  "Day",
			Range: &chart.ContinuousRange{Min: days[0], Max: days[len(days)-1]},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxis: chart.YAxis{
			Name:  unit,
			Range: valueRange(values...),
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: series,
	}
}

// valueRange spans every value with a margin and never collapses to a point,
// which go-chart refuses to render.
func valueRange(values ...[]float64) *chart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, vs := range values {
		for _, v := range vs {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = math.Max(1, math.Abs(hi)*0.05)
	}
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

func line(c drawing.Color) chart.Style {
	return chart.Style{StrokeColor: c, StrokeWidth: 1.5}
}

func area(c drawing.Color) chart.Style {
	return chart.Style{StrokeColor: c, StrokeWidth: 1, FillColor: c.WithAlpha(64)}
}

func dashed(c drawing.Color) chart.Style {
	return chart.Style{StrokeColor: c, StrokeWidth: 1, StrokeDashArray: []float64{5, 5}}
}
