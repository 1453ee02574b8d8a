package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ugs/core/model"
)

func sampleReport() model.Report {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	p := model.DefaultFacility()
	p.WGV = 1000
	p.VariableCostRate = 0.01
	p.InitialLevel = 100
	return model.Report{
		RunID:    "r1",
		Optimal:  true,
		Facility: p,
		Plan: model.Plan{
			{Day: 0, Date: start, Price: 20, Injection: 100, Storage: 200},
			{Day: 1, Date: start.AddDate(0, 0, 1), Price: 25, Storage: 200},
			{Day: 2, Date: start.AddDate(0, 0, 2), Price: 40, Withdrawal: 150, Storage: 50},
		},
		Economics: model.EconomicsSummary{IntrinsicValue: 3980, IntrinsicValuePerUnit: 3.98, Revenue: 6000, Cost: 2020, VariableCost: 20, TotalInjected: 100, TotalWithdrawn: 150},
		KPIs:      model.KPIs{InjectionDays: 1, WithdrawalDays: 1, HoldDays: 1, MaxStorage: 200, Utilization: 0.2, FinalStorage: 50, TerminalDeviation: -50},
		Bid:       model.BidRecommendation{BidFraction: 0.8, BidPerUnit: 3.184, TotalBid: 3184, ExpectedProfit: 796, ExpectedProfitPerUnit: 0.796},
		Solve:     model.SolveSummary{Status: "optimal", Nodes: 5, DurationMS: 3},
	}
}

func TestRows(t *testing.T) {
	rep := sampleReport()
	rows := Rows(rep.Plan, rep.Facility)
	require.Len(t, rows, 3)
	assert.InDelta(t, -100*20*1.01, rows[0].GainLoss, 1e-9)
	assert.InDelta(t, 100, rows[0].StorageChange, 1e-9)
	assert.Zero(t, rows[1].GainLoss)
	assert.Zero(t, rows[1].StorageChange)
	assert.InDelta(t, 150*40, rows[2].GainLoss, 1e-9)
	assert.InDelta(t, -150, rows[2].StorageChange, 1e-9)

	var total float64
	for _, r := range rows {
		total += r.GainLoss
	}
	assert.InDelta(t, rep.Economics.IntrinsicValue, total, 1e-9)
}

func TestWritePlanCSV(t *testing.T) {
	rep := sampleReport()
	var buf bytes.Buffer
	require.NoError(t, WritePlanCSV(&buf, rep.Plan, rep.Facility))
	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, csvHeader, recs[0])
	assert.Equal(t, []string{"0", "2026-04-01", "20", "100", "0", "200", "-2020", "100"}, recs[1])
	assert.Equal(t, []string{"2", "2026-04-03", "40", "0", "150", "50", "6000", "-150"}, recs[3])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReport()))
	var back model.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "r1", back.RunID)
	assert.Len(t, back.Plan, 3)
	assert.Equal(t, 3184.0, back.Bid.TotalBid)
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	rep := sampleReport()
	rep.Economics.IntrinsicValue = 1234567.891
	require.NoError(t, WriteSummary(&buf, rep))
	out := buf.String()
	for _, want := range []string{
		"Run r1",
		"1,234,567.89 EUR",
		"3.9800 EUR per MWh",
		"Bid at 80% of intrinsic value",
		"1 / 1 / 1",
		"20% of WGV",
		"deviation -50",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "not proven optimal")

	rep.Optimal = false
	buf.Reset()
	require.NoError(t, WriteSummary(&buf, rep))
	assert.Contains(t, buf.String(), "not proven optimal")
}

func TestGroup(t *testing.T) {
	cases := map[string]string{
		"0":          "0",
		"999":        "999",
		"1000":       "1,000",
		"-1234567.5": "-1,234,567.5",
		"123456.00":  "123,456.00",
	}
	for in, want := range cases {
		assert.Equal(t, want, group(in), in)
	}
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, sampleReport()))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, panelWidth, img.Bounds().Dx())
	assert.Equal(t, 3*panelHeight, img.Bounds().Dy())
}

func TestWritePNG_FlatPlan(t *testing.T) {
	rep := sampleReport()
	for i := range rep.Plan {
		rep.Plan[i].Injection, rep.Plan[i].Withdrawal, rep.Plan[i].Storage, rep.Plan[i].Price = 0, 0, 0, 30
	}
	var buf bytes.Buffer
	assert.NoError(t, WritePNG(&buf, rep))
}

func TestWritePNG_TooShort(t *testing.T) {
	rep := sampleReport()
	rep.Plan = rep.Plan[:1]
	err := WritePNG(&bytes.Buffer{}, rep)
	assert.True(t, errors.Is(err, ErrTooFewDays))
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, sampleReport()))
	out := buf.String()
	assert.Contains(t, out, "UGS schedule r1")
	assert.Contains(t, out, "Forward curve")
	assert.Contains(t, out, "2026-04-03")
	assert.Contains(t, out, "Withdrawal")
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	opts := Options{Dir: dir, CSV: true, Summary: true}
	paths, err := WriteFiles(sampleReport(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "r1-plan.csv"), filepath.Join(dir, "r1-summary.txt")}, paths)
	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Run r1"))
}

func TestWriteFiles_All(t *testing.T) {
	opts := Options{Dir: t.TempDir()}
	opts.SetDefaults()
	paths, err := WriteFiles(sampleReport(), opts)
	require.NoError(t, err)
	assert.Len(t, paths, 5)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestOptions_SetDefaults(t *testing.T) {
	var o Options
	o.SetDefaults()
	assert.Equal(t, "output", o.Dir)
	assert.True(t, o.CSV && o.JSON && o.PNG && o.HTML && o.Summary)

	o = Options{PNG: true}
	o.SetDefaults()
	assert.False(t, o.CSV)
	assert.True(t, o.PNG)
}
