package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/ugs/core/model"
)

// WriteSummary prints the console summary of a run.
func WriteSummary(w io.Writer, rep model.Report) error {
	e, b, k := rep.Economics, rep.Bid, rep.KPIs
	status := rep.Solve.Status
	if !rep.Optimal {
		status += " (not proven optimal)"
	}
	lines := []string{
		fmt.Sprintf("Run %s", rep.RunID),
		fmt.Sprintf("  solver status        %s, %d nodes, %d ms", status, rep.Solve.Nodes, rep.Solve.DurationMS),
		"Economics",
		fmt.Sprintf("  intrinsic value      %s (%s per MWh)", money(e.IntrinsicValue), perUnit(e.IntrinsicValuePerUnit)),
		fmt.Sprintf("  revenue              %s", money(e.Revenue)),
		fmt.Sprintf("  injection cost       %s (variable %s)", money(e.Cost), money(e.VariableCost)),
		fmt.Sprintf("  injected/withdrawn   %s / %s MWh", volume(e.TotalInjected), volume(e.TotalWithdrawn)),
		fmt.Sprintf("Bid at %s%% of intrinsic value", decimal.NewFromFloat(b.BidFraction*100).Round(1).String()),
		fmt.Sprintf("  bid                  %s (%s per MWh)", money(b.TotalBid), perUnit(b.BidPerUnit)),
		fmt.Sprintf("  expected profit      %s (%s per MWh)", money(b.ExpectedProfit), perUnit(b.ExpectedProfitPerUnit)),
		"Operations",
		fmt.Sprintf("  days inj/wd/hold     %d / %d / %d", k.InjectionDays, k.WithdrawalDays, k.HoldDays),
		fmt.Sprintf("  max storage          %s MWh (%s%% of WGV)", volume(k.MaxStorage), decimal.NewFromFloat(k.Utilization*100).Round(1).String()),
		fmt.Sprintf("  final storage        %s MWh (deviation %s)", volume(k.FinalStorage), volume(k.TerminalDeviation)),
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

func money(v float64) string {
	return group(decimal.NewFromFloat(v).StringFixed(2)) + " EUR"
}

func perUnit(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(4) + " EUR"
}

func volume(v float64) string {
	return group(decimal.NewFromFloat(v).StringFixed(0))
}

// group inserts thousands separators into a plain decimal string.
func group(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}
