package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"marketpulse/internal/domain"
)

// usd renders an amount as US dollars, rounded to cents.
func usd(v float64) string {
	cents := decimal.NewFromFloat(v).Shift(2).Round(0)
	return money.New(cents.IntPart(), money.USD).Display()
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func optPct(v *float64) string {
	if v == nil {
		return "-"
	}
	return pct(*v)
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

func optUSD(v *float64) string {
	if v == nil {
		return "-"
	}
	return usd(*v)
}

// change returns the relative move from past to current, or "-" when past is
// not positive.
func change(current, past float64) string {
	if past <= 0 {
		return "-"
	}
	return pct(current/past - 1)
}

func printMetrics(w io.Writer, m domain.RiskMetrics) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total value\t%s\n", usd(m.TotalValue))
	fmt.Fprintf(tw, "YTD return\t%s\n", optPct(m.YTDReturn))
	fmt.Fprintf(tw, "Annualized return\t%s\n", pct(m.AnnualizedReturn))
	fmt.Fprintf(tw, "Volatility\t%s\n", pct(m.Volatility))
	fmt.Fprintf(tw, "Sharpe\t%.3f\n", m.Sharpe)
	fmt.Fprintf(tw, "Max drawdown\t%s\n", pct(m.MaxDrawdown))
	fmt.Fprintf(tw, "Beta\t%s\n", optFloat(m.Beta))
	fmt.Fprintf(tw, "VaR 95%%\t%s\n", optUSD(m.ValueAtRisk))
	fmt.Fprintf(tw, "CVaR 95%%\t%s\n", optUSD(m.ConditionalValueAtRisk))
	tw.Flush()
}

func printSnapshots(w io.Writer, snaps []domain.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tTYPE\tPRICE\t1D\t7D\t30D\t90D\tVOLUME\t")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t\n",
			s.Symbol, s.Type, usd(s.CurrentPrice),
			change(s.CurrentPrice, s.OneDayAgoPrice),
			change(s.CurrentPrice, s.SevenDayAgoPrice),
			change(s.CurrentPrice, s.ThirtyDayAgoPrice),
			change(s.CurrentPrice, s.NinetyDayAgoPrice),
			s.Volume)
	}
	tw.Flush()
}

func printRuns(w io.Writer, runs []domain.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTRIGGER\tSTARTED\tSTATUS\tUPDATED\tUNCHANGED\tSKIPPED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.Trigger, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status,
			r.Updated, r.Unchanged, r.Skipped, r.Failed)
	}
	tw.Flush()
}
