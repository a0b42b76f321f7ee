package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rustyeddy/tradeguard/manage"
	"github.com/rustyeddy/tradeguard/risk"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// keyValue renders two-column label/value tables.
func keyValue(w io.Writer, title string, rows []table.Row) {
	t := newTable(w, title)
	t.AppendRows(rows)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 24, Align: text.AlignLeft},
	})
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func price(p float64) string {
	if p == 0 {
		return "-"
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func renderDecision(w io.Writer, d risk.Decision) {
	rows := []table.Row{
		{"Can trade", yesNo(d.CanTrade)},
		{"State", d.State},
		{"Restrictions", d.Restrictions.Flags.String()},
		{"Daily loss", fmt.Sprintf("%.2f%%", d.DailyLossPercent)},
		{"Risk multiplier", fmt.Sprintf("%.2f", d.Restrictions.RiskMultiplier)},
		{"Max positions", d.Restrictions.MaxPositions},
	}
	if d.CooldownSeconds > 0 {
		rows = append(rows, table.Row{"Cooldown", (time.Duration(d.CooldownSeconds) * time.Second).String()})
	}
	if d.Reason != "" {
		rows = append(rows, table.Row{"Reason", d.Reason})
	}
	keyValue(w, "RISK DECISION", rows)
}

func renderSize(w io.Writer, r risk.SizeResult) {
	rows := []table.Row{
		{"Can trade", yesNo(r.CanTrade)},
		{"State", r.State},
		{"Mode", r.Mode},
		{"Lot size", fmt.Sprintf("%.2f", r.LotSize)},
		{"Stop distance", fmt.Sprintf("%.1f pips", r.PipRisk)},
		{"Target risk", fmt.Sprintf("%.2f", r.RiskAmount)},
		{"Actual risk", fmt.Sprintf("%.2f (%.2f%%)", r.ActualRisk, r.RiskPercent)},
		{"Restrictions", r.Restrictions.Flags.String()},
	}
	if r.Reason != "" {
		rows = append(rows, table.Row{"Reason", r.Reason})
	}
	keyValue(w, "POSITION SIZE", rows)
}

func renderPlans(w io.Writer, plans []manage.Plan) {
	t := newTable(w, "MANAGEMENT PLAN")
	t.AppendHeader(table.Row{"Kind", "Feature", "Trigger", "Offset", "Trail", "Step", "Close %", "Force BE", "Target R"})
	for _, p := range plans {
		t.AppendRow(table.Row{
			p.Kind, p.Feature,
			pips(p.TriggerPips), pips(p.OffsetPips), pips(p.TrailDistancePips), pips(p.TrailStepPips),
			pct(p.ClosePercent), yesNo(p.ForceBreakeven), ratio(p.TargetR),
		})
	}
	t.Render()
}

func renderSession(w io.Writer, s risk.TradingSession) {
	keyValue(w, "SESSION", []table.Row{
		{"State", s.State},
		{"Trades", s.TradesTaken},
		{"Daily P/L", fmt.Sprintf("%.2f (%.2f%%)", s.DailyPnL, s.DailyPnLPercent)},
		{"Wins in a row", s.ConsecutiveWins},
		{"Losses in a row", s.ConsecutiveLosses},
		{"Tilt strikes", s.TiltStrikes},
	})
}

func pips(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}

func pct(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", v)
}

func ratio(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}
