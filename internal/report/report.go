// Package report renders a snapshot as human readable tables
package report

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/r-heap47/eipmon/internal/models"
	"github.com/samber/lo"
)

// Options - rendering options
type Options struct {
	// Color enables ansi colors for scores and headers
	Color bool
}

// Write renders snap into w: a summary followed by node, CPIC and API tables
func Write(w io.Writer, snap models.Snapshot, opts Options) error {
	f := formatter{opts: opts}

	sections := []string{
		f.summary(snap),
		f.nodes(snap),
		f.durations(snap),
		f.api(snap),
	}

	for _, s := range sections {
		if s == "" {
			continue
		}

		if _, err := fmt.Fprintf(w, "%s\n\n", s); err != nil {
			return fmt.Errorf("fmt.Fprintf: %w", err)
		}
	}

	return nil
}

type formatter struct {
	opts Options
}

func (f formatter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)

	if f.opts.Color {
		t.Style().Color.Header = text.Colors{text.FgHiCyan}
		t.Style().Title.Colors = text.Colors{text.FgHiBlue, text.Bold}
	}

	return t
}

func (f formatter) paint(colors text.Colors, s string) string {
	if !f.opts.Color {
		return s
	}

	return colors.Sprint(s)
}

func (f formatter) score(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)

	switch {
	case v >= 80:
		return f.paint(text.Colors{text.FgGreen}, s)
	case v >= 50:
		return f.paint(text.Colors{text.FgYellow}, s)
	default:
		return f.paint(text.Colors{text.FgRed}, s)
	}
}

func (f formatter) summary(snap models.Snapshot) string {
	t := f.newTable("Summary")

	lastScrape := "never"
	if !snap.Scrape.LastSuccess.IsZero() {
		lastScrape = snap.Scrape.LastSuccess.UTC().Format(time.RFC3339)
	}

	t.AppendRows([]table.Row{
		{"EgressIPs configured", snap.Totals.Configured},
		{"EgressIPs assigned", snap.Totals.Assigned},
		{"EgressIPs unassigned", snap.Totals.Unassigned},
		{"Utilization %", percent(snap.UtilizationPercent)},
		{"Capacity utilization %", percent(snap.CapacityUtilizationPercent)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"CPIC success / pending / error", fmt.Sprintf("%d / %d / %d", snap.CPIC.Success, snap.CPIC.Pending, snap.CPIC.Error)},
		{"Nodes available", snap.NodesAvailable},
		{"Nodes with errors", snap.NodesWithErrors},
		{"Distribution stddev", strconv.FormatFloat(snap.Distribution.StdDev, 'f', 2, 64)},
		{"Distribution gini", strconv.FormatFloat(snap.Distribution.Gini, 'f', 3, 64)},
		{"Per node max / min", fmt.Sprintf("%d / %d", snap.Distribution.Max, snap.Distribution.Min)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Changes last hour", snap.Trend.ChangesLastHour},
		{"CPIC recoveries last hour", snap.Trend.RecoveriesLastHour},
		{"Health score", f.score(snap.HealthScore)},
		{"Stability score", f.score(snap.StabilityScore)},
		{"Last successful collection", lastScrape},
		{"Collection errors", snap.Scrape.ErrorCount},
	})

	return t.Render()
}

func (f formatter) nodes(snap models.Snapshot) string {
	if len(snap.PerNode) == 0 {
		return ""
	}

	t := f.newTable("Nodes")
	t.AppendHeader(table.Row{"Node", "Assigned", "Capacity", "Utilization %", "CPIC success", "CPIC pending", "CPIC error"})

	names := lo.Keys(snap.PerNode)
	slices.Sort(names)

	for _, name := range names {
		ns := snap.PerNode[name]
		t.AppendRow(table.Row{name, ns.Assigned, ns.Capacity, percent(ns.UtilizationPercent), ns.CPICSuccess, ns.CPICPending, ns.CPICError})
	}

	t.AppendFooter(table.Row{
		"Total",
		lo.SumBy(lo.Values(snap.PerNode), func(ns models.NodeStats) int { return ns.Assigned }),
		lo.SumBy(lo.Values(snap.PerNode), func(ns models.NodeStats) int { return ns.Capacity }),
	})

	return t.Render()
}

func (f formatter) durations(snap models.Snapshot) string {
	if len(snap.Durations) == 0 {
		return ""
	}

	t := f.newTable("CPIC not in success")
	t.AppendHeader(table.Row{"Resource", "Status", "For"})

	names := lo.Keys(snap.Durations)
	slices.Sort(names)

	for _, name := range names {
		d := snap.Durations[name]

		status := string(d.Status)
		if d.Status == models.CPICError {
			status = f.paint(text.Colors{text.FgRed}, status)
		}

		t.AppendRow(table.Row{name, status, (time.Duration(d.Seconds) * time.Second).String()})
	}

	return t.Render()
}

func (f formatter) api(snap models.Snapshot) string {
	if len(snap.API) == 0 {
		return ""
	}

	t := f.newTable("API")
	t.AppendHeader(table.Row{"Operation", "Samples", "Avg response s", "Success %", "Calls"})

	ops := lo.Keys(snap.API)
	slices.Sort(ops)

	for _, op := range ops {
		s := snap.API[op]
		t.AppendRow(table.Row{op, s.SampleCount, strconv.FormatFloat(s.AvgResponseTimeSeconds, 'f', 3, 64), percent(s.SuccessRatePercent), s.CallCount()})
	}

	return t.Render()
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
