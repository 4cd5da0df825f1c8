package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/chazu/moonshine/pkg/optimize"
)

// statsRow is one program's optimizer report.
type statsRow struct {
	Name  string
	Stats *optimize.Stats
	Depth int // loop nesting of the optimized program
}

// writeStats renders one table of instruction counts and one of rewrite
// counts per rule.
func writeStats(w io.Writer, rows []statsRow) {
	counts := table.NewWriter()
	counts.SetOutputMirror(w)
	counts.SetStyle(table.StyleLight)
	counts.SetTitle("Instructions")
	counts.AppendHeader(table.Row{"Program", "Raw", "Optimized", "Ratio", "Iterations", "Depth"})
	counts.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})

	var before, after int
	totals := make(map[string]int)
	for _, r := range rows {
		st := r.Stats
		before += st.Before
		after += st.After
		iterations := fmt.Sprint(st.Iterations)
		if !st.Converged {
			iterations += " (bound)"
		}
		counts.AppendRow(table.Row{r.Name, st.Before, st.After, ratio(st.Before, st.After), iterations, r.Depth})
		for rule, n := range st.Rewrites {
			totals[rule] += n
		}
	}
	if len(rows) > 1 {
		counts.AppendFooter(table.Row{"total", before, after, ratio(before, after), "", ""})
	}
	counts.Render()

	if len(totals) == 0 {
		return
	}
	rules := make([]string, 0, len(totals))
	for rule := range totals {
		rules = append(rules, rule)
	}
	sort.Strings(rules)

	rewrites := table.NewWriter()
	rewrites.SetOutputMirror(w)
	rewrites.SetStyle(table.StyleLight)
	rewrites.SetTitle("Rewrites")
	rewrites.AppendHeader(table.Row{"Rule", "Count"})
	rewrites.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, rule := range rules {
		rewrites.AppendRow(table.Row{rule, totals[rule]})
	}
	rewrites.Render()
}

// ratio formats after as a percentage of before.
func ratio(before, after int) string {
	if before == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(after)/float64(before))
}
