package reporter

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"shop-qa/internal/executor"
)

// WriteConsole renders a per-scenario summary table plus run totals. It is
// the human-facing counterpart of the JSON/JUnit artifacts.
func WriteConsole(w io.Writer, suiteName string, res *executor.SuiteResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(suiteName)
	t.AppendHeader(table.Row{"#", "Scenario", "Status", "Steps", "Worker", "Row", "Duration"})

	var passed, failed, skipped int
	for i, sc := range res.Scenarios {
		status := text.FgGreen.Sprint("PASS")
		switch {
		case sc.Skipped:
			status = text.FgYellow.Sprint("SKIP")
			skipped++
		case !sc.Passed:
			status = text.FgRed.Sprint("FAIL")
			failed++
		default:
			passed++
		}
		row := "-"
		if sc.DataIndex >= 0 {
			row = fmt.Sprintf("%d", sc.DataIndex)
		}
		t.AppendRow(table.Row{
			i + 1, sc.Name, status, len(sc.Steps), sc.Worker, row,
			fmt.Sprintf("%.0f ms", sc.DurationMs),
		})
	}
	t.Render()

	fmt.Fprintf(w, "%d passed, %d failed, %d skipped in %.0f ms\n",
		passed, failed, skipped, res.DurationMs)
	if res.Data != nil {
		fmt.Fprintf(w, "dataset: %d rows, %d used, %d available (%.1f%%)\n",
			res.Data.Total, res.Data.Used, res.Data.Available, res.Data.Percent)
	}
}
