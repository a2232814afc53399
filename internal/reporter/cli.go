package reporter

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"pkt.systems/postrun/internal/engine"
)

// cliReporter prints each item as it finishes and renders the summary and
// failure tables at the end of the run.
type cliReporter struct {
	out      io.Writer
	noColor  bool
	lastPath []string
	failNo   int
}

func newCLI(opts CLIOptions) *cliReporter {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &cliReporter{out: out, noColor: opts.NoColor}
}

func (c *cliReporter) Name() string { return CLI }

func (c *cliReporter) color(col text.Color, s string) string {
	if c.noColor {
		return s
	}
	return col.Sprint(s)
}

func (c *cliReporter) ItemDone(ex engine.Execution) {
	if !slices.Equal(ex.Path, c.lastPath) {
		if len(ex.Path) > 0 {
			fmt.Fprintf(c.out, "\n❏ %s\n", strings.Join(ex.Path, " / "))
		}
		c.lastPath = slices.Clone(ex.Path)
	}
	fmt.Fprintf(c.out, "↳ %s\n", ex.Item)

	line := fmt.Sprintf("  %s %s", ex.Request.Method, ex.Request.URL)
	switch {
	case ex.Response != nil:
		line += fmt.Sprintf(" [%d %s, %s, %s]", ex.Response.Code, ex.Response.Status,
			formatSize(ex.Response.Size), formatDuration(ex.Response.ResponseTime))
	case ex.RequestError != "":
		c.failNo++
		line += " " + c.color(text.FgRed, fmt.Sprintf("[errored]\n  %d. %s", c.failNo, ex.RequestError))
	}
	fmt.Fprintln(c.out, line)

	for _, msg := range ex.Console {
		fmt.Fprintf(c.out, "  │ %s\n", msg)
	}
	for _, a := range ex.Assertions {
		switch {
		case a.Skipped:
			fmt.Fprintf(c.out, "  %s  %s\n", c.color(text.FgHiBlack, "-"), c.color(text.FgHiBlack, a.Name+" (skipped)"))
		case a.Passed:
			fmt.Fprintf(c.out, "  %s  %s\n", c.color(text.FgGreen, "✓"), a.Name)
		default:
			c.failNo++
			fmt.Fprintln(c.out, c.color(text.FgRed, fmt.Sprintf("  %d. %s", c.failNo, a.Name)))
		}
	}
	for _, se := range ex.ScriptErrors {
		c.failNo++
		fmt.Fprintln(c.out, c.color(text.FgRed, fmt.Sprintf("  %d. %s", c.failNo, se)))
	}
}

func (c *cliReporter) Done(sum engine.Summary) error {
	fmt.Fprintln(c.out)
	c.renderStats(sum)
	if len(sum.Failures) > 0 {
		fmt.Fprintln(c.out)
		c.renderFailures(sum.Failures)
	}
	return nil
}

func (c *cliReporter) renderStats(sum engine.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	title := sum.Collection
	if sum.Environment != "" {
		title = fmt.Sprintf("%s (%s)", sum.Collection, sum.Environment)
	}
	t.SetTitle(title)
	t.AppendHeader(table.Row{"", "executed", "failed"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	st := sum.Stats
	for _, row := range []struct {
		name string
		c    engine.Counter
	}{
		{"iterations", st.Iterations},
		{"requests", st.Requests},
		{"test-scripts", st.TestScripts},
		{"prerequest-scripts", st.PrerequestScripts},
		{"assertions", st.Assertions},
	} {
		t.AppendRow(table.Row{row.name, row.c.Total, row.c.Failed})
	}
	t.AppendSeparator()
	tm := sum.Timings
	t.AppendFooter(table.Row{"total run duration", formatDuration(tm.Duration()), ""})
	t.AppendFooter(table.Row{"average response time", formatDuration(tm.ResponseAverage),
		fmt.Sprintf("min %s, max %s", formatDuration(tm.ResponseMin), formatDuration(tm.ResponseMax))})
	c.style(t, len(sum.Failures) == 0)
	t.Render()
}

func (c *cliReporter) renderFailures(failures []engine.Failure) {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetTitle("Failures")
	t.AppendHeader(table.Row{"#", "failure", "detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
		{Number: 3, WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})
	for i, f := range failures {
		source := strings.Join(append(slices.Clone(f.Path), f.Source), " / ")
		detail := f.Error.Message
		if f.Error.Test != "" {
			detail = f.Error.Test + "\n" + detail
		}
		detail += "\nat " + source
		t.AppendRow(table.Row{i + 1, f.Error.Name, detail})
		t.AppendSeparator()
	}
	c.style(t, false)
	t.Render()
}

func (c *cliReporter) style(t table.Writer, passed bool) {
	switch {
	case c.noColor:
		t.SetStyle(table.StyleLight)
	case passed:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
}
