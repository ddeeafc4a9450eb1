package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"github.com/strikepipe/strikepipe/internal/model"
)

// MarkdownWriter outputs run records in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write renders the progress record in Markdown format.
func (w *MarkdownWriter) Write(progress *model.PipelineProgress) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, progress)
	w.writeStatusAlert(md, progress)
	w.writeAgents(md, progress)
	w.writeSummary(md, progress)

	return len(md.String()), md.Build()
}

// writeHeader writes the run header with identifying information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, progress *model.PipelineProgress) {
	md.H1("Pipeline Run " + progress.RunID)
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Status", string(progress.Status)},
			{"Started", progress.StartTime.Format("2006-01-02 15:04:05 MST")},
			{"Elapsed", formatDuration(progress.ElapsedMS)},
			{"Completed Agents", strconv.Itoa(len(progress.CompletedAgents))},
		},
	})
	md.PlainText("")
}

// writeStatusAlert writes an alert matching the run's current condition.
func (w *MarkdownWriter) writeStatusAlert(md *markdown.Markdown, progress *model.PipelineProgress) {
	switch progress.Status {
	case model.StatusCompleted:
		md.Tip("Run completed successfully.")
	case model.StatusFailed:
		if progress.FailedAgent != "" {
			md.Cautionf("Run failed at %s: %s", progress.FailedAgent, progress.Error)
		} else {
			md.Cautionf("Run failed: %s", progress.Error)
		}
	default:
		if progress.CurrentPhase != "" {
			md.Notef("Run is executing the %s phase.", progress.CurrentPhase)
		} else {
			md.Note("Run is starting up.")
		}
	}
	md.PlainText("")
}

// writeAgents writes the per-agent metrics table.
func (w *MarkdownWriter) writeAgents(md *markdown.Markdown, progress *model.PipelineProgress) {
	md.H2("Agents")
	md.PlainText("")

	if len(progress.AgentMetrics) == 0 {
		md.PlainText("No agents have completed yet.")
		md.PlainText("")
		return
	}

	// Completion order first, then any agents only present in the metrics
	// map, sorted for a stable rendering.
	order := make([]string, 0, len(progress.AgentMetrics))
	seen := make(map[string]bool, len(progress.AgentMetrics))
	for _, name := range progress.CompletedAgents {
		if _, ok := progress.AgentMetrics[name]; ok && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(progress.AgentMetrics))
	for name := range progress.AgentMetrics {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	rows := make([][]string, 0, len(order))
	for _, name := range order {
		m := progress.AgentMetrics[name]
		rows = append(rows, []string{
			name,
			formatDuration(m.DurationMS),
			formatTokens(m.InputTokens, m.OutputTokens),
			formatCost(m.CostUSD),
			formatTurns(m.Turns),
		})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Agent", "Duration", "Tokens (in/out)", "Cost", "Turns"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeSummary writes the run summary section for terminal runs.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, progress *model.PipelineProgress) {
	if progress.Summary == nil {
		return
	}

	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Total Cost", "Total Duration", "Total Turns", "Agents"},
		Rows: [][]string{
			{
				fmt.Sprintf("$%.4f", progress.Summary.TotalCostUSD),
				formatDuration(progress.Summary.TotalDurationMS),
				strconv.Itoa(progress.Summary.TotalTurns),
				strconv.Itoa(progress.Summary.AgentCount),
			},
		},
	})
	md.PlainText("")
}

// formatDuration renders a millisecond count as a rounded duration string.
func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d >= time.Second {
		d = d.Round(time.Second)
	}
	return d.String()
}

// formatTokens renders the input/output token pair, "-" when unavailable.
func formatTokens(in, out *int64) string {
	if in == nil && out == nil {
		return "-"
	}
	format := func(v *int64) string {
		if v == nil {
			return "?"
		}
		return strconv.FormatInt(*v, 10)
	}
	return format(in) + "/" + format(out)
}

// formatCost renders a cost value, "-" when unavailable.
func formatCost(cost *float64) string {
	if cost == nil {
		return "-"
	}
	return fmt.Sprintf("$%.4f", *cost)
}

// formatTurns renders a turn count, "-" when unavailable.
func formatTurns(turns *int) string {
	if turns == nil {
		return "-"
	}
	return strconv.Itoa(*turns)
}
