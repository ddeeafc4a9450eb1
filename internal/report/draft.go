package report

import (
	"io"

	"github.com/nao1215/markdown"

	"github.com/strikepipe/strikepipe/internal/model"
)

// DraftSection is one lane's contribution to the draft report.
type DraftSection struct {
	// Agent is the lane that produced the evidence.
	Agent string

	// Evidence is the lane's textual output, verbatim.
	Evidence string
}

// BuildDraft assembles the draft report passed to the reporting agent from
// the exploitation evidence collected during the run. Sections are emitted in
// the order given, so callers control the lane ordering and the output is
// reproducible for a given run state.
func BuildDraft(input model.PipelineInput, sections []DraftSection) string {
	md := markdown.NewMarkdown(io.Discard)

	md.H1("Security Assessment Draft")
	md.PlainText("")

	rows := [][]string{
		{"Target", "`" + input.WebURL + "`"},
	}
	if input.RepoPath != "" {
		rows = append(rows, []string{"Repository", "`" + input.RepoPath + "`"})
	}
	if input.ScanID != "" {
		rows = append(rows, []string{"Scan", input.ScanID})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	empty := true
	for _, section := range sections {
		if section.Evidence == "" {
			continue
		}
		empty = false
		md.H2(section.Agent)
		md.PlainText("")
		md.PlainText(section.Evidence)
		md.PlainText("")
	}
	if empty {
		md.Note("No exploitation evidence was collected for this target.")
		md.PlainText("")
	}

	return md.String()
}
