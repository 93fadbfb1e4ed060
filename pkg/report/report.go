// Package report renders verification reports for people: markdown for
// files and pull requests, styled text for the terminal.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/vloop/pkg/sdk"
)

// Status is the one-word outcome of a report.
func Status(r *sdk.Report) string {
	switch {
	case r == nil:
		return "UNKNOWN"
	case r.Succeeded():
		return "VERIFIED"
	case r.Escalated():
		return "ESCALATED"
	default:
		return "IN PROGRESS"
	}
}

// Markdown generates the report document.
func Markdown(r *sdk.Report) string {
	var sb strings.Builder
	if r == nil {
		return "# Verification report\n\nNo run.\n"
	}

	title := "# Verification: " + string(r.ChangeType)
	if r.Feature != "" {
		title += " (" + r.Feature + ")"
	}
	sb.WriteString(title + "\n\n")
	sb.WriteString("- Run: `" + r.RunID + "`\n")
	sb.WriteString("- Result: **" + Status(r) + "**\n")
	sb.WriteString("- Final stage: " + r.FinalStage.Title() + "\n")
	sb.WriteString(fmt.Sprintf("- Attempts: %d\n", r.Attempts))
	if d := r.Duration(); d > 0 {
		sb.WriteString("- Duration: " + d.Round(time.Millisecond).String() + "\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Stages\n")
	sb.WriteString("| Stage | Status | Notes |\n")
	sb.WriteString("|-------|--------|-------|\n")
	for _, row := range Rows(r) {
		sb.WriteString("| " + row.Stage.Title() + " | " + row.Mark() + " " + row.Status + " | " + escapeCell(row.Note) + " |\n")
	}
	sb.WriteString("\n")

	if len(r.Verified) > 0 {
		sb.WriteString("## Verified\n")
		for _, s := range r.Verified {
			sb.WriteString("- " + s.Title() + evidenceSummary(r, s) + "\n")
		}
		sb.WriteString("\n")
	}

	if len(r.Skipped) > 0 {
		sb.WriteString("## Not verified\n")
		for _, s := range r.Skipped {
			sb.WriteString("- " + s.Stage.Title() + ": " + s.Reason + "\n")
		}
		sb.WriteString("\n")
	}

	if r.Escalation != nil {
		e := r.Escalation
		sb.WriteString("## Escalation\n")
		sb.WriteString(fmt.Sprintf("%s failed %d times and needs a human.\n\n", e.Stage.Title(), e.Attempts))
		if e.Unavailable {
			sb.WriteString("The last attempt could not reach a required service, so this stage could not be verified automatically.\n\n")
		}
		for i, reason := range e.Reasons {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, reason))
		}
		sb.WriteString("\n")
	}

	if len(r.Failures) > 0 {
		sb.WriteString("## Failed checks\n")
		for _, o := range r.Failures {
			sb.WriteString(fmt.Sprintf("### %s, attempt %d\n", o.Stage.Title(), o.Attempt))
			if o.Evidence == nil {
				sb.WriteString("- " + o.Reason + "\n\n")
				continue
			}
			for _, c := range o.Evidence.Failed() {
				line := "- " + c.Name
				if c.Detail != "" {
					line += ": " + c.Detail
				}
				sb.WriteString(line + "\n")
			}
			sb.WriteString("\n")
		}
	}

	if artifacts := Artifacts(r); len(artifacts) > 0 {
		sb.WriteString("## Artifacts\n")
		for _, a := range artifacts {
			sb.WriteString("- " + a + "\n")
		}
	}

	return sb.String()
}

// Row is one line of the stage table.
type Row struct {
	Stage  sdk.Stage
	Status string
	Note   string
}

// Mark returns a check or cross for the row.
func (r Row) Mark() string {
	switch r.Status {
	case "passed":
		return "✓"
	case "failed":
		return "✗"
	default:
		return "-"
	}
}

// Rows lists every verifying stage with its status for the change type.
// Stages that never ran are never shown as passed.
func Rows(r *sdk.Report) []Row {
	verified := make(map[sdk.Stage]bool, len(r.Verified))
	for _, s := range r.Verified {
		verified[s] = true
	}
	skipped := make(map[sdk.Stage]string, len(r.Skipped))
	for _, s := range r.Skipped {
		skipped[s.Stage] = s.Reason
	}

	var rows []Row
	for _, s := range sdk.VerifyingStages() {
		row := Row{Stage: s}
		switch {
		case verified[s]:
			row.Status = "passed"
			row.Note = attemptNote(r, s)
		case r.Escalation != nil && r.Escalation.Stage == s:
			row.Status = "failed"
			row.Note = skipped[s]
		case !r.ChangeType.Requires(s):
			row.Status = "not required"
		default:
			row.Status = "not verified"
			row.Note = skipped[s]
		}
		rows = append(rows, row)
	}
	return rows
}

// Artifacts lists artifact paths from passing and failing outcomes, sorted.
func Artifacts(r *sdk.Report) []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range r.Outcomes {
		if o.Evidence == nil {
			continue
		}
		for name, path := range o.Evidence.Artifacts {
			entry := o.Stage.Title() + " " + name + ": " + path
			if !seen[entry] {
				seen[entry] = true
				out = append(out, entry)
			}
		}
	}
	sort.Strings(out)
	return out
}

func attemptNote(r *sdk.Report, s sdk.Stage) string {
	n := 0
	for _, o := range r.Outcomes {
		if o.Stage == s {
			n++
		}
	}
	if n <= 1 {
		return ""
	}
	return fmt.Sprintf("passed on attempt %d", n)
}

func evidenceSummary(r *sdk.Report, s sdk.Stage) string {
	for i := len(r.Outcomes) - 1; i >= 0; i-- {
		o := r.Outcomes[i]
		if o.Stage == s && o.Passed && o.Evidence != nil && o.Evidence.Summary != "" {
			return ": " + o.Evidence.Summary
		}
	}
	return ""
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

// Criteria renders criteria as a markdown table.
func Criteria(list []sdk.Criterion) string {
	if len(list) == 0 {
		return "No criteria.\n"
	}
	var sb strings.Builder
	sb.WriteString("| ID | Feature | Status | Criterion |\n")
	sb.WriteString("|----|---------|--------|-----------|\n")
	for _, c := range list {
		sb.WriteString("| " + sdk.ShortID(c.ID) + " | " + escapeCell(c.Feature) + " | " +
			string(c.Status) + " | " + escapeCell(c.Description) + " |\n")
	}
	return sb.String()
}
