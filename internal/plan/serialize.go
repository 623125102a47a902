package plan

import (
	"fmt"
	"strings"

	"github.com/planmux/planmux/internal/types"
)

// Serialize renders a plan back into its markdown body form. The output is
// round-trip compatible: parsing a body, serializing the result, and
// parsing again reproduces identical structured fields.
func Serialize(p *types.Plan) string {
	var b strings.Builder
	b.WriteString(Marker)
	b.WriteString("\n")

	if p.Goal != "" {
		b.WriteString("\n## Goal\n\n")
		b.WriteString(p.Goal)
		b.WriteString("\n")
	}
	if p.Context != "" {
		b.WriteString("\n## Context\n\n")
		b.WriteString(p.Context)
		b.WriteString("\n")
	}

	if len(p.Tasks) > 0 {
		b.WriteString("\n## Tasks\n")
		for i, t := range p.Tasks {
			b.WriteString("\n")
			b.WriteString(SerializeTask(t))
			if i < len(p.Tasks)-1 {
				b.WriteString("\n---\n")
			}
		}
	}

	if len(p.Verification) > 0 {
		b.WriteString("\n## Verification\n\n")
		for _, item := range p.Verification {
			mark := " "
			if item.Checked {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", mark, item.Text)
		}
	}

	return b.String()
}

// SerializeTask renders one task block in the plan grammar.
func SerializeTask(t *types.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Task %d: %s\n", t.Number, t.Title)
	fmt.Fprintf(&b, "%s %s\n", metaStatus, t.Status)
	if t.Assignee != "" {
		fmt.Fprintf(&b, "%s %s\n", metaAssignee, t.Assignee)
	}
	if t.Estimate != "" {
		fmt.Fprintf(&b, "%s %s\n", metaEstimate, t.Estimate)
	}
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(&b, "%s %s\n", metaDependencies, strings.Join(t.Dependencies, ", "))
	}
	if len(t.Files) > 0 {
		b.WriteString(metaFiles)
		b.WriteString("\n")
		for _, f := range t.Files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
	}
	if t.Description != "" {
		b.WriteString(metaDescription)
		b.WriteString("\n")
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	return b.String()
}
