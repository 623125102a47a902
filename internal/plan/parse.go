// Package plan converts markdown issue bodies to and from the structured
// Plan/Task model. The grammar is deliberately narrow and fully controlled
// by planmux itself, so parsing is a line-oriented state machine rather
// than a general markdown library; that keeps it round-trip safe.
package plan

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/planmux/planmux/internal/types"
)

// Marker is the explicit plan marker required in the issue title or body.
const Marker = "[PLAN]"

// section is the top-level parse state, driven by "## " header lines.
type section int

const (
	sectionNone section = iota
	sectionGoal
	sectionContext
	sectionTasks
	sectionVerification
)

var (
	taskHeaderPattern   = regexp.MustCompile(`^###\s+Task\s+(\d+):\s*(.*)$`)
	filesBulletPattern  = regexp.MustCompile("`([^`]+)`")
	verifyItemPattern   = regexp.MustCompile(`^- \[([ xX])\]\s?(.*)$`)
	sectionHeaderPrefix = "## "
)

// metadata line prefixes recognized inside a task block.
const (
	metaStatus       = "**Status:**"
	metaAssignee     = "**Assignee:**"
	metaEstimate     = "**Estimate:**"
	metaDependencies = "**Dependencies:**"
	metaFiles        = "**Files:**"
	metaDescription  = "**Description:**"
)

// taskParse accumulates the in-progress state for one task block.
type taskParse struct {
	task      *types.Task
	rawDeps   string
	descLines []string
	inFiles   bool
}

// Parse converts an issue body into a Plan. Returns nil, false unless the
// title or body carries the explicit plan marker. The parser never drops
// content: unrecognized lines inside a task accumulate into its description.
func Parse(body, title string) (*types.Plan, bool) {
	if !strings.Contains(title, Marker) && !strings.Contains(body, Marker) {
		return nil, false
	}

	p := &types.Plan{
		Title: strings.TrimSpace(strings.ReplaceAll(title, Marker, "")),
	}

	sec := sectionNone
	var goalLines, contextLines []string
	var cur *taskParse
	rawDeps := make(map[int]string)

	closeTask := func() {
		if cur == nil {
			return
		}
		cur.task.Description = strings.TrimSpace(strings.Join(cur.descLines, "\n"))
		if cur.rawDeps != "" {
			rawDeps[cur.task.Number] = cur.rawDeps
		}
		p.Tasks = append(p.Tasks, cur.task)
		cur = nil
	}

	for _, rawLine := range strings.Split(body, "\n") {
		line := strings.TrimRight(rawLine, " \t\r")
		trimmed := strings.TrimSpace(line)

		// Section headers switch the top-level state anywhere.
		if strings.HasPrefix(trimmed, sectionHeaderPrefix) {
			closeTask()
			switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, sectionHeaderPrefix))) {
			case "goal":
				sec = sectionGoal
			case "context":
				sec = sectionContext
			case "tasks":
				sec = sectionTasks
			case "verification":
				sec = sectionVerification
			default:
				sec = sectionNone
			}
			continue
		}

		switch sec {
		case sectionGoal:
			goalLines = append(goalLines, line)

		case sectionContext:
			contextLines = append(contextLines, line)

		case sectionTasks:
			if m := taskHeaderPattern.FindStringSubmatch(trimmed); m != nil {
				closeTask()
				num, _ := strconv.Atoi(m[1])
				cur = &taskParse{task: &types.Task{
					Number: num,
					Title:  strings.TrimSpace(m[2]),
					Status: types.StatusPending,
				}}
				continue
			}
			if cur == nil {
				continue
			}
			if trimmed == "---" {
				closeTask()
				continue
			}
			parseTaskLine(cur, trimmed, line)

		case sectionVerification:
			if m := verifyItemPattern.FindStringSubmatch(trimmed); m != nil {
				p.Verification = append(p.Verification, types.ChecklistItem{
					Checked: m[1] == "x" || m[1] == "X",
					Text:    strings.TrimSpace(m[2]),
				})
			}
		}
	}
	closeTask()

	p.Goal = strings.TrimSpace(strings.Join(goalLines, "\n"))
	p.Context = strings.TrimSpace(strings.Join(contextLines, "\n"))

	resolveDependencies(p, rawDeps)

	return p, true
}

// parseTaskLine handles one line inside a task block.
func parseTaskLine(cur *taskParse, trimmed, line string) {
	switch {
	case strings.HasPrefix(trimmed, metaStatus):
		cur.inFiles = false
		val := types.Status(strings.ToLower(metaValue(trimmed, metaStatus)))
		if val.IsValid() {
			cur.task.Status = val
		}

	case strings.HasPrefix(trimmed, metaAssignee):
		cur.inFiles = false
		cur.task.Assignee = strings.TrimPrefix(metaValue(trimmed, metaAssignee), "@")

	case strings.HasPrefix(trimmed, metaEstimate):
		cur.inFiles = false
		cur.task.Estimate = metaValue(trimmed, metaEstimate)

	case strings.HasPrefix(trimmed, metaDependencies):
		cur.inFiles = false
		cur.rawDeps = metaValue(trimmed, metaDependencies)

	case strings.HasPrefix(trimmed, metaFiles):
		cur.inFiles = true
		// An inline value on the Files line itself is kept too.
		if rest := metaValue(trimmed, metaFiles); rest != "" {
			if m := filesBulletPattern.FindStringSubmatch(rest); m != nil {
				cur.task.Files = append(cur.task.Files, m[1])
			} else {
				cur.task.Files = append(cur.task.Files, rest)
			}
		}

	case strings.HasPrefix(trimmed, metaDescription):
		cur.inFiles = false
		if rest := metaValue(trimmed, metaDescription); rest != "" {
			cur.descLines = append(cur.descLines, rest)
		}

	case cur.inFiles && strings.HasPrefix(trimmed, "- "):
		if m := filesBulletPattern.FindStringSubmatch(trimmed); m != nil {
			cur.task.Files = append(cur.task.Files, m[1])
		} else {
			cur.task.Files = append(cur.task.Files, strings.TrimSpace(strings.TrimPrefix(trimmed, "- ")))
		}

	default:
		// Unrecognized lines accumulate into the description so no
		// content is lost on a parse/serialize round trip.
		cur.inFiles = false
		if trimmed != "" || len(cur.descLines) > 0 {
			cur.descLines = append(cur.descLines, line)
		}
	}
}

// metaValue strips a metadata prefix and surrounding whitespace.
func metaValue(line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, prefix))
}
