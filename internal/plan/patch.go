package plan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/planmux/planmux/internal/types"
)

// TaskPatch describes an in-place edit to a task block. Nil fields are
// left untouched. An Assignee pointing at the empty string removes the
// assignee line entirely.
type TaskPatch struct {
	Status   *types.Status
	Assignee *string
}

// UpdateTaskInBody applies a scoped text patch to the block of one task.
// Edits are strictly confined to the lines between the task's header and
// the block boundary (the next "### Task" header, the next "## " section
// header, or a "---" separator immediately followed by another task
// header); every byte outside that range is preserved unchanged.
func UpdateTaskInBody(body string, taskNumber int, patch TaskPatch) (string, error) {
	lines := strings.Split(body, "\n")

	headerPattern := regexp.MustCompile(fmt.Sprintf(`^###\s+Task\s+%d:`, taskNumber))
	start := -1
	for i, line := range lines {
		if headerPattern.MatchString(strings.TrimSpace(line)) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("task %d not found in plan body", taskNumber)
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if taskHeaderPattern.MatchString(trimmed) || strings.HasPrefix(trimmed, sectionHeaderPrefix) {
			end = i
			break
		}
		if trimmed == "---" && followedByTaskHeader(lines, i+1) {
			end = i
			break
		}
	}

	block := make([]string, end-start)
	copy(block, lines[start:end])

	if patch.Status != nil {
		block = setMetaLine(block, metaStatus, string(*patch.Status), false)
	}
	if patch.Assignee != nil {
		block = setMetaLine(block, metaAssignee, *patch.Assignee, *patch.Assignee == "")
	}

	out := make([]string, 0, len(lines)-(end-start)+len(block))
	out = append(out, lines[:start]...)
	out = append(out, block...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), nil
}

// followedByTaskHeader reports whether the next non-blank line is a task
// header.
func followedByTaskHeader(lines []string, from int) bool {
	for i := from; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		return taskHeaderPattern.MatchString(trimmed)
	}
	return false
}

// setMetaLine replaces the value of a metadata line within a task block,
// inserting the line after the header when absent, or removing it when
// remove is set. Bodies split on "\n" keep a trailing "\r" on CRLF lines;
// rewritten and inserted lines carry the same terminator so a CRLF body
// stays CRLF throughout.
func setMetaLine(block []string, prefix, value string, remove bool) []string {
	for i, line := range block {
		if !strings.HasPrefix(strings.TrimSpace(line), prefix) {
			continue
		}
		if remove {
			return append(block[:i:i], block[i+1:]...)
		}
		block[i] = fmt.Sprintf("%s %s%s", prefix, value, lineTerminator(line))
		return block
	}
	if remove {
		return block
	}

	// Insert after the status line if present, else right after the header.
	insertAt := 1
	for i, line := range block {
		if strings.HasPrefix(strings.TrimSpace(line), metaStatus) {
			insertAt = i + 1
			break
		}
	}
	if prefix == metaStatus {
		insertAt = 1
	}
	out := make([]string, 0, len(block)+1)
	out = append(out, block[:insertAt]...)
	out = append(out, fmt.Sprintf("%s %s%s", prefix, value, lineTerminator(block[insertAt-1])))
	out = append(out, block[insertAt:]...)
	return out
}

// lineTerminator returns "\r" when the line ends a CRLF pair, else "".
func lineTerminator(line string) string {
	if strings.HasSuffix(line, "\r") {
		return "\r"
	}
	return ""
}
