package types

import (
	"fmt"
	"regexp"
	"strings"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a task title into a branch-safe fragment.
func Slug(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugUnsafe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	const maxLen = 40
	if len(s) > maxLen {
		s = strings.Trim(s[:maxLen], "-")
	}
	return s
}

// BranchName returns the task's canonical feature branch name.
func (t *Task) BranchName() string {
	return fmt.Sprintf("task/%d-%s", t.Number, Slug(t.Title))
}

// LegacyBranchName returns the naming scheme used before branches carried
// title slugs. Orphan recovery still recognizes it.
func (t *Task) LegacyBranchName() string {
	return fmt.Sprintf("planmux/task-%d", t.Number)
}

// BranchPrefix returns the prefix shared by every branch ever generated
// for this task number under the canonical scheme.
func (t *Task) BranchPrefix() string {
	return fmt.Sprintf("task/%d-", t.Number)
}
