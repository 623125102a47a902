package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Implement the parser", "implement-the-parser"},
		{"Fix bug #42 (urgent!)", "fix-bug-42-urgent"},
		{"  spaces  everywhere  ", "spaces-everywhere"},
		{"ALLCAPS", "allcaps"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in))
	}

	long := Slug(strings.Repeat("very long title ", 10))
	assert.LessOrEqual(t, len(long), 40)
	assert.False(t, strings.HasSuffix(long, "-"), "slug should not end with a dash after truncation")
}

func TestBranchNames(t *testing.T) {
	task := &Task{Number: 3, Title: "Implement the Parser"}

	assert.Equal(t, "task/3-implement-the-parser", task.BranchName())
	assert.Equal(t, "planmux/task-3", task.LegacyBranchName())
	assert.Equal(t, "task/3-", task.BranchPrefix())
	assert.True(t, strings.HasPrefix(task.BranchName(), task.BranchPrefix()))
}
