package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planmux/planmux/internal/peers"
	"github.com/planmux/planmux/internal/substrate"
)

func TestSelectReviewersFromRegistry(t *testing.T) {
	reg, err := peers.Load(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.Add("agent-a", "agent-b", "agent-c"))

	sub := substrate.NewFake()
	reviewers, err := SelectReviewers(context.Background(), sub, reg, "agent-b", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a", "agent-c"}, reviewers, "self is excluded")
}

func TestSelectReviewersCap(t *testing.T) {
	reg, err := peers.Load(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.Add("a", "b", "c", "d", "e"))

	reviewers, err := SelectReviewers(context.Background(), substrate.NewFake(), reg, "self", 2)
	require.NoError(t, err)
	assert.Len(t, reviewers, 2)
}

func TestSelectReviewersCollaboratorFallback(t *testing.T) {
	ws := t.TempDir()
	reg, err := peers.Load(ws)
	require.NoError(t, err)

	sub := substrate.NewFake()
	sub.SetCollaborators("maintainer", "agent-a")

	reviewers, err := SelectReviewers(context.Background(), sub, reg, "agent-a", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"maintainer"}, reviewers)

	// The discovered collaborators persist for the next PR.
	reloaded, err := peers.Load(ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a", "maintainer"}, reloaded.List())
}

func TestOpenPullRequest(t *testing.T) {
	reg, err := peers.Load(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.Add("agent-b", "agent-c"))

	sub := substrate.NewFake()
	task := testTask()

	pr, err := OpenPullRequest(context.Background(), sub, reg, task, task.BranchName(), "main", "agent-a", 3)
	require.NoError(t, err)
	require.NotNil(t, pr)

	pulls := sub.Pulls()
	require.Len(t, pulls, 1)
	assert.Equal(t, pr.Number, pulls[0].Number)
	assert.ElementsMatch(t, []string{"agent-b", "agent-c"}, sub.Reviewers(pr.Number))
}
