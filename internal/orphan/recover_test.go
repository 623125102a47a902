package orphan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planmux/planmux/internal/types"
)

func parserTask() *types.Task {
	return &types.Task{Number: 2, Title: "Implement the parser"}
}

func TestLocateBranch(t *testing.T) {
	tests := []struct {
		name     string
		branches []string
		want     string
		wantErr  error
	}{
		{
			name:     "canonical name wins",
			branches: []string{"main", "task/2-implement-the-parser", "planmux/task-2"},
			want:     "task/2-implement-the-parser",
		},
		{
			name:     "legacy name as fallback",
			branches: []string{"main", "planmux/task-2"},
			want:     "planmux/task-2",
		},
		{
			name:     "unique prefix match",
			branches: []string{"main", "task/2-parser-v2"},
			want:     "task/2-parser-v2",
		},
		{
			name:     "prefix must not match other task numbers",
			branches: []string{"main", "task/21-unrelated"},
			wantErr:  ErrBranchNotFound,
		},
		{
			name:     "no branch at all",
			branches: []string{"main", "task/3-other"},
			wantErr:  ErrBranchNotFound,
		},
		{
			name:     "ambiguous prefix never auto-recovered",
			branches: []string{"task/2-first-attempt", "task/2-second-attempt"},
			wantErr:  ErrAmbiguousBranch,
		},
		{
			name:     "canonical beats ambiguous prefix set",
			branches: []string{"task/2-old-try", "task/2-implement-the-parser"},
			want:     "task/2-implement-the-parser",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LocateBranch(parserTask(), tt.branches)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// fakeRepo scripts RepoOps for recovery tests.
type fakeRepo struct {
	branches   []string
	checkedOut string
}

func (f *fakeRepo) RemoteBranches(context.Context, string) ([]string, error) {
	return f.branches, nil
}

func (f *fakeRepo) Checkout(_ context.Context, branch string) error {
	f.checkedOut = branch
	return nil
}

func TestRecover(t *testing.T) {
	repo := &fakeRepo{branches: []string{"main", "task/2-implement-the-parser"}}
	var clonedURL, clonedDir string

	r := &Recoverer{
		CloneURL: "https://example.invalid/owner/repo.git",
		Remote:   "origin",
		Clone: func(_ context.Context, url, dir string) (RepoOps, error) {
			clonedURL, clonedDir = url, dir
			return repo, nil
		},
	}

	got, branch, err := r.Recover(context.Background(), parserTask(), "/tmp/recover")
	require.NoError(t, err)
	assert.Same(t, repo, got.(*fakeRepo))
	assert.Equal(t, "task/2-implement-the-parser", branch)
	assert.Equal(t, "task/2-implement-the-parser", repo.checkedOut)
	assert.Equal(t, "https://example.invalid/owner/repo.git", clonedURL)
	assert.Equal(t, "/tmp/recover", clonedDir)
}

func TestRecoverCloneFailure(t *testing.T) {
	r := &Recoverer{
		CloneURL: "https://example.invalid/owner/repo.git",
		Remote:   "origin",
		Clone: func(context.Context, string, string) (RepoOps, error) {
			return nil, errors.New("network down")
		},
	}
	_, _, err := r.Recover(context.Background(), parserTask(), "/tmp/x")
	assert.ErrorContains(t, err, "recovery clone failed")
}

func TestRecoverAmbiguousBranchAborts(t *testing.T) {
	repo := &fakeRepo{branches: []string{"task/2-try-one", "task/2-try-two"}}
	r := &Recoverer{
		Remote: "origin",
		Clone: func(context.Context, string, string) (RepoOps, error) {
			return repo, nil
		},
	}
	_, _, err := r.Recover(context.Background(), parserTask(), "/tmp/x")
	require.ErrorIs(t, err, ErrAmbiguousBranch)
	assert.Empty(t, repo.checkedOut, "nothing is checked out on ambiguity")
}
