// Package orphan recovers tasks whose feature branch was pushed but whose
// pull request creation failed (crash or partition between Gate 3 and PR
// creation). Recovery re-clones, locates the branch, checks it out, and
// lets the caller resume at PR creation.
package orphan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/planmux/planmux/internal/debug"
	"github.com/planmux/planmux/internal/types"
)

// ErrAmbiguousBranch means multiple remote branches share the task's
// prefix; an ambiguous match is never auto-recovered.
var ErrAmbiguousBranch = errors.New("multiple candidate branches match task prefix")

// ErrBranchNotFound means no remote branch matched any naming scheme.
var ErrBranchNotFound = errors.New("no remote branch found for task")

// RepoOps is the slice of git behavior recovery needs. *git.Repo
// satisfies it.
type RepoOps interface {
	RemoteBranches(ctx context.Context, remote string) ([]string, error)
	Checkout(ctx context.Context, branch string) error
}

// CloneFunc produces a fresh working tree for recovery.
type CloneFunc func(ctx context.Context, url, dir string) (RepoOps, error)

// Recoverer re-clones the repository and locates orphaned branches.
type Recoverer struct {
	CloneURL string
	Remote   string
	Clone    CloneFunc
}

// Recover re-clones into dir, finds the task's pushed branch, and checks
// it out. It returns the repo handle and the branch name so the caller
// can resume at PR creation.
func (r *Recoverer) Recover(ctx context.Context, task *types.Task, dir string) (RepoOps, string, error) {
	repo, err := r.Clone(ctx, r.CloneURL, dir)
	if err != nil {
		return nil, "", fmt.Errorf("recovery clone failed: %w", err)
	}

	branches, err := repo.RemoteBranches(ctx, r.Remote)
	if err != nil {
		return nil, "", err
	}

	branch, err := LocateBranch(task, branches)
	if err != nil {
		return nil, "", err
	}

	if err := repo.Checkout(ctx, branch); err != nil {
		return nil, "", fmt.Errorf("could not check out recovered branch %s: %w", branch, err)
	}
	debug.LogEvent("ORPHAN_RECOVERED", fmt.Sprintf("task-%d", task.Number), branch)
	return repo, branch, nil
}

// LocateBranch finds the task's branch among remote branch names: the
// canonical naming scheme first, then the legacy scheme, then a unique
// prefix match on the task number. Two or more prefix candidates are
// ambiguous and never auto-recovered.
func LocateBranch(task *types.Task, branches []string) (string, error) {
	canonical := task.BranchName()
	legacy := task.LegacyBranchName()
	for _, b := range branches {
		if b == canonical {
			return b, nil
		}
	}
	for _, b := range branches {
		if b == legacy {
			return b, nil
		}
	}

	prefix := task.BranchPrefix()
	var candidates []string
	for _, b := range branches {
		if strings.HasPrefix(b, prefix) {
			candidates = append(candidates, b)
		}
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return "", fmt.Errorf("%w: task %d", ErrBranchNotFound, task.Number)
	default:
		return "", fmt.Errorf("%w: task %d matches %v", ErrAmbiguousBranch, task.Number, candidates)
	}
}
