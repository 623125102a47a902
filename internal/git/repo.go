// Package git wraps the git commands the gate pipeline and orphan
// recovery need. All operations shell out to the git binary.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Repo is a handle on one working tree.
type Repo struct {
	Dir string
}

// Open returns a handle for the working tree at dir.
func Open(dir string) *Repo {
	return &Repo{Dir: dir}
}

// Clone clones url into dir and returns a handle on the result.
func Clone(ctx context.Context, url, dir string) (*Repo, error) {
	cmd := exec.CommandContext(ctx, "git", "clone", url, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return &Repo{Dir: dir}, nil
}

// run executes a git command in the repo directory.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(ee.Stderr))
		}
		return "", fmt.Errorf("git %s failed: %w: %s", args[0], err, stderr)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return out, nil
}

// CommitsAhead counts commits on HEAD that are not on base.
func (r *Repo) CommitsAhead(ctx context.Context, base string) (int, error) {
	out, err := r.run(ctx, "rev-list", "--count", base+"..HEAD")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("unexpected rev-list output %q: %w", out, err)
	}
	return n, nil
}

// HasDiff reports whether HEAD differs from base.
func (r *Repo) HasDiff(ctx context.Context, base string) (bool, error) {
	out, err := r.run(ctx, "diff", "--stat", base+"...HEAD")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Push publishes branch to the named remote.
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, "push", "-u", remote, branch)
	return err
}

// DeleteRemoteBranch removes branch from the named remote.
func (r *Repo) DeleteRemoteBranch(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, "push", remote, "--delete", branch)
	return err
}

// Checkout switches the working tree to branch, creating a local tracking
// branch when only the remote ref exists.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "checkout", branch)
	return err
}

// RemoteBranches lists branch names known on the remote-tracking refs.
func (r *Repo) RemoteBranches(ctx context.Context, remote string) ([]string, error) {
	out, err := r.run(ctx, "branch", "-r", "--format", "%(refname:short)")
	if err != nil {
		return nil, err
	}
	prefix := remote + "/"
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "HEAD") {
			continue
		}
		names = append(names, strings.TrimPrefix(line, prefix))
	}
	return names, nil
}

// GitDir returns the actual .git directory path for the working tree.
// In a worktree, .git is a file pointing at the real directory, so this
// uses rev-parse rather than joining ".git" onto the path.
func (r *Repo) GitDir(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return out, nil
}
