package gate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/planmux/planmux/internal/debug"
	"github.com/planmux/planmux/internal/peers"
	"github.com/planmux/planmux/internal/substrate"
	"github.com/planmux/planmux/internal/types"
)

// SelectReviewers picks reviewers for a task's pull request: the peer
// registry first, falling back to repository collaborators with write
// access. Collaborators discovered through the fallback are registered as
// peers for future reuse. The result excludes self and is capped.
func SelectReviewers(ctx context.Context, sub substrate.Substrate, reg *peers.Registry, self string, limit int) ([]string, error) {
	candidates := reg.List()
	if len(candidates) == 0 {
		collaborators, err := sub.ListCollaborators(ctx)
		if err != nil {
			return nil, err
		}
		if err := reg.Add(collaborators...); err != nil {
			debug.Logf("gate: could not persist discovered peers: %v\n", err)
		}
		candidates = collaborators
	}

	var out []string
	for _, c := range candidates {
		if c == self {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// OpenPullRequest creates the pull request for a task whose pipeline
// passed every gate, and requests reviewers. Reviewer selection runs
// concurrently with PR creation; a reviewer-request failure is reported
// but does not undo the PR.
func OpenPullRequest(ctx context.Context, sub substrate.Substrate, reg *peers.Registry, task *types.Task, branch, base, self string, reviewerCap int) (*substrate.PullRequest, error) {
	title := fmt.Sprintf("Task %d: %s", task.Number, task.Title)
	body := prBody(task, self)

	var pr *substrate.PullRequest
	var reviewers []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		created, err := sub.CreatePullRequest(gctx, branch, base, title, body)
		if err != nil {
			return err
		}
		pr = created
		return nil
	})
	g.Go(func() error {
		selected, err := SelectReviewers(gctx, sub, reg, self, reviewerCap)
		if err != nil {
			// Review coverage is best-effort; the PR itself is not.
			debug.Logf("gate: reviewer selection failed: %v\n", err)
			return nil
		}
		reviewers = selected
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(reviewers) > 0 {
		if err := sub.RequestReviewers(ctx, pr.Number, reviewers); err != nil {
			debug.Logf("gate: requesting reviewers on PR #%d failed: %v\n", pr.Number, err)
		}
	}
	return pr, nil
}

// prBody renders the pull request description for a task.
func prBody(task *types.Task, self string) string {
	body := fmt.Sprintf("Implements **Task %d: %s**.\n\n%s\n\n_Opened by agent `%s`._",
		task.Number, task.Title, task.Description, self)
	return body
}
