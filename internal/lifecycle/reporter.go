// Package lifecycle reports task state transitions back to the shared
// plan issue and finalizes completion. A task with an open, unmerged PR
// stays in_progress; completion is an externally observed merge event,
// never something inferred from gate success.
package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/planmux/planmux/internal/debug"
	"github.com/planmux/planmux/internal/plan"
	"github.com/planmux/planmux/internal/substrate"
	"github.com/planmux/planmux/internal/types"
)

// BranchDeleter deletes a published feature branch after merge.
// *git.Repo satisfies it.
type BranchDeleter interface {
	DeleteRemoteBranch(ctx context.Context, remote, branch string) error
}

// Reporter applies lifecycle transitions for one agent on one plan issue.
type Reporter struct {
	Sub    substrate.Substrate
	Git    BranchDeleter
	Self   string
	Issue  int
	Remote string

	// ActiveLabel/CompleteLabel are swapped when the plan finishes.
	ActiveLabel   string
	CompleteLabel string
}

// MergeEvent is the externally delivered notification that a task's pull
// request merged.
type MergeEvent struct {
	Task   int    `json:"task"`
	Branch string `json:"branch"`
	PR     int    `json:"pr"`
}

// MarkInProgress records that work on a claimed task has started.
func (r *Reporter) MarkInProgress(ctx context.Context, taskNum int) error {
	status := types.StatusInProgress
	return r.patchTask(ctx, taskNum, plan.TaskPatch{Status: &status})
}

// OnMerge finalizes a task after its PR merged: delete the feature
// branch, mark the task completed with the assignee cleared, and if every
// task in the plan is now completed, finalize the plan itself.
func (r *Reporter) OnMerge(ctx context.Context, ev MergeEvent) error {
	if r.Git != nil && ev.Branch != "" {
		if err := r.Git.DeleteRemoteBranch(ctx, r.Remote, ev.Branch); err != nil {
			debug.Logf("lifecycle: could not delete merged branch %s: %v\n", ev.Branch, err)
		}
	}

	status := types.StatusCompleted
	empty := ""
	if err := r.patchTask(ctx, ev.Task, plan.TaskPatch{Status: &status, Assignee: &empty}); err != nil {
		return fmt.Errorf("failed to mark task %d completed: %w", ev.Task, err)
	}
	if err := r.Sub.RemoveAssignee(ctx, r.Issue, r.Self); err != nil {
		debug.Logf("lifecycle: could not remove assignee after merge of task %d: %v\n", ev.Task, err)
	}
	debug.LogEvent("TASK_DONE", fmt.Sprintf("issue-%d/task-%d", r.Issue, ev.Task), fmt.Sprintf("pr-%d", ev.PR))

	// Re-read the settled body before deciding the plan is finished.
	issue, err := r.Sub.GetIssue(ctx, r.Issue)
	if err != nil {
		return err
	}
	p, ok := plan.Parse(issue.Body, issue.Title)
	if !ok {
		return fmt.Errorf("issue %d does not carry a plan marker", r.Issue)
	}
	if p.Status() != types.PlanComplete {
		return nil
	}
	return r.completePlan(ctx, p)
}

// completePlan posts the completion summary and quality-review checklist,
// swaps the active label for complete, and closes the issue.
func (r *Reporter) completePlan(ctx context.Context, p *types.Plan) error {
	if err := r.Sub.PostComment(ctx, r.Issue, completionComment(p)); err != nil {
		return err
	}
	if r.ActiveLabel != "" {
		if err := r.Sub.RemoveLabel(ctx, r.Issue, r.ActiveLabel); err != nil {
			debug.Logf("lifecycle: could not remove label %s: %v\n", r.ActiveLabel, err)
		}
	}
	if r.CompleteLabel != "" {
		if err := r.Sub.AddLabel(ctx, r.Issue, r.CompleteLabel); err != nil {
			debug.Logf("lifecycle: could not add label %s: %v\n", r.CompleteLabel, err)
		}
	}
	if err := r.Sub.CloseIssue(ctx, r.Issue); err != nil {
		return err
	}
	debug.LogEvent("PLAN_DONE", fmt.Sprintf("issue-%d", r.Issue), fmt.Sprintf("%d tasks", len(p.Tasks)))
	return nil
}

// completionComment renders the plan completion summary plus the
// quality-review checklist.
func completionComment(p *types.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 **Plan complete**: all %d tasks merged.\n\n", len(p.Tasks))
	for _, t := range p.Tasks {
		fmt.Fprintf(&b, "- [x] Task %d: %s\n", t.Number, t.Title)
	}
	b.WriteString("\nQuality review checklist:\n")
	b.WriteString("- [ ] Every merged diff was reviewed by at least one peer\n")
	b.WriteString("- [ ] Test suite passes on the base branch\n")
	b.WriteString("- [ ] Documentation reflects the new behavior\n")
	b.WriteString("- [ ] No feature branches left behind on the remote\n")
	return b.String()
}

// ReportTaskBlocked transitions a task to blocked, releases the assignee,
// and posts a structured reason. A blocked task is claimable again, so
// any peer (including a later attempt by this agent) may retry it.
func (r *Reporter) ReportTaskBlocked(ctx context.Context, taskNum int, reason string) error {
	return r.reportStalled(ctx, taskNum, reason, "blocked")
}

// ReportTaskFailed reports an execution failure. Failed is not terminal
// at the plan level: the task returns to the blocked (claimable) state.
func (r *Reporter) ReportTaskFailed(ctx context.Context, taskNum int, reason string) error {
	return r.reportStalled(ctx, taskNum, reason, "failed")
}

func (r *Reporter) reportStalled(ctx context.Context, taskNum int, reason, kind string) error {
	status := types.StatusBlocked
	empty := ""
	if err := r.patchTask(ctx, taskNum, plan.TaskPatch{Status: &status, Assignee: &empty}); err != nil {
		return fmt.Errorf("failed to mark task %d blocked: %w", taskNum, err)
	}
	if err := r.Sub.RemoveAssignee(ctx, r.Issue, r.Self); err != nil {
		debug.Logf("lifecycle: could not release assignee on task %d: %v\n", taskNum, err)
	}
	comment := fmt.Sprintf("🚧 **Task %d %s** (agent `%s`)\n\n%s\n\nThe task is claimable again.", taskNum, kind, r.Self, reason)
	if err := r.Sub.PostComment(ctx, r.Issue, comment); err != nil {
		return err
	}
	debug.LogEvent("GATE_FAIL", fmt.Sprintf("issue-%d/task-%d", r.Issue, taskNum), kind)
	return nil
}

// patchTask applies a scoped body patch against a freshly fetched body,
// never a cached copy.
func (r *Reporter) patchTask(ctx context.Context, taskNum int, patch plan.TaskPatch) error {
	issue, err := r.Sub.GetIssue(ctx, r.Issue)
	if err != nil {
		return err
	}
	newBody, err := plan.UpdateTaskInBody(issue.Body, taskNum, patch)
	if err != nil {
		return err
	}
	return r.Sub.UpdateIssueBody(ctx, r.Issue, newBody)
}
