package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/planmux/planmux/internal/substrate"
)

const substrateScopeName = "github.com/planmux/planmux/substrate"

// InstrumentedSubstrate wraps a Substrate so every operation is counted
// and timed under pmx.substrate.* metrics. Use WrapSubstrate to create
// one; it returns the original unchanged when telemetry is disabled.
type InstrumentedSubstrate struct {
	inner substrate.Substrate
	ops   metric.Int64Counter
	dur   metric.Float64Histogram
	errs  metric.Int64Counter
}

// WrapSubstrate returns s decorated with OTel instrumentation.
func WrapSubstrate(s substrate.Substrate) substrate.Substrate {
	if !Enabled() {
		return s
	}
	m := Meter(substrateScopeName)
	ops, _ := m.Int64Counter("pmx.substrate.operations",
		metric.WithDescription("Total substrate operations executed"),
	)
	dur, _ := m.Float64Histogram("pmx.substrate.operation.duration",
		metric.WithDescription("Substrate operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("pmx.substrate.errors",
		metric.WithDescription("Substrate operations that returned an error"),
	)
	return &InstrumentedSubstrate{inner: s, ops: ops, dur: dur, errs: errs}
}

// record tracks one operation's outcome.
func (i *InstrumentedSubstrate) record(ctx context.Context, op string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	i.ops.Add(ctx, 1, attrs)
	i.dur.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		i.errs.Add(ctx, 1, attrs)
	}
}

func (i *InstrumentedSubstrate) GetIssue(ctx context.Context, number int) (*substrate.Issue, error) {
	start := time.Now()
	issue, err := i.inner.GetIssue(ctx, number)
	i.record(ctx, "get_issue", start, err)
	return issue, err
}

func (i *InstrumentedSubstrate) AddAssignee(ctx context.Context, number int, user string) error {
	start := time.Now()
	err := i.inner.AddAssignee(ctx, number, user)
	i.record(ctx, "add_assignee", start, err)
	return err
}

func (i *InstrumentedSubstrate) RemoveAssignee(ctx context.Context, number int, user string) error {
	start := time.Now()
	err := i.inner.RemoveAssignee(ctx, number, user)
	i.record(ctx, "remove_assignee", start, err)
	return err
}

func (i *InstrumentedSubstrate) UpdateIssueBody(ctx context.Context, number int, body string) error {
	start := time.Now()
	err := i.inner.UpdateIssueBody(ctx, number, body)
	i.record(ctx, "update_issue_body", start, err)
	return err
}

func (i *InstrumentedSubstrate) PostComment(ctx context.Context, number int, text string) error {
	start := time.Now()
	err := i.inner.PostComment(ctx, number, text)
	i.record(ctx, "post_comment", start, err)
	return err
}

func (i *InstrumentedSubstrate) AddLabel(ctx context.Context, number int, label string) error {
	start := time.Now()
	err := i.inner.AddLabel(ctx, number, label)
	i.record(ctx, "add_label", start, err)
	return err
}

func (i *InstrumentedSubstrate) RemoveLabel(ctx context.Context, number int, label string) error {
	start := time.Now()
	err := i.inner.RemoveLabel(ctx, number, label)
	i.record(ctx, "remove_label", start, err)
	return err
}

func (i *InstrumentedSubstrate) CloseIssue(ctx context.Context, number int) error {
	start := time.Now()
	err := i.inner.CloseIssue(ctx, number)
	i.record(ctx, "close_issue", start, err)
	return err
}

func (i *InstrumentedSubstrate) ListRemoteBranches(ctx context.Context) ([]string, error) {
	start := time.Now()
	branches, err := i.inner.ListRemoteBranches(ctx)
	i.record(ctx, "list_remote_branches", start, err)
	return branches, err
}

func (i *InstrumentedSubstrate) CreatePullRequest(ctx context.Context, head, base, title, body string) (*substrate.PullRequest, error) {
	start := time.Now()
	pr, err := i.inner.CreatePullRequest(ctx, head, base, title, body)
	i.record(ctx, "create_pull_request", start, err)
	return pr, err
}

func (i *InstrumentedSubstrate) RequestReviewers(ctx context.Context, prNumber int, users []string) error {
	start := time.Now()
	err := i.inner.RequestReviewers(ctx, prNumber, users)
	i.record(ctx, "request_reviewers", start, err)
	return err
}

func (i *InstrumentedSubstrate) ListCollaborators(ctx context.Context) ([]string, error) {
	start := time.Now()
	users, err := i.inner.ListCollaborators(ctx)
	i.record(ctx, "list_collaborators", start, err)
	return users, err
}
