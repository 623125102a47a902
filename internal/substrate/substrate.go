// Package substrate abstracts the external REST issue tracker that serves
// as the only shared state between peer agents. The store offers no
// transactions, no compare-and-swap, and unspecified write-propagation
// latency; the claim protocol layered on top compensates procedurally.
package substrate

import (
	"context"
	"fmt"
)

// Issue is the shared mutable state: one issue's body and assignee list.
type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Assignees []string `json:"assignees"`
	Labels    []string `json:"labels,omitempty"`
	State     string   `json:"state,omitempty"`
}

// PullRequest identifies a created pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Substrate is the collaborator interface consumed by the coordination
// core. Merge-completion is observed as an externally delivered event, not
// polled through this interface.
type Substrate interface {
	GetIssue(ctx context.Context, number int) (*Issue, error)
	AddAssignee(ctx context.Context, number int, user string) error
	RemoveAssignee(ctx context.Context, number int, user string) error
	UpdateIssueBody(ctx context.Context, number int, body string) error
	PostComment(ctx context.Context, number int, text string) error
	AddLabel(ctx context.Context, number int, label string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	CloseIssue(ctx context.Context, number int) error

	ListRemoteBranches(ctx context.Context) ([]string, error)
	CreatePullRequest(ctx context.Context, head, base, title, body string) (*PullRequest, error)
	RequestReviewers(ctx context.Context, prNumber int, users []string) error
	ListCollaborators(ctx context.Context) ([]string, error)
}

// Error wraps a transport or API failure from the substrate. Callers
// recover from these locally (move on to another task) rather than
// treating them as fatal.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("substrate: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapErr tags an error with the substrate operation that produced it.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
