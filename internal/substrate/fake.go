package substrate

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fake is an in-memory substrate used to exercise the claim protocol and
// gate pipeline deterministically, including the two-phase consensus
// paths. It can serve stale reads and silently lose writes on demand,
// which the real store does on its own schedule.
type Fake struct {
	mu sync.Mutex

	issues   map[int]*Issue
	snapshot map[int]*Issue // stale view served while staleReads > 0

	branches      []string
	collaborators []string
	pulls         []*PullRequest
	comments      map[int][]string
	reviewers     map[int][]string

	staleReads        int
	loseNextAssignee  bool
	failNextAssignee  bool
	failNextBodyWrite bool

	readCount int
	readHooks map[int]func()
}

var _ Substrate = (*Fake)(nil)

// NewFake creates an empty fake substrate.
func NewFake() *Fake {
	return &Fake{
		issues:    make(map[int]*Issue),
		snapshot:  make(map[int]*Issue),
		comments:  make(map[int][]string),
		reviewers: make(map[int][]string),
		readHooks: make(map[int]func()),
	}
}

// SeedIssue installs an issue into the store.
func (f *Fake) SeedIssue(issue *Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues[issue.Number] = cloneIssue(issue)
}

// SetBranches sets the remote branch list.
func (f *Fake) SetBranches(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append([]string(nil), names...)
}

// SetCollaborators sets the collaborators with write access.
func (f *Fake) SetCollaborators(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collaborators = append([]string(nil), names...)
}

// ServeStaleReads makes the next n GetIssue calls return the state as it
// was when this method was called, simulating propagation delay.
func (f *Fake) ServeStaleReads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleReads = n
	f.snapshot = make(map[int]*Issue, len(f.issues))
	for num, issue := range f.issues {
		f.snapshot[num] = cloneIssue(issue)
	}
}

// LoseNextAssigneeWrite acknowledges the next AddAssignee call without
// applying it, simulating a lost write.
func (f *Fake) LoseNextAssigneeWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loseNextAssignee = true
}

// FailNextAssigneeWrite makes the next AddAssignee call return an error.
func (f *Fake) FailNextAssigneeWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNextAssignee = true
}

// FailNextBodyWrite makes the next UpdateIssueBody call return an error.
func (f *Fake) FailNextBodyWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNextBodyWrite = true
}

// RunBeforeRead schedules fn to run immediately before the n-th
// subsequent GetIssue call (1-based), so tests can land a rival's writes
// at an exact point inside a protocol run. fn may call back into the
// fake.
func (f *Fake) RunBeforeRead(n int, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readHooks[f.readCount+n] = fn
}

// Comments returns comments posted on an issue.
func (f *Fake) Comments(number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.comments[number]...)
}

// Pulls returns created pull requests.
func (f *Fake) Pulls() []*PullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*PullRequest(nil), f.pulls...)
}

// Reviewers returns reviewers requested for a pull request.
func (f *Fake) Reviewers(prNumber int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reviewers[prNumber]...)
}

// Issue returns the current (non-stale) state of an issue.
func (f *Fake) Issue(number int) *Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneIssue(f.issues[number])
}

func (f *Fake) GetIssue(_ context.Context, number int) (*Issue, error) {
	f.mu.Lock()
	f.readCount++
	hook := f.readHooks[f.readCount]
	delete(f.readHooks, f.readCount)
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.issues
	if f.staleReads > 0 {
		f.staleReads--
		src = f.snapshot
	}
	issue, ok := src[number]
	if !ok {
		return nil, wrapErr("get issue", fmt.Errorf("issue %d not found", number))
	}
	return cloneIssue(issue), nil
}

func (f *Fake) AddAssignee(_ context.Context, number int, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextAssignee {
		f.failNextAssignee = false
		return wrapErr("add assignee", fmt.Errorf("injected failure"))
	}
	if f.loseNextAssignee {
		f.loseNextAssignee = false
		return nil
	}
	issue, ok := f.issues[number]
	if !ok {
		return wrapErr("add assignee", fmt.Errorf("issue %d not found", number))
	}
	for _, a := range issue.Assignees {
		if a == user {
			return nil
		}
	}
	issue.Assignees = append(issue.Assignees, user)
	sort.Strings(issue.Assignees)
	return nil
}

func (f *Fake) RemoveAssignee(_ context.Context, number int, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return wrapErr("remove assignee", fmt.Errorf("issue %d not found", number))
	}
	out := issue.Assignees[:0]
	for _, a := range issue.Assignees {
		if a != user {
			out = append(out, a)
		}
	}
	issue.Assignees = out
	return nil
}

func (f *Fake) UpdateIssueBody(_ context.Context, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextBodyWrite {
		f.failNextBodyWrite = false
		return wrapErr("update issue body", fmt.Errorf("injected failure"))
	}
	issue, ok := f.issues[number]
	if !ok {
		return wrapErr("update issue body", fmt.Errorf("issue %d not found", number))
	}
	issue.Body = body
	return nil
}

func (f *Fake) PostComment(_ context.Context, number int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[number] = append(f.comments[number], text)
	return nil
}

func (f *Fake) AddLabel(_ context.Context, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return wrapErr("add label", fmt.Errorf("issue %d not found", number))
	}
	for _, l := range issue.Labels {
		if l == label {
			return nil
		}
	}
	issue.Labels = append(issue.Labels, label)
	return nil
}

func (f *Fake) RemoveLabel(_ context.Context, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return wrapErr("remove label", fmt.Errorf("issue %d not found", number))
	}
	out := issue.Labels[:0]
	for _, l := range issue.Labels {
		if l != label {
			out = append(out, l)
		}
	}
	issue.Labels = out
	return nil
}

func (f *Fake) CloseIssue(_ context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return wrapErr("close issue", fmt.Errorf("issue %d not found", number))
	}
	issue.State = "closed"
	return nil
}

func (f *Fake) ListRemoteBranches(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.branches...), nil
}

func (f *Fake) CreatePullRequest(_ context.Context, head, base, title, body string) (*PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr := &PullRequest{
		Number: len(f.pulls) + 1,
		URL:    fmt.Sprintf("https://example.invalid/pulls/%d", len(f.pulls)+1),
	}
	f.pulls = append(f.pulls, pr)
	return pr, nil
}

func (f *Fake) RequestReviewers(_ context.Context, prNumber int, users []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewers[prNumber] = append(f.reviewers[prNumber], users...)
	return nil
}

func (f *Fake) ListCollaborators(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.collaborators...), nil
}

func cloneIssue(issue *Issue) *Issue {
	if issue == nil {
		return nil
	}
	out := *issue
	out.Assignees = append([]string(nil), issue.Assignees...)
	out.Labels = append([]string(nil), issue.Labels...)
	return &out
}
