package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planmux/planmux/internal/plan"
	"github.com/planmux/planmux/internal/substrate"
	"github.com/planmux/planmux/internal/types"
)

func runWatcher(t *testing.T, w *Watcher, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := w.Watch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatcherDrainsExistingEvents(t *testing.T) {
	fake := substrate.NewFake()
	seedIssue(fake, twoTaskBody)
	r, _ := newReporter(fake)

	dir := filepath.Join(t.TempDir(), "events")
	require.NoError(t, os.MkdirAll(dir, 0755))

	// Delivered while no watcher was running.
	event := `{"type":"pr_merged","task":2,"branch":"task/2-parser","pr":41}`
	path := filepath.Join(dir, "evt-1.json")
	require.NoError(t, os.WriteFile(path, []byte(event), 0644))

	runWatcher(t, &Watcher{Reporter: r, Dir: dir}, 300*time.Millisecond)

	p, ok := plan.Parse(fake.Issue(7).Body, "[PLAN] t")
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, p.Task(2).Status)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "handled events are removed")
}

func TestWatcherPicksUpNewEvents(t *testing.T) {
	fake := substrate.NewFake()
	seedIssue(fake, twoTaskBody)
	r, _ := newReporter(fake)

	dir := filepath.Join(t.TempDir(), "events")
	w := &Watcher{Reporter: r, Dir: dir}

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		defer close(done)
		_ = w.Watch(ctx)
	}()

	// Give the watcher time to register before delivering.
	time.Sleep(200 * time.Millisecond)
	event := `{"type":"pr_merged","task":2,"branch":"task/2-parser","pr":41}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "evt-2.json"), []byte(event), 0644))

	require.Eventually(t, func() bool {
		p, ok := plan.Parse(fake.Issue(7).Body, "[PLAN] t")
		return ok && p.Task(2).Status == types.StatusCompleted
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestWatcherIgnoresIrrelevantFiles(t *testing.T) {
	fake := substrate.NewFake()
	seedIssue(fake, twoTaskBody)
	r, _ := newReporter(fake)

	dir := filepath.Join(t.TempDir(), "events")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an event"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "opened.json"),
		[]byte(`{"type":"pr_opened","task":2}`), 0644))

	runWatcher(t, &Watcher{Reporter: r, Dir: dir}, 300*time.Millisecond)

	p, ok := plan.Parse(fake.Issue(7).Body, "[PLAN] t")
	require.True(t, ok)
	assert.Equal(t, types.StatusInProgress, p.Task(2).Status, "only pr_merged events transition tasks")
}

func TestWatcherMalformedEventKept(t *testing.T) {
	fake := substrate.NewFake()
	seedIssue(fake, twoTaskBody)
	r, _ := newReporter(fake)

	dir := filepath.Join(t.TempDir(), "events")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	runWatcher(t, &Watcher{Reporter: r, Dir: dir}, 300*time.Millisecond)

	_, err := os.Stat(path)
	assert.NoError(t, err, "malformed events stay on disk for inspection")
}
