package lifecycle

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/planmux/planmux/internal/debug"
)

// Watcher turns externally delivered merge notifications into reporter
// calls. Notifications arrive as JSON files dropped into
// <workspace>/.planmux/events/ (typically by a webhook receiver); this
// core never polls the substrate for merge state.
type Watcher struct {
	Reporter *Reporter
	Dir      string
}

// eventFile is the on-disk shape of a delivered event.
type eventFile struct {
	Type   string `json:"type"`
	Task   int    `json:"task"`
	Branch string `json:"branch"`
	PR     int    `json:"pr"`
}

// Watch processes merge events until the context is cancelled. Events
// already present in the directory are drained first so a restart does
// not lose notifications delivered while the watcher was down.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.Dir); err != nil {
		return err
	}

	w.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.process(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			debug.Logf("lifecycle: watcher error: %v\n", err)
		}
	}
}

// drain processes any event files already on disk.
func (w *Watcher) drain(ctx context.Context) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.process(ctx, filepath.Join(w.Dir, e.Name()))
	}
}

// process handles one event file and removes it once handled.
func (w *Watcher) process(ctx context.Context, path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var ev eventFile
	if err := json.Unmarshal(data, &ev); err != nil {
		debug.Logf("lifecycle: malformed event file %s: %v\n", path, err)
		return
	}
	if ev.Type != "pr_merged" {
		return
	}
	if err := w.Reporter.OnMerge(ctx, MergeEvent{Task: ev.Task, Branch: ev.Branch, PR: ev.PR}); err != nil {
		debug.Logf("lifecycle: merge event for task %d failed: %v\n", ev.Task, err)
		return
	}
	_ = os.Remove(path)
}
