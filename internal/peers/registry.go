// Package peers maintains the registry of known peer agents used for
// reviewer selection. Peers learned from the collaborator fallback are
// persisted so later pull requests reuse them without another API call.
package peers

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry is a persisted set of peer usernames.
type Registry struct {
	mu    sync.Mutex
	path  string
	peers map[string]bool
}

// registryFile is the on-disk shape of the registry.
type registryFile struct {
	Peers []string `yaml:"peers"`
}

// Load reads the registry from <workspace>/.planmux/peers.yaml, returning
// an empty registry when the file does not exist.
func Load(workspace string) (*Registry, error) {
	r := &Registry{
		path:  filepath.Join(workspace, ".planmux", "peers.yaml"),
		peers: make(map[string]bool),
	}
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read peer registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse peer registry: %w", err)
	}
	for _, p := range file.Peers {
		r.peers[p] = true
	}
	return r, nil
}

// List returns the known peers in sorted order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Add registers peers and persists the registry. Duplicates are ignored.
func (r *Registry) Add(users ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, u := range users {
		if u == "" || r.peers[u] {
			continue
		}
		r.peers[u] = true
		changed = true
	}
	if !changed {
		return nil
	}
	return r.save()
}

// save writes the registry; callers hold the lock.
func (r *Registry) save() error {
	file := registryFile{}
	for p := range r.peers {
		file.Peers = append(file.Peers, p)
	}
	sort.Strings(file.Peers)
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal peer registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create registry dir: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write peer registry: %w", err)
	}
	return nil
}
