package state

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownNode = errors.New("unknown node")

// Entry is the registry record of one node in the tree.
type Entry struct {
	Id     NodeId
	Name   string
	cached NodeState
}

// Registry maps node identifiers to their names and last known state. It is built once from
// the tree configuration and shared by every node hosted in the process. Entries are never removed.
type Registry struct {
	mu      sync.RWMutex
	entries map[NodeId]*Entry
	names   map[string]NodeId
}

func NewRegistry(names ...string) (*Registry, error) {
	r := &Registry{
		entries: make(map[NodeId]*Entry, len(names)),
		names:   make(map[string]NodeId, len(names)),
	}
	for _, name := range names {
		if err := r.Add(name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(name string) error {
	id, err := ParseNodeId(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[id]; ok {
		if old.Name == name {
			return nil
		}
		return fmt.Errorf("%s and %s share the identifier %s", old.Name, name, id)
	}
	r.entries[id] = &Entry{Id: id, Name: name, cached: NodeState{Owner: id, Highest: id}}
	r.names[name] = id
	return nil
}

func (r *Registry) Lookup(id NodeId) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (r *Registry) LookupName(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	if !ok {
		return Entry{}, false
	}
	return *r.entries[id], true
}

// Resolve maps names to entries, skipping the NONE placeholder. Unknown names are a topology error.
func (r *Registry) Resolve(names ...string) ([]Entry, error) {
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		if name == NoneName || name == "" {
			continue
		}
		e, ok := r.LookupName(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Registry) Cached(id NodeId) (NodeState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return NodeState{}, false
	}
	return e.cached, true
}

// UpdateCached mutates the cached view of a node, it never touches the live state of that node.
func (r *Registry) UpdateCached(id NodeId, fn func(*NodeState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	fn(&e.cached)
	return true
}

// Snapshot returns the cached states of ids in order. Unknown ids yield a zero state.
func (r *Registry) Snapshot(ids ...NodeId) []NodeState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeState, len(ids))
	for i, id := range ids {
		if e, ok := r.entries[id]; ok {
			out[i] = e.cached
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
