package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/state"
	"github.com/jellydator/ttlcache/v3"
)

// NodeStatus is the latest status broadcast by a node.
type NodeStatus struct {
	Name   string
	Status state.StatusMessage
	Seen   time.Time
}

// Monitor follows the status topics of the tree. Statuses expire when a node stops
// broadcasting.
type Monitor struct {
	*state.State
	bus   *bus.Bus
	log   *slog.Logger
	cache *ttlcache.Cache[state.NodeId, NodeStatus]

	mu     sync.Mutex
	subs   []bus.Subscription
	closed bool

	cancel context.CancelFunc
	expiry sync.WaitGroup
}

func NewMonitor(b *bus.Bus, ttl time.Duration, log *slog.Logger) *Monitor {
	m := &Monitor{}
	m.setup(b, ttl, log)
	return m
}

func (m *Monitor) setup(b *bus.Bus, ttl time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	m.bus = b
	m.log = log
	m.cache = ttlcache.New[state.NodeId, NodeStatus](
		ttlcache.WithTTL[state.NodeId, NodeStatus](ttl),
		ttlcache.WithDisableTouchOnHit[state.NodeId, NodeStatus](),
	)
	// lookups already hide expired entries, the sweep only frees them
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	if ttl <= 0 {
		return
	}
	m.expiry.Add(1)
	go func() {
		defer m.expiry.Done()
		state.Every(ctx, ttl, m.cache.DeleteExpired)
	}()
}

// Watch subscribes to the status topic of each named node.
func (m *Monitor) Watch(ctx context.Context, names ...string) error {
	for _, name := range names {
		id, err := state.ParseNodeId(name)
		if err != nil {
			return err
		}
		sub, err := m.bus.SubscribeStatus(ctx, bus.StateTopic(name), func(msg state.StatusMessage) {
			if msg.Owner != id {
				m.log.Debug("status owner does not match topic", "topic", name, "owner", msg.Owner)
				return
			}
			m.cache.Set(msg.Owner, NodeStatus{Name: name, Status: msg, Seen: time.Now()}, ttlcache.DefaultTTL)
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", name, err)
		}
		m.mu.Lock()
		m.subs = append(m.subs, sub)
		m.mu.Unlock()
	}
	return nil
}

// Get returns the live status of a node.
func (m *Monitor) Get(id state.NodeId) (NodeStatus, bool) {
	item := m.cache.Get(id)
	if item == nil {
		return NodeStatus{}, false
	}
	return item.Value(), true
}

// Snapshot returns every live status ordered by name.
func (m *Monitor) Snapshot() []NodeStatus {
	out := make([]NodeStatus, 0, m.cache.Len())
	for _, item := range m.cache.Items() {
		out = append(out, item.Value())
	}
	slices.SortFunc(out, func(a, b NodeStatus) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Close stops the subscriptions and the expiry sweep. It is safe to call more than once.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			m.log.Debug("failed to close status subscription", "error", err)
		}
	}
	m.cancel()
	m.expiry.Wait()
}

func (m *Monitor) Init(s *state.State) error {
	s.Log.Debug("init monitor")
	m.State = s
	tree := Get[*Tree](s)
	m.setup(tree.Bus, state.StatusStaleTicks*s.TickInterval, s.Log.With("module", "monitor"))
	names := make([]string, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		names = append(names, n.Name)
	}
	if err := m.Watch(s.Context, names...); err != nil {
		return err
	}
	s.RepeatTask(m.logSummary, state.MonitorLogDelay)
	return nil
}

func (m *Monitor) logSummary(s *state.State) error {
	var active, done, working, stale []string
	for _, n := range s.Nodes {
		st, ok := m.Get(state.MustParseNodeId(n.Name))
		switch {
		case !ok:
			stale = append(stale, n.Name)
		case st.Status.Done:
			done = append(done, n.Name)
		case st.Status.Working:
			working = append(working, n.Name)
		case st.Status.Active:
			active = append(active, n.Name)
		}
	}
	s.Log.Debug("tree status", "done", done, "working", working, "active", active, "silent", stale)
	return nil
}

func (m *Monitor) Cleanup(s *state.State) error {
	if m.cache != nil {
		m.Close()
	}
	return nil
}
