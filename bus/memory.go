package bus

import (
	"context"
	"sync"

	"github.com/encodeous/tasknet/perf"
	"github.com/encodeous/tasknet/state"
)

// MemoryTransport delivers frames between subscribers of the same process.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
	depth  int
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		subs:  make(map[string]map[*memorySub]struct{}),
		depth: state.QueueSize,
	}
}

type memorySub struct {
	t     *MemoryTransport
	topic string
	queue chan []byte
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (m *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.subs[topic] {
		select {
		case sub.queue <- payload:
		default:
			perf.MessagesDropped.Add(1)
		}
	}
	return nil
}

func (m *MemoryTransport) Subscribe(_ context.Context, topic string, handler func([]byte)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{
		t:     m,
		topic: topic,
		queue: make(chan []byte, m.depth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memorySub]struct{})
	}
	m.subs[topic][sub] = struct{}{}
	go sub.run(handler)
	return sub, nil
}

func (s *memorySub) run(handler func([]byte)) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case p := <-s.queue:
			handler(p)
		}
	}
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.t.mu.Lock()
		delete(s.t.subs[s.topic], s)
		if len(s.t.subs[s.topic]) == 0 {
			delete(s.t.subs, s.topic)
		}
		s.t.mu.Unlock()
		close(s.stop)
	})
	<-s.done
	return nil
}

// Subscribers returns the number of live subscriptions on topic
func (m *MemoryTransport) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*memorySub, 0)
	for _, set := range m.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}
