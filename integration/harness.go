//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/core"
	"github.com/encodeous/tasknet/state"
)

// VirtualLink shapes the messages one robot publishes.
type VirtualLink struct {
	Latency    time.Duration
	Jitter     time.Duration
	PacketLoss float64
}

func (v *VirtualLink) WithLatency(lat, jitter time.Duration) *VirtualLink {
	v.Latency = lat
	v.Jitter = jitter
	return v
}

func (v *VirtualLink) WithPacketLoss(loss float64) *VirtualLink {
	v.PacketLoss = loss
	return v
}

// linkTransport is the view of the shared network from a single robot.
type linkTransport struct {
	net  *InMemoryNetwork
	link *VirtualLink
}

func (l *linkTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if rand.Float64() < l.link.PacketLoss {
		// drop
		return nil
	}
	if l.link.Latency == 0 {
		return l.net.publish(ctx, topic, payload)
	}
	lat := l.link.Latency + time.Duration(rand.Float64()*float64(l.link.Jitter.Nanoseconds()))
	l.net.wg.Add(1)
	go func() {
		defer l.net.wg.Done()
		select {
		case <-l.net.ctx.Done():
		case <-time.After(lat):
			_ = l.net.publish(l.net.ctx, topic, payload)
		}
	}()
	return nil
}

func (l *linkTransport) Subscribe(ctx context.Context, topic string, handler func([]byte)) (bus.Subscription, error) {
	return l.net.inner.Subscribe(ctx, topic, handler)
}

// Close is a no-op, the network outlives every robot.
func (l *linkTransport) Close() error {
	return nil
}

// InMemoryNetwork is the transport shared by every robot of a harness.
type InMemoryNetwork struct {
	ctx   context.Context
	inner *bus.MemoryTransport
	wg    sync.WaitGroup

	mu        sync.Mutex
	published map[string]int
}

func (i *InMemoryNetwork) publish(ctx context.Context, topic string, payload []byte) error {
	i.mu.Lock()
	i.published[topic]++
	i.mu.Unlock()
	err := i.inner.Publish(ctx, topic, payload)
	if errors.Is(err, bus.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Published is the number of messages that reached topic.
func (i *InMemoryNetwork) Published(topic string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.published[topic]
}

func (i *InMemoryNetwork) Stop() {
	i.wg.Wait()
	_ = i.inner.Close()
}

// VirtualHarness runs one tasknet process per robot over an in-memory network.
type VirtualHarness struct {
	Tree    state.TreeCfg
	Robots  []uint8
	Links   map[uint8]*VirtualLink
	Workers map[string]core.Worker
	// ExitWhenDone lets each process stop once its nodes are done.
	ExitWhenDone bool

	Context context.Context
	Cancel  context.CancelCauseFunc
	Net     *InMemoryNetwork
	States  []*state.State

	stimuli []stimulus
	stimWg  sync.WaitGroup

	wg   sync.WaitGroup
	errs []error
	mu   sync.Mutex
}

// stimulus keeps a node activated the way repeated `tasknet activate` calls would.
type stimulus struct {
	name  string
	level float32
}

func (v *VirtualHarness) AddNode(cfg state.NodeCfg) {
	v.Tree.Nodes = append(v.Tree.Nodes, cfg)
}

// AddRobot starts a process hosting every node of robot when the harness starts.
func (v *VirtualHarness) AddRobot(robot uint8) *VirtualLink {
	if v.Links == nil {
		v.Links = make(map[uint8]*VirtualLink)
	}
	v.Robots = append(v.Robots, robot)
	link := &VirtualLink{}
	v.Links[robot] = link
	return link
}

// Stimulate publishes level to the node's parent topic every tick until the harness stops,
// speaking for the node's parent.
func (v *VirtualHarness) Stimulate(name string, level float32) {
	v.stimuli = append(v.stimuli, stimulus{name: name, level: level})
}

func (v *VirtualHarness) stimulate(st stimulus) error {
	cfg, ok := v.Tree.GetNode(st.name)
	if !ok {
		return fmt.Errorf("%s: %w", st.name, state.ErrUnknownNode)
	}
	parent, err := state.ParseNodeId(cfg.Parent)
	if err != nil {
		return err
	}
	payload := bus.EncodeControl(state.ControlMessage{
		Sender:              parent,
		Kind:                state.Data,
		ActivationLevel:     st.level,
		ActivationPotential: st.level,
		Highest:             parent,
		ParentType:          parent.Kind(),
	})
	v.stimWg.Add(1)
	go func() {
		defer v.stimWg.Done()
		state.Every(v.Context, v.Tree.TickInterval, func() {
			_ = v.Net.publish(v.Context, bus.ParentTopic(st.name), payload)
		})
	}()
	return nil
}

func (v *VirtualHarness) Start() {
	ctx, cancel := context.WithCancelCause(context.Background())
	v.Context = ctx
	v.Cancel = cancel
	v.Net = &InMemoryNetwork{
		ctx:       ctx,
		inner:     bus.NewMemoryTransport(),
		published: make(map[string]int),
	}
	if v.Tree.TickInterval == 0 {
		v.Tree.TickInterval = 10 * time.Millisecond
	}
	v.States = make([]*state.State, len(v.Robots))
	for _, st := range v.stimuli {
		if err := v.stimulate(st); err != nil {
			v.errs = append(v.errs, err)
		}
	}

	for idx, robot := range v.Robots {
		lcfg := state.LocalCfg{
			Robots:            []uint8{robot},
			ExitWhenDone:      v.ExitWhenDone,
			CheckWorkInterval: 5 * time.Millisecond,
			WorkJoinTimeout:   200 * time.Millisecond,
		}
		aux := map[string]any{
			core.AuxTransport: &linkTransport{net: v.Net, link: v.Links[robot]},
			core.AuxContext:   ctx,
		}
		if v.Workers != nil {
			aux[core.AuxWorkers] = v.Workers
		}
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			labels := pprof.Labels("tasknet robot", fmt.Sprint(robot))
			pprof.Do(context.Background(), labels, func(_ context.Context) {
				var s *state.State
				err := core.Start(v.Tree, lcfg, slog.LevelDebug, aux, &s)
				v.mu.Lock()
				defer v.mu.Unlock()
				v.States[idx] = s
				if err != nil {
					v.errs = append(v.errs, fmt.Errorf("robot %d: %w", robot, err))
				}
			})
		}()
	}
}

// Wait blocks until every process has exited or timeout passes.
func (v *VirtualHarness) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		v.Stop()
		return fmt.Errorf("processes still running after %s", timeout)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return errors.Join(v.errs...)
}

func (v *VirtualHarness) Stop() {
	println("Stopping VirtualHarness")
	v.Cancel(context.Canceled)
	v.wg.Wait()
	v.stimWg.Wait()
	v.Net.Stop()
	println("Stopped VirtualHarness")
}

// Completed merges the completion records of every process.
func (v *VirtualHarness) Completed() map[state.NodeId]time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[state.NodeId]time.Time)
	for _, s := range v.States {
		if s == nil {
			continue
		}
		for id, t := range s.Completed {
			out[id] = t
		}
	}
	return out
}
