package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/perf"
	"github.com/encodeous/tasknet/state"
	"golang.org/x/time/rate"
)

// Options configure a single hosted node.
type Options struct {
	Name     string
	Parent   string
	Children []string
	Peers    []string
	// Initial seeds both the activation level and the activation potential.
	Initial float32

	TickInterval      time.Duration
	CheckWorkInterval time.Duration
	WorkJoinTimeout   time.Duration
	RetryBackoff      time.Duration
	UseLocalQueue     bool

	// OnComplete is called once, outside any node lock, when the node finishes its work
	// or adopts a peer's completion.
	OnComplete func(id state.NodeId)
	Metrics    *perf.Collector
}

func (o *Options) expand() {
	if o.TickInterval <= 0 {
		o.TickInterval = state.DefaultTickInterval
	}
	if o.CheckWorkInterval <= 0 {
		o.CheckWorkInterval = state.DefaultCheckWorkInterval
	}
	if o.WorkJoinTimeout <= 0 {
		o.WorkJoinTimeout = state.DefaultWorkJoinTimeout
	}
}

type peerReport struct {
	Active   bool
	Done     bool
	Conflict bool
}

// Node is one participant of the task tree. All mutable state sits behind mu.
type Node struct {
	opts     Options
	id       state.NodeId
	log      *slog.Logger
	reg      *state.Registry
	bus      *bus.Bus
	behavior Behavior

	parent    state.Entry
	hasParent bool
	peers     []state.Entry
	children  []state.Entry
	childIds  []state.NodeId
	peerSet   map[state.NodeId]struct{}
	childSet  map[state.NodeId]struct{}

	// ctx is fixed before any goroutine of the node starts
	ctx   context.Context
	retry *rate.Limiter

	mu         sync.Mutex
	st         state.NodeState
	parentDone bool
	working    bool
	completed  bool
	activated  state.Signal
	cancelWork context.CancelCauseFunc
	reports    map[state.NodeId]peerReport

	roundMu sync.Mutex
	round   *peerRound

	inbox   chan func()
	subs    []bus.Subscription
	workers sync.WaitGroup

	lastIdleLog time.Time
}

// NewNode resolves the node's topology against the registry. Any unknown name is an error.
func NewNode(opts Options, reg *state.Registry, b *bus.Bus, behavior Behavior, log *slog.Logger) (*Node, error) {
	opts.expand()
	self, ok := reg.LookupName(opts.Name)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", opts.Name, state.ErrUnknownNode)
	}
	if log == nil {
		log = slog.Default()
	}
	n := &Node{
		opts:      opts,
		id:        self.Id,
		log:       log.With("node", opts.Name),
		reg:       reg,
		bus:       b,
		behavior:  behavior,
		ctx:       context.Background(),
		activated: state.NewSignal(),
		reports:   make(map[state.NodeId]peerReport),
		peerSet:   make(map[state.NodeId]struct{}),
		childSet:  make(map[state.NodeId]struct{}),
	}

	parentType := state.Root
	if opts.Parent != "" && opts.Parent != state.NoneName {
		p, ok := reg.LookupName(opts.Parent)
		if !ok {
			return nil, fmt.Errorf("parent of %s: %s: %w", opts.Name, opts.Parent, state.ErrUnknownNode)
		}
		n.parent = p
		n.hasParent = true
		parentType = p.Id.Kind()
	}

	var err error
	if n.peers, err = reg.Resolve(opts.Peers...); err != nil {
		return nil, fmt.Errorf("peers of %s: %w", opts.Name, err)
	}
	if n.children, err = reg.Resolve(opts.Children...); err != nil {
		return nil, fmt.Errorf("children of %s: %w", opts.Name, err)
	}
	for _, p := range n.peers {
		n.peerSet[p.Id] = struct{}{}
	}
	for _, c := range n.children {
		n.childSet[c.Id] = struct{}{}
		n.childIds = append(n.childIds, c.Id)
	}

	if opts.RetryBackoff > 0 {
		n.retry = rate.NewLimiter(rate.Every(opts.RetryBackoff), 1)
	} else {
		n.retry = rate.NewLimiter(rate.Inf, 0)
	}

	n.st = state.NodeState{
		Owner:               n.id,
		ActivationLevel:     opts.Initial,
		ActivationPotential: opts.Initial,
		Highest:             n.id,
		ParentType:          parentType,
	}
	return n, nil
}

func (n *Node) Id() state.NodeId {
	return n.id
}

func (n *Node) Name() string {
	return n.opts.Name
}

// State returns a copy of the node state.
func (n *Node) State() state.NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.st
}

func (n *Node) Working() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.working
}

func (n *Node) ParentDone() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parentDone
}

// Run drives the node until ctx is cancelled: it listens on the node's topics, ticks the
// activation engine and supervises work.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := n.start(ctx); err != nil {
		n.stop()
		return err
	}
	n.log.Debug("node started", "kind", n.id.Kind(), "peers", len(n.peers), "children", len(n.children))

	n.workers.Add(2)
	go func() {
		defer n.workers.Done()
		state.Every(ctx, n.opts.TickInterval, n.update)
	}()
	go func() {
		defer n.workers.Done()
		n.supervise(ctx)
	}()

	<-ctx.Done()
	n.stop()
	n.log.Debug("node stopped")
	return nil
}

// start subscribes to the node's topics. It does not tick.
func (n *Node) start(ctx context.Context) error {
	n.ctx = ctx
	if n.opts.UseLocalQueue {
		n.inbox = make(chan func(), state.QueueSize)
		n.workers.Add(1)
		go n.serveInbox(ctx)
	}
	topics := []struct {
		topic   string
		handler func(state.ControlMessage)
	}{
		{bus.ChildTopic(n.opts.Name), n.receiveFromChild},
		{bus.PeerTopic(n.opts.Name), n.receiveFromPeer},
		{bus.ParentTopic(n.opts.Name), n.receiveFromParent},
	}
	for _, t := range topics {
		sub, err := n.bus.SubscribeControl(ctx, t.topic, n.handle(t.handler))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", t.topic, err)
		}
		n.subs = append(n.subs, sub)
	}
	return nil
}

// stop tears down subscriptions and waits for every goroutine of the node.
// The node context must already be cancelled.
func (n *Node) stop() {
	for _, sub := range n.subs {
		if err := sub.Close(); err != nil {
			n.log.Debug("failed to close subscription", "error", err)
		}
	}
	n.subs = nil
	n.workers.Wait()
	n.roundMu.Lock()
	r := n.round
	n.roundMu.Unlock()
	if r != nil {
		<-r.done
	}
}

func (n *Node) handle(h func(state.ControlMessage)) func(state.ControlMessage) {
	if !n.opts.UseLocalQueue {
		return h
	}
	return func(msg state.ControlMessage) {
		select {
		case n.inbox <- func() { h(msg) }:
		default:
			perf.MessagesDropped.Add(1)
			n.log.Debug("local queue full, dropping message", "from", msg.Sender)
		}
	}
}

func (n *Node) serveInbox(ctx context.Context) {
	defer n.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-n.inbox:
			f()
		}
	}
}

func (n *Node) notifyComplete() {
	if n.opts.OnComplete != nil {
		n.opts.OnComplete(n.id)
	}
}
