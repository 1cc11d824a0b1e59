package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/perf"
	"github.com/encodeous/tasknet/state"
	"github.com/goccy/go-yaml"
	"golang.org/x/sync/errgroup"
)

// ErrTreeComplete is the cancellation cause once every hosted node is done.
var ErrTreeComplete = errors.New("all hosted nodes are done")

// Aux config keys understood by the Tree module.
const (
	// AuxTransport holds a bus.Transport to use instead of the configured bus.
	AuxTransport = "transport"
	// AuxWorkers holds a map[string]Worker overriding the worker of named leaf nodes.
	AuxWorkers = "workers"
	// AuxContext holds a context.Context the process stops with.
	AuxContext = "context"
)

// Tree hosts the nodes of this process and runs each of them until shutdown.
type Tree struct {
	*state.State
	Registry *state.Registry
	Bus      *bus.Bus
	Nodes    map[string]*Node
	Metrics  *perf.Collector

	cancel  context.CancelFunc
	group   *errgroup.Group
	server  *http.Server
	ownsBus bool
}

func (t *Tree) Init(s *state.State) error {
	s.Log.Debug("init tree")
	t.State = s
	t.Nodes = make(map[string]*Node)
	t.Metrics = perf.NewCollector()

	reg, err := state.NewRegistry(s.TreeCfg.Names()...)
	if err != nil {
		return err
	}
	t.Registry = reg

	if tr, ok := s.AuxConfig[AuxTransport].(bus.Transport); ok {
		t.Bus = bus.New(tr, s.LocalCfg.Bus.Prefix, s.Log)
	} else {
		t.Bus, err = bus.Open(s.Context, s.LocalCfg.Bus, s.Log)
		if err != nil {
			return fmt.Errorf("failed to open bus: %w", err)
		}
		t.ownsBus = true
	}
	workers, _ := s.AuxConfig[AuxWorkers].(map[string]Worker)

	for _, cfg := range s.TreeCfg.Nodes {
		id, err := state.ParseNodeId(cfg.Name)
		if err != nil {
			return err
		}
		if !s.LocalCfg.Hosts(id) {
			continue
		}
		var w Worker
		if id.Kind() == state.Behavior {
			w = NewSleepWorker(cfg.Work)
			if custom, ok := workers[cfg.Name]; ok {
				w = custom
			}
		}
		behavior, err := NewBehavior(id.Kind(), w)
		if err != nil {
			return fmt.Errorf("node %s: %w", cfg.Name, err)
		}
		node, err := NewNode(Options{
			Name:              cfg.Name,
			Parent:            cfg.Parent,
			Children:          cfg.Children,
			Peers:             cfg.Peers,
			Initial:           cfg.InitialActivation,
			TickInterval:      s.TickInterval,
			CheckWorkInterval: s.CheckWorkInterval,
			WorkJoinTimeout:   s.WorkJoinTimeout,
			RetryBackoff:      s.RetryBackoff,
			UseLocalQueue:     s.UseLocalQueue,
			OnComplete:        t.completed,
			Metrics:           t.Metrics,
		}, reg, t.Bus, behavior, s.Log)
		if err != nil {
			return err
		}
		t.Nodes[cfg.Name] = node
		s.Hosted = append(s.Hosted, id)
	}
	s.Log.Info("hosting nodes", "count", len(t.Nodes), "robots", s.Robots)

	ctx, cancel := context.WithCancel(s.Context)
	t.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	t.group = g
	for name, node := range t.Nodes {
		g.Go(func() error {
			if err := node.Run(gctx); err != nil {
				s.Cancel(fmt.Errorf("node %s stopped: %w", name, err))
				return err
			}
			return nil
		})
	}

	if s.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", perf.Handler(t.Metrics))
		mux.HandleFunc("/progress", t.serveProgress)
		t.server = &http.Server{Addr: s.MetricsAddr, Handler: mux}
		go func() {
			if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Log.Error("metrics server failed", "error", err)
			}
		}()
	}
	return nil
}

// completed runs on the node's goroutine and hands the event to the main loop.
func (t *Tree) completed(id state.NodeId) {
	t.Env.Dispatch(func(s *state.State) error {
		s.Completed[id] = time.Now()
		s.Log.Info("node completed", "id", id, "completed", len(s.Completed), "hosted", len(s.Hosted))
		if s.ExitWhenDone && s.AllDone() {
			// let the final done messages drain before stopping
			s.ScheduleTask(func(s *state.State) error {
				s.Cancel(ErrTreeComplete)
				return nil
			}, 2*s.TickInterval)
		}
		return nil
	})
}

// Progress lists hosted nodes and when each of them completed.
type Progress struct {
	Hosted    []string             `yaml:"hosted"`
	Completed map[string]time.Time `yaml:"completed"`
}

// Progress reads completion state from the main loop. It must not be called from it.
func (t *Tree) Progress() (Progress, error) {
	res, err := t.Env.DispatchWait(func(s *state.State) (any, error) {
		p := Progress{Completed: make(map[string]time.Time, len(s.Completed))}
		for _, id := range s.Hosted {
			name := id.String()
			if e, ok := t.Registry.Lookup(id); ok {
				name = e.Name
			}
			p.Hosted = append(p.Hosted, name)
			if at, ok := s.Completed[id]; ok {
				p.Completed[name] = at
			}
		}
		return p, nil
	})
	if err != nil {
		return Progress{}, err
	}
	return res.(Progress), nil
}

func (t *Tree) serveProgress(w http.ResponseWriter, r *http.Request) {
	p, err := t.Progress()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	out, err := yaml.Marshal(p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(out)
}

func (t *Tree) Cleanup(s *state.State) error {
	if t.cancel != nil {
		t.cancel()
	}
	var errs []error
	if t.group != nil {
		if err := t.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	// an injected transport belongs to the caller
	if t.Bus != nil && t.ownsBus {
		if err := t.Bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
