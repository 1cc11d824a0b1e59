package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/encodeous/tasknet/perf"
	"github.com/encodeous/tasknet/state"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

var errShutdownSignal = errors.New("received shutdown signal")

// ReadConfigs loads, expands and validates both configuration files.
func ReadConfigs(treePath, localPath string) (*state.TreeCfg, *state.LocalCfg, error) {
	treeCfg, err := state.ReadTreeConfig(treePath)
	if err != nil {
		return nil, nil, err
	}
	if err := state.TreeConfigValidator(treeCfg); err != nil {
		return nil, nil, fmt.Errorf("invalid tree config: %w", err)
	}
	localCfg, err := state.ReadLocalConfig(localPath)
	if err != nil {
		return nil, nil, err
	}
	if err := state.LocalConfigValidator(localCfg); err != nil {
		return nil, nil, fmt.Errorf("invalid local config: %w", err)
	}
	return treeCfg, localCfg, nil
}

// Bootstrap runs the process until it is interrupted or, with exit_when_done, until every
// hosted node is done.
func Bootstrap(treePath, localPath, logPath string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	treeCfg, localCfg, err := ReadConfigs(treePath, localPath)
	if err != nil {
		return err
	}
	if logPath != "" {
		localCfg.LogPath = logPath
	}
	return Start(*treeCfg, *localCfg, level, nil, nil)
}

func robotLabel(robots []uint8) string {
	if len(robots) == 0 {
		return "all"
	}
	parts := make([]string, 0, len(robots))
	for _, r := range robots {
		parts = append(parts, strconv.Itoa(int(r)))
	}
	return "r" + strings.Join(parts, ",")
}

func Start(tcfg state.TreeCfg, lcfg state.LocalCfg, logLevel slog.Level, aux map[string]any, initState **state.State) error {
	state.ExpandTreeConfig(&tcfg)
	state.ExpandLocalConfig(&lcfg)

	parent := context.Background()
	if c, ok := aux[AuxContext].(context.Context); ok {
		parent = c
	}
	ctx, cancel := context.WithCancelCause(parent)

	dispatch := make(chan func(s *state.State) error, 128)

	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: robotLabel(lcfg.Robots),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if lcfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(lcfg.LogPath), 0700)
		if err != nil {
			cancel(err)
			return err
		}
		f, err := os.OpenFile(lcfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			cancel(err)
			return err
		}
		defer f.Close()
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}

	logger := slog.New(
		slogmulti.Fanout(handlers...))

	s := state.State{
		Modules:   make(map[string]state.Module),
		Completed: make(map[state.NodeId]time.Time),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			TreeCfg:         tcfg,
			LocalCfg:        lcfg,
			Log:             logger,
			AuxConfig:       aux,
		},
	}
	if initState != nil {
		*initState = &s
	}

	s.Log.Info("init modules")
	if err := initModules(&s); err != nil {
		Stop(&s)
		return err
	}
	s.Log.Info("init modules complete")

	s.Log.Info("tasknet has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			s.Cancel(errShutdownSignal)
		case <-ctx.Done():
			return
		}
	}()

	return MainLoop(&s, dispatch)
}

// initModules initializes modules in order, Stop cleans them up in reverse.
func initModules(s *state.State) error {
	var modules []state.Module
	modules = append(modules, &Tree{})
	modules = append(modules, &Monitor{})

	for _, module := range modules {
		name := reflect.TypeOf(module).String()
		s.Modules[name] = module
		s.ModuleOrder = append(s.ModuleOrder, name)
		if err := module.Init(s); err != nil {
			return fmt.Errorf("init %s: %w", name, err)
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	cause := context.Cause(s.Context)
	s.Log.Info("stopped main loop", "reason", cause.Error())
	Stop(s)
	if errors.Is(cause, ErrTreeComplete) || errors.Is(cause, errShutdownSignal) || errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for _, name := range slices.Backward(s.ModuleOrder) {
		err := s.Modules[name].Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", name, "error", err)
		}
	}
	s.Log.Info("stopped")
}
