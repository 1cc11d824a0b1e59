package state

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type Module interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on the main Goroutine
type State struct {
	*Env
	Modules     map[string]Module
	ModuleOrder []string
	Hosted      []NodeId
	Completed   map[NodeId]time.Time
}

// AllDone reports whether every hosted node has reported completion
func (s *State) AllDone() bool {
	if len(s.Hosted) == 0 {
		return false
	}
	for _, id := range s.Hosted {
		if _, ok := s.Completed[id]; !ok {
			return false
		}
	}
	return true
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	TreeCfg
	LocalCfg
	Context   context.Context
	Cancel    context.CancelCauseFunc
	Log       *slog.Logger
	AuxConfig map[string]any
	Started   atomic.Bool
	Stopping  atomic.Bool
}
