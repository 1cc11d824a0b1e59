package mock

import (
	"fmt"
	"time"

	"github.com/encodeous/tasknet/state"
)

var objects = []string{
	"box",
	"jar",
	"cup",
	"bolt",
	"tray",
}

// GatherTree builds a tree where every robot may pick up every object. Each object is an
// OR over one contested PICK per robot, and an AND over the objects finishes the tree.
// Composite nodes live on robot 0.
func GatherTree(robots, count int, work time.Duration) (state.TreeCfg, error) {
	if robots < 1 || robots > 255 {
		return state.TreeCfg{}, fmt.Errorf("robots must be within [1, 255], got %d", robots)
	}
	if count < 1 {
		return state.TreeCfg{}, fmt.Errorf("need at least one object, got %d", count)
	}
	next := 1
	name := func(tag string, kind state.NodeKind, robot int) string {
		s := fmt.Sprintf("%s_%d_%d_%d", tag, kind, robot, next)
		next++
		return s
	}

	all := state.NodeCfg{
		Name:              name("ALL", state.And, 0),
		Parent:            "ROOT_4_0_0",
		InitialActivation: 1,
	}
	cfg := state.TreeCfg{TickInterval: state.DefaultTickInterval}
	for o := range count {
		object := objects[o%len(objects)]
		if o >= len(objects) {
			object = fmt.Sprintf("%s%d", object, o/len(objects))
		}
		gather := state.NodeCfg{
			Name:   name("GATHER", state.Or, 0),
			Parent: all.Name,
		}
		for r := 1; r <= robots; r++ {
			gather.Children = append(gather.Children, name("PICK", state.Behavior, r))
		}
		var picks []state.NodeCfg
		for _, pick := range gather.Children {
			n := state.NodeCfg{
				Name:   pick,
				Parent: gather.Name,
				Object: object,
				Work:   state.WorkCfg{Duration: work},
			}
			for _, peer := range gather.Children {
				if peer != pick {
					n.Peers = append(n.Peers, peer)
				}
			}
			picks = append(picks, n)
		}
		all.Children = append(all.Children, gather.Name)
		cfg.Nodes = append(cfg.Nodes, gather)
		cfg.Nodes = append(cfg.Nodes, picks...)
	}
	cfg.Nodes = append([]state.NodeCfg{all}, cfg.Nodes...)
	return cfg, nil
}
