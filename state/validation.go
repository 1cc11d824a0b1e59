package state

import (
	"fmt"
	"regexp"
	"slices"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*_[0-9]+_[0-9]+_[0-9]+(_.*)?$`)

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%w: %s must match pattern %s", ErrInvalidName, s, namePattern.String())
	}
	_, err := ParseNodeId(s)
	return err
}

func TreeConfigValidator(cfg *TreeCfg) error {
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", cfg.TickInterval)
	}
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	seen := make(map[string]struct{})
	ids := make(map[NodeId]string)
	for _, n := range cfg.Nodes {
		if err := NameValidator(n.Name); err != nil {
			return err
		}
		if _, ok := seen[n.Name]; ok {
			return fmt.Errorf("duplicate node %s", n.Name)
		}
		seen[n.Name] = struct{}{}
		id := MustParseNodeId(n.Name)
		if other, ok := ids[id]; ok {
			return fmt.Errorf("%s and %s share the identifier %s", other, n.Name, id)
		}
		ids[id] = n.Name
		if n.InitialActivation < 0 {
			return fmt.Errorf("%s: initial_activation must not be negative", n.Name)
		}
	}
	for _, n := range cfg.Nodes {
		if n.Parent == "" {
			return fmt.Errorf("%s has no parent, use a ROOT node", n.Name)
		}
		if n.Parent != NoneName {
			if err := NameValidator(n.Parent); err != nil {
				return fmt.Errorf("%s: parent: %w", n.Name, err)
			}
			if _, ok := seen[n.Parent]; !ok && MustParseNodeId(n.Parent).Kind() != Root {
				return fmt.Errorf("%w: %s references parent %s", ErrUnknownNode, n.Name, n.Parent)
			}
		}
		for _, c := range n.Children {
			if _, ok := seen[c]; !ok {
				return fmt.Errorf("%w: %s references child %s", ErrUnknownNode, n.Name, c)
			}
		}
		for _, p := range n.Peers {
			if p == NoneName {
				continue
			}
			if p == n.Name {
				return fmt.Errorf("%s lists itself as a peer", n.Name)
			}
			if _, ok := seen[p]; !ok {
				return fmt.Errorf("%w: %s references peer %s", ErrUnknownNode, n.Name, p)
			}
		}
		if slices.Contains(n.Children, n.Name) {
			return fmt.Errorf("%s lists itself as a child", n.Name)
		}
	}
	return nil
}

func LocalConfigValidator(cfg *LocalCfg) error {
	switch cfg.Bus.Kind {
	case BusMemory:
	case BusRedis:
		if cfg.Bus.Addr == "" {
			return fmt.Errorf("bus.addr is required for the redis bus")
		}
	default:
		return fmt.Errorf("unknown bus kind %q", cfg.Bus.Kind)
	}
	if cfg.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must not be negative")
	}
	if cfg.CheckWorkInterval <= 0 {
		return fmt.Errorf("check_work_interval must be positive")
	}
	return nil
}
