package state

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
)

var (
	TreeConfigPath  = "tree.yaml"
	LocalConfigPath = "node.yaml"
)

// WorkCfg parameterizes the built-in leaf worker
type WorkCfg struct {
	Duration  time.Duration `yaml:"duration,omitempty" toml:"duration"`
	FailFirst int           `yaml:"fail_first,omitempty" toml:"fail_first"` // number of attempts whose health check fails before one succeeds
}

// NodeCfg describes one node of the task tree
type NodeCfg struct {
	Name              string   `yaml:"name" toml:"name"`
	Parent            string   `yaml:"parent" toml:"parent"`
	Children          []string `yaml:"children,omitempty" toml:"children"`
	Peers             []string `yaml:"peers,omitempty" toml:"peers"`
	InitialActivation float32  `yaml:"initial_activation,omitempty" toml:"initial_activation"`
	Object            string   `yaml:"object,omitempty" toml:"object"` // the object a behavior manipulates, informational
	Work              WorkCfg  `yaml:"work,omitempty" toml:"work"`
}

// TreeCfg is the topology shared by every process of the tree
type TreeCfg struct {
	TickInterval time.Duration `yaml:"tick_interval,omitempty" toml:"tick_interval"`
	Nodes        []NodeCfg     `yaml:"nodes" toml:"nodes"`
}

const (
	BusMemory = "memory"
	BusRedis  = "redis"
)

type BusCfg struct {
	Kind     string `yaml:"kind,omitempty" toml:"kind"`
	Addr     string `yaml:"addr,omitempty" toml:"addr"`
	Password string `yaml:"password,omitempty" toml:"password"`
	DB       int    `yaml:"db,omitempty" toml:"db"`
	Prefix   string `yaml:"prefix,omitempty" toml:"prefix"` // prepended to every topic
}

// LocalCfg represents process-level configuration
type LocalCfg struct {
	Robots            []uint8       `yaml:"robots,omitempty" toml:"robots"` // only nodes of these robots are hosted, empty hosts every node
	Bus               BusCfg        `yaml:"bus,omitempty" toml:"bus"`
	UseLocalQueue     bool          `yaml:"use_local_queue,omitempty" toml:"use_local_queue"` // serialize message handling per node
	LogPath           string        `yaml:"log_path,omitempty" toml:"log_path"`
	MetricsAddr       string        `yaml:"metrics_addr,omitempty" toml:"metrics_addr"`
	ExitWhenDone      bool          `yaml:"exit_when_done,omitempty" toml:"exit_when_done"`
	RetryBackoff      time.Duration `yaml:"retry_backoff,omitempty" toml:"retry_backoff"` // minimum delay between work restarts, zero retries immediately
	WorkJoinTimeout   time.Duration `yaml:"work_join_timeout,omitempty" toml:"work_join_timeout"`
	CheckWorkInterval time.Duration `yaml:"check_work_interval,omitempty" toml:"check_work_interval"`
}

func (c *TreeCfg) Names() []string {
	names := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		names = append(names, n.Name)
	}
	// parents are not always listed as nodes (e.g. the ROOT)
	for _, n := range c.Nodes {
		if n.Parent != "" && n.Parent != NoneName && !slices.Contains(names, n.Parent) {
			names = append(names, n.Parent)
		}
	}
	return names
}

func (c *TreeCfg) GetNode(name string) (NodeCfg, bool) {
	idx := slices.IndexFunc(c.Nodes, func(n NodeCfg) bool {
		return n.Name == name
	})
	if idx == -1 {
		return NodeCfg{}, false
	}
	return c.Nodes[idx], true
}

// Hosts reports whether a node belongs to this process
func (c *LocalCfg) Hosts(id NodeId) bool {
	if id.Kind() == Root {
		return false
	}
	return len(c.Robots) == 0 || slices.Contains(c.Robots, id.Robot)
}

func ExpandTreeConfig(cfg *TreeCfg) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
}

func ExpandLocalConfig(cfg *LocalCfg) {
	if cfg.Bus.Kind == "" {
		cfg.Bus.Kind = BusMemory
	}
	if cfg.WorkJoinTimeout == 0 {
		cfg.WorkJoinTimeout = DefaultWorkJoinTimeout
	}
	if cfg.CheckWorkInterval == 0 {
		cfg.CheckWorkInterval = DefaultCheckWorkInterval
	}
}

// LoadConfig decodes a yaml or toml file into v, picking the format from the extension.
func LoadConfig(path string, v any) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(file), v); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(file, v); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return nil
}

func ReadTreeConfig(path string) (*TreeCfg, error) {
	var cfg TreeCfg
	if err := LoadConfig(path, &cfg); err != nil {
		return nil, err
	}
	ExpandTreeConfig(&cfg)
	return &cfg, nil
}

// ReadLocalConfig reads the process config, a missing file yields the defaults.
func ReadLocalConfig(path string) (*LocalCfg, error) {
	var cfg LocalCfg
	if err := LoadConfig(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ExpandLocalConfig(&cfg)
	return &cfg, nil
}
