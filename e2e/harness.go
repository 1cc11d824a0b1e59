//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/tasknet/core"
	"github.com/encodeous/tasknet/state"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	ImageName   = "redis:7-alpine"
	RedisPort   = "6379/tcp"
	WaitTimeout = 2 * time.Minute
)

// Harness runs tasknet processes against a redis container.
type Harness struct {
	t     *testing.T
	ctx   context.Context
	Redis testcontainers.Container
	Addr  string
}

func NewHarness(t *testing.T) *Harness {
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        ImageName,
			ExposedPorts: []string{RedisPort},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(WaitTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	h := &Harness{t: t, ctx: ctx, Redis: c}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis: %v", err)
		}
	})
	h.Addr, err = c.Endpoint(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("redis listening on %s", h.Addr)
	return h
}

// Local returns a process config hosting robots over the container's bus. Topics are
// prefixed with the test name so tests can share one server.
func (h *Harness) Local(robots ...uint8) state.LocalCfg {
	return state.LocalCfg{
		Robots: robots,
		Bus: state.BusCfg{
			Kind:   state.BusRedis,
			Addr:   h.Addr,
			Prefix: h.t.Name() + "/",
		},
		ExitWhenDone:      true,
		CheckWorkInterval: 10 * time.Millisecond,
		WorkJoinTimeout:   time.Second,
	}
}

// Run starts one process per local config and waits for all of them to exit.
func (h *Harness) Run(tree state.TreeCfg, timeout time.Duration, locals ...state.LocalCfg) ([]*state.State, error) {
	ctx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()

	states := make([]*state.State, len(locals))
	errs := make([]error, len(locals))
	var wg sync.WaitGroup
	for idx, lcfg := range locals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var s *state.State
			errs[idx] = core.Start(tree, lcfg, slog.LevelInfo, map[string]any{
				core.AuxContext: ctx,
			}, &s)
			states[idx] = s
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return states, fmt.Errorf("tree did not finish within %s", timeout)
	}
	for _, err := range errs {
		if err != nil {
			return states, err
		}
	}
	return states, nil
}
