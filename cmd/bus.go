package cmd

import (
	"errors"
	"fmt"

	"github.com/encodeous/tasknet/state"
)

var errLocalBus = errors.New("command needs a shared bus")

// sharedBus rejects bus kinds that cannot reach a node running in another process.
func sharedBus(command string, cfg state.BusCfg) error {
	if cfg.Kind == state.BusMemory {
		return fmt.Errorf("%s: %w, the local config uses %q", command, errLocalBus, cfg.Kind)
	}
	return nil
}
