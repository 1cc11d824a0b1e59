package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/core"
	"github.com/encodeous/tasknet/state"
	"github.com/spf13/cobra"
)

var activateCmd = &cobra.Command{
	Use:   "activate [name] [level]",
	Short: "Stimulates a node as if its parent spread activation to it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		level, err := strconv.ParseFloat(args[1], 32)
		if err != nil {
			return fmt.Errorf("invalid level %q: %w", args[1], err)
		}
		if math.IsNaN(level) || math.IsInf(level, 0) || level < 0 {
			return fmt.Errorf("invalid level %q: must be a finite non-negative number", args[1])
		}
		count, _ := cmd.Flags().GetInt("count")

		treeCfg, localCfg, err := core.ReadConfigs(state.TreeConfigPath, state.LocalConfigPath)
		if err != nil {
			return err
		}
		if err := sharedBus("activate", localCfg.Bus); err != nil {
			return err
		}
		node, ok := treeCfg.GetNode(name)
		if !ok {
			return fmt.Errorf("%s: %w", name, state.ErrUnknownNode)
		}
		if node.Parent == "" || node.Parent == state.NoneName {
			return fmt.Errorf("%s has no parent to speak for", name)
		}
		parent, err := state.ParseNodeId(node.Parent)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		b, err := bus.Open(ctx, localCfg.Bus, slog.Default())
		if err != nil {
			return err
		}
		defer b.Close()

		msg := state.ControlMessage{
			Sender:              parent,
			Kind:                state.Data,
			ActivationLevel:     float32(level),
			ActivationPotential: float32(level),
			Highest:             parent,
			ParentType:          state.Root,
		}
		for i := range count {
			if i > 0 {
				time.Sleep(treeCfg.TickInterval)
			}
			if err := b.PublishControl(ctx, bus.ParentTopic(name), msg); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", msg, name)
		return nil
	},
	GroupID: "tn",
}

func init() {
	rootCmd.AddCommand(activateCmd)

	activateCmd.Flags().IntP("count", "c", 1, "Number of stimuli to send, one per tick")
}
