package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/core"
	"github.com/encodeous/tasknet/state"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect",
	Aliases: []string{"i"},
	Short:   "Listens to node status broadcasts and prints the tree state",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("window")
		treeCfg, localCfg, err := core.ReadConfigs(state.TreeConfigPath, state.LocalConfigPath)
		if err != nil {
			return err
		}
		if err := sharedBus("inspect", localCfg.Bus); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), window)
		defer cancel()

		log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		b, err := bus.Open(ctx, localCfg.Bus, log)
		if err != nil {
			return err
		}
		defer b.Close()

		m := core.NewMonitor(b, window+state.StatusStaleTicks*treeCfg.TickInterval, log)
		defer m.Close()
		names := make([]string, 0, len(treeCfg.Nodes))
		for _, n := range treeCfg.Nodes {
			names = append(names, n.Name)
		}
		if err := m.Watch(ctx, names...); err != nil {
			return err
		}
		<-ctx.Done()

		seen := make(map[string]core.NodeStatus)
		for _, st := range m.Snapshot() {
			seen[st.Name] = st
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tPHASE\tWORKING\tLEVEL\tPOTENTIAL\tPEER ACTIVE\tPEER DONE\tSEEN")
		for _, n := range names {
			st, ok := seen[n]
			if !ok {
				fmt.Fprintf(w, "%s\tsilent\t\t\t\t\t\t\n", n)
				continue
			}
			s := st.Status
			fmt.Fprintf(w, "%s\t%s\t%t\t%.4f\t%.4f\t%t\t%t\t%s ago\n", n, phase(s), s.Working,
				s.ActivationLevel, s.ActivationPotential, s.PeerActive, s.PeerDone, time.Since(st.Seen).Round(time.Millisecond))
		}
		return w.Flush()
	},
	GroupID: "tn",
}

func phase(s state.StatusMessage) state.Phase {
	switch {
	case s.Done:
		return state.Done
	case s.Active:
		return state.Active
	default:
		return state.Idle
	}
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().DurationP("window", "w", 2*time.Second, "How long to listen for status broadcasts")
}
