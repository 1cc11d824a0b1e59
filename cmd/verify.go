package cmd

import (
	"fmt"
	"strings"

	"github.com/encodeous/tasknet/core"
	"github.com/encodeous/tasknet/state"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validates the configuration and prints the resolved tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		treeCfg, localCfg, err := core.ReadConfigs(state.TreeConfigPath, state.LocalConfigPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Config is valid, tick interval %s, bus %s\n", treeCfg.TickInterval, localCfg.Bus.Kind)
		for _, n := range treeCfg.Nodes {
			id := state.MustParseNodeId(n.Name)
			hosted := " "
			if localCfg.Hosts(id) {
				hosted = "*"
			}
			fmt.Fprintf(out, "%s %-28s %-8s robot=%d parent=%s", hosted, n.Name, id.Kind(), id.Robot, n.Parent)
			if len(n.Children) > 0 {
				fmt.Fprintf(out, " children=[%s]", strings.Join(n.Children, " "))
			}
			if len(n.Peers) > 0 {
				fmt.Fprintf(out, " peers=[%s]", strings.Join(n.Peers, " "))
			}
			fmt.Fprintln(out)
		}
		return nil
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
