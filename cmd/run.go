package cmd

import (
	"github.com/encodeous/tasknet/core"
	"github.com/encodeous/tasknet/state"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the nodes hosted by this process",
	Long:  `Runs every node of the tree that belongs to the robots listed in the local config until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		return core.Bootstrap(state.TreeConfigPath, state.LocalConfigPath, logPath, verbose)
	},
	GroupID: "tn",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")
	runCmd.Flags().String("log", "", "Also write logs to this file")
}
