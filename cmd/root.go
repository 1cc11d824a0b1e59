package cmd

import (
	"os"

	"github.com/encodeous/tasknet/state"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tasknet",
	Short: "Decentralized task tree coordination",
	Long: `tasknet runs the nodes of a task tree. Each node decides locally when to do its work,
spreading activation to its children and arbitrating with its peers over a shared message bus.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Configuration",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "tn",
		Title: "Tree Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&state.TreeConfigPath, "tree", "t", state.TreeConfigPath, "task tree config shared by every process (yaml or toml)")
	rootCmd.PersistentFlags().StringVarP(&state.LocalConfigPath, "local", "l", state.LocalConfigPath, "process-specific config")
}
