package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/encodeous/tasknet/mock"
	"github.com/encodeous/tasknet/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Writes an example gather tree and local config",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		bus, _ := cmd.Flags().GetString("bus")
		robots, _ := cmd.Flags().GetInt("robots")
		objects, _ := cmd.Flags().GetInt("objects")
		work, _ := cmd.Flags().GetDuration("work")

		tree, err := mock.GatherTree(robots, objects, work)
		if err != nil {
			return err
		}

		local := state.LocalCfg{
			Bus: state.BusCfg{Kind: state.BusMemory},
		}
		if bus != "" {
			local.Bus = state.BusCfg{Kind: state.BusRedis, Addr: bus, Prefix: "tasknet:"}
		}
		files := []struct {
			path string
			v    any
		}{
			{state.TreeConfigPath, tree},
			{state.LocalConfigPath, local},
		}
		for _, f := range files {
			if _, err := os.Stat(f.path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", f.path)
			}
			out, err := yaml.Marshal(f.v)
			if err != nil {
				return err
			}
			if err := os.WriteFile(f.path, out, 0600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", f.path)
		}
		return nil
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().Bool("force", false, "Overwrite existing files")
	newCmd.Flags().String("bus", "", "Redis address, the example uses the in-process bus when empty")
	newCmd.Flags().Int("robots", 2, "Number of robots competing for each object")
	newCmd.Flags().Int("objects", 1, "Number of objects to gather")
	newCmd.Flags().Duration("work", 2*time.Second, "Duration of each pick")
}
