package main

import (
	"github.com/spf13/cobra"

	"github.com/dreamware/halomesh/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meshgen",
		Short:         "Parallel 2-D Delaunay mesh generation with halo exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "YAML config file (MESH_* variables override it)")
	root.AddCommand(newRunCmd(), newPlanCmd(), newSubmitCmd())
	return root
}

// loadConfig loads the --config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
		cfg.Rows, cfg.Cols = 0, 0
	}
	if flags.Changed("output") {
		cfg.Output, _ = flags.GetString("output")
	}
	if flags.Changed("input") {
		cfg.Input, _ = flags.GetString("input")
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}
	return cfg, cfg.Validate()
}
