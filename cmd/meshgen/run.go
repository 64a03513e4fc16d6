package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/metrics"
	"github.com/dreamware/halomesh/internal/runner"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mesh the configured domain in this process",
		Long: `Seeds the domain from --input (or with random points), refines it, splits
it into one tile per worker, runs the halo exchange on every tile and writes
the merged mesh as PLY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.NewWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			sum, err := runner.New(cfg,
				runner.WithLogger(logger),
				runner.WithMetrics(metrics.New()),
			).Run(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().Int("workers", 0, "number of tiles")
	cmd.Flags().StringP("output", "o", "", "PLY file to write")
	cmd.Flags().StringP("input", "i", "", "point file, one \"x y\" per line")
	cmd.Flags().Int64("seed", 0, "random seed when no input is given")
	return cmd
}

func printSummary(w io.Writer, sum *runner.Summary) {
	fmt.Fprintf(w, "run %s: %d tiles (%dx%d), margin %.4g\n", sum.RunID, sum.Tiles, sum.Rows, sum.Cols, sum.Margin)
	fmt.Fprintf(w, "mesh: %d points, %d triangles", sum.Points, sum.Triangles)
	if sum.Output != "" {
		fmt.Fprintf(w, " -> %s", sum.Output)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TILE\tSENT\tRECEIVED\tREFINED\tTIME")
	ids := make([]int, 0, len(sum.Reports))
	for id := range sum.Reports {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		var sent, recv, refined int
		var d time.Duration
		for _, r := range sum.Reports[id] {
			sent += r.BytesSent
			recv += r.BytesReceived
			refined += r.Refined
			d += r.Duration
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", id, sent, recv, refined, d.Round(time.Microsecond))
	}
	_ = tw.Flush()

	for _, stage := range []string{"prepare", "split", "exchange", "merge", "total"} {
		if d, ok := sum.Durations[stage]; ok {
			fmt.Fprintf(w, "%-9s %s\n", stage, d.Round(time.Microsecond))
		}
	}
}
