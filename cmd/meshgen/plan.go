package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dreamware/halomesh/internal/config"
	"github.com/dreamware/halomesh/internal/grid"
	"github.com/dreamware/halomesh/internal/plan"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the tile grid and the exchange phases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			margin, _ := cmd.Flags().GetFloat64("margin")
			return printPlan(cmd.OutOrStdout(), cfg, margin)
		},
	}
	cmd.Flags().Int("workers", 0, "number of tiles")
	cmd.Flags().Float64("margin", 0, "halo margin to check the grid against (0 skips the check)")
	return cmd
}

func printPlan(w io.Writer, cfg *config.Config, margin float64) error {
	rows, cols, err := cfg.Layout()
	if err != nil {
		return err
	}
	g, err := grid.New(cfg.Domain.BBox(), rows, cols)
	if err != nil {
		return err
	}
	p := plan.Default()
	if margin > 0 {
		if err := p.Validate(g, margin); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "grid %dx%d over %v\n\n", rows, cols, g.Domain())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TILE\tROW\tCOL\tCORE\tNEIGHBORS")
	for i := 0; i < g.Len(); i++ {
		row, col := g.Coords(i)
		fmt.Fprintf(tw, "%d\t%d\t%d\t%v\t%s\n", i, row, col, g.Cell(i), neighbors(g.Neighbors(i)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tNAME\tREFINE\tRECEIVE\tSEND")
	for i, ph := range p.Phases() {
		refine := "-"
		if ph.Refine != nil {
			refine = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, ph.Name, refine, directions(ph.Receives), directions(ph.Sends))
	}
	return tw.Flush()
}

func neighbors(n grid.Neighbors) string {
	var parts []string
	for _, d := range grid.Directions {
		if id, ok := n.Get(d); ok {
			parts = append(parts, fmt.Sprintf("%s:%d", d, id))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func directions(tasks []plan.Task) string {
	if len(tasks) == 0 {
		return "-"
	}
	parts := make([]string, len(tasks))
	for i, t := range tasks {
		parts[i] = t.Direction.String()
	}
	return strings.Join(parts, ",")
}
