package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/halomesh/internal/cluster"
	"github.com/dreamware/halomesh/internal/coordinator"
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start a run on a coordinator and optionally wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			addr, _ := flags.GetString("coordinator")
			wait, _ := flags.GetBool("wait")
			poll, _ := flags.GetDuration("poll")
			timeout, _ := flags.GetDuration("timeout")

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			st, err := submit(ctx, strings.TrimRight(addr, "/"), wait, poll)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %s (%d/%d tiles)\n", st.RunID, st.State, st.Received, st.Tiles)
			if st.State == coordinator.RunDone {
				fmt.Fprintf(out, "mesh: %d points, %d triangles -> %s\n", st.Points, st.Triangles, st.Output)
			}
			return nil
		},
	}
	cmd.Flags().String("coordinator", "http://localhost:8080", "coordinator URL")
	cmd.Flags().Bool("wait", false, "wait until the run finished")
	cmd.Flags().Duration("poll", 500*time.Millisecond, "status poll interval with --wait")
	cmd.Flags().Duration("timeout", 0, "give up after this long (0 waits forever)")
	return cmd
}

// submit starts a run and, with wait, polls the coordinator until the run is
// no longer running. A failed run is returned as an error.
func submit(ctx context.Context, addr string, wait bool, poll time.Duration) (coordinator.RunStatus, error) {
	var st coordinator.RunStatus
	if err := cluster.PostJSON(ctx, addr+"/run", struct{}{}, &st); err != nil {
		return st, err
	}
	for wait && st.State == coordinator.RunRunning {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(poll):
		}
		if err := cluster.GetJSON(ctx, addr+"/status", &st); err != nil {
			return st, err
		}
	}
	if st.State == coordinator.RunFailed {
		return st, errors.New("run " + st.RunID + " failed: " + st.Error)
	}
	return st, nil
}
