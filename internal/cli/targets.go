package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/autotune-core/internal/task"
)

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the built-in hardware targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s  %6s  %-10s  %10s  %10s\n", "NAME", "LANES", "CACHE", "GFLOPS", "GB/S")
			fmt.Fprintf(out, "%-12s  %6s  %-10s  %10s  %10s\n", "------------", "------", "----------", "----------", "----------")
			for _, name := range task.TargetNames() {
				t, _ := task.LookupTarget(name)
				fmt.Fprintf(out, "%-12s  %6d  %-10s  %10.1f  %10.1f\n",
					t.Name, t.VectorWidth, humanize.IBytes(uint64(t.CacheBytes)), t.PeakGFLOPS, t.BandwidthGBps)
			}
			return nil
		},
	}
}
