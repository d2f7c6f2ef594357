package cli

import (
	"fmt"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/maxiv-kitscontrols/albaem/internal/stress"
	"github.com/spf13/cobra"
)

// NewStressCmd creates the stress command
func NewStressCmd() *cobra.Command {
	var opts stress.Options

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Repeat acquisitions to check the device stability",
		Long: `Runs a number of scans on the electrometer. In SOFTWARE mode every
point is a separate software trigger; in HARDWARE and GATE modes every
scan is one start of N hardware triggered points. Each scan checks that
every channel returns the expected data. A failed scan is followed by a
recovery pause.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.NbScans < 1 || opts.NbPoints < 1 {
				return models.NewError(models.ErrInvalidConfig, "scans and points must be positive")
			}

			ctx := cmd.Context()
			em, err := openDevice(ctx, configFrom(cmd))
			if err != nil {
				return err
			}
			defer em.Close()

			opts.Progress = cmd.ErrOrStderr()
			summary, err := stress.Run(ctx, em, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.String())
			if summary.Failures > 0 {
				return models.NewError(models.ErrDevice, "%s", summary)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.NbScans, "scans", 10, "Number of scans")
	cmd.Flags().DurationVarP(&opts.Integration, "time", "t", 100*time.Millisecond, "Integration time")
	cmd.Flags().IntVarP(&opts.NbPoints, "points", "n", 10, "Points per scan")
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", models.TriggerSoftware, "Trigger mode: SOFTWARE, HARDWARE or GATE")
	cmd.Flags().DurationVar(&opts.RecoveryPause, "recovery", 2*time.Second, "Pause after a failed scan")

	return cmd
}
