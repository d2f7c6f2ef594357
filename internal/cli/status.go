package cli

import (
	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the electrometer configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			em, err := openDevice(ctx, configFrom(cmd))
			if err != nil {
				return err
			}
			defer em.Close()

			status, err := em.Status(ctx)
			if err != nil {
				return err
			}
			_, err = status.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
}
