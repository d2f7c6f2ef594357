package cli

import (
	"fmt"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/spf13/cobra"
)

// NewPubkeyCmd creates the pubkey command
func NewPubkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Print the public key verifying exported files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSigner(configFrom(cmd))
			if err != nil {
				return err
			}
			if s == nil {
				return &models.AlbaEMError{
					Type: models.ErrInvalidConfig,
					Err:  fmt.Errorf("no GPG key configured (gpg.key or ALBAEM_GPG_KEY)"),
				}
			}

			key, err := s.PublicKey()
			if err != nil {
				return &models.AlbaEMError{Type: models.ErrSigning, Err: err}
			}
			_, err = cmd.OutOrStdout().Write(key)
			return err
		},
	}
}
