package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/maxiv-kitscontrols/albaem/internal/simulator"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewSimulateCmd creates the simulate command
func NewSimulateCmd() *cobra.Command {
	var (
		listen   string
		firmware string
		currents []float64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve an emulated EM#2 on a TCP port",
		Long: `Starts an in-process electrometer emulator speaking the EM#2 command
protocol, to try the other commands without hardware. Firmware versions
up to 2.0 reproduce the shifted read index of old devices.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := simulator.DefaultConfig()
			cfg.Firmware = firmware
			copy(cfg.Currents[:], currents)

			sim, err := simulator.New(cfg)
			if err != nil {
				return err
			}
			if err := sim.Listen(listen); err != nil {
				return err
			}
			defer sim.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logrus.Infof("Simulating EM#2 firmware %s on %s", cfg.Firmware, sim.Addr())
			return sim.Serve(ctx)
		},
	}

	def := simulator.DefaultConfig()
	cmd.Flags().StringVarP(&listen, "listen", "l", ":5025", "Listen address")
	cmd.Flags().StringVar(&firmware, "firmware", def.Firmware, "Reported firmware version")
	cmd.Flags().Float64SliceVar(&currents, "currents", def.Currents[:], "Input currents of the channels in amperes")

	return cmd
}
