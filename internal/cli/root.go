package cli

import (
	"context"
	"fmt"

	"github.com/maxiv-kitscontrols/albaem/internal/config"
	"github.com/maxiv-kitscontrols/albaem/internal/em2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "dev"

type configKey struct{}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
	)

	rootCmd := &cobra.Command{
		Use:   "albaem",
		Short: "Drive ALBA EM#2 electrometers",
		Long: `Albaem talks to ALBA EM#2 four-channel electrometers over their
TCP command socket. It acquires currents, runs the counter/timer
controller, tunes the amplifier ranges and stress tests the device.

Settings are read from albaem.toml (or --config) and ALBAEM_* environment
variables; --host and --port override them.

License: GPLv3`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			// Setup logging
			if cfg.Log.JSON {
				logrus.SetFormatter(&logrus.JSONFormatter{})
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(cfg.LogLevel())
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey{}, cfg))
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./albaem.toml when present)")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "", "Electrometer host")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", em2.DefaultPort, "Electrometer port")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	rootCmd.AddCommand(
		NewStatusCmd(),
		NewAcquireCmd(),
		NewCountCmd(),
		NewRangeCmd(),
		NewInversionCmd(),
		NewAutorangeCmd(),
		NewFindRangeCmd(),
		NewStressCmd(),
		NewSimulateCmd(),
		NewPubkeyCmd(),
		NewVersionCmd(),
	)

	return rootCmd
}

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the albaem version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "albaem %s\n", Version)
			return err
		},
	}
}

func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	cfg := &config.Config{Port: em2.DefaultPort}
	return cfg
}
