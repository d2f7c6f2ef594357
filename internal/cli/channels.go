package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/em2"
	"github.com/maxiv-kitscontrols/albaem/internal/macros"
	"github.com/spf13/cobra"
)

// NewRangeCmd creates the range command
func NewRangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "range CHANNEL RANGE [CHANNEL RANGE...]",
		Short: "Set the amplifier range of channels",
		Long: `Sets the range of each channel. Channels are 1-4 or CHAN01-CHAN04,
ranges one of 1mA, 100uA, 10uA, 1uA, 100nA, 10nA, 1nA, 100pA.`,
		Example: "  albaem range 1 1uA CHAN02 100nA",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChannelPairs(cmd, args, func(ctx context.Context, em *em2.Client, pairs [][2]string) ([]macros.Change, error) {
				settings := make([]macros.RangeSetting, 0, len(pairs))
				for _, p := range pairs {
					ch, err := parseChannel(em, p[0])
					if err != nil {
						return nil, err
					}
					settings = append(settings, macros.RangeSetting{Channel: ch, Range: p[1]})
				}
				return macros.New().SetRange(ctx, settings)
			})
		},
	}
}

// NewInversionCmd creates the inversion command
func NewInversionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "inversion CHANNEL on|off [CHANNEL on|off...]",
		Short:   "Enable or disable the polarity inversion of channels",
		Example: "  albaem inversion 1 on 2 off",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChannelPairs(cmd, args, func(ctx context.Context, em *em2.Client, pairs [][2]string) ([]macros.Change, error) {
				switches, err := parseSwitches(em, pairs)
				if err != nil {
					return nil, err
				}
				return macros.New().SetInversion(ctx, switches)
			})
		},
	}
}

// NewAutorangeCmd creates the autorange command
func NewAutorangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "autorange CHANNEL on|off [CHANNEL on|off...]",
		Short:   "Enable or disable the autorange of channels",
		Example: "  albaem autorange 3 on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChannelPairs(cmd, args, func(ctx context.Context, em *em2.Client, pairs [][2]string) ([]macros.Change, error) {
				switches, err := parseSwitches(em, pairs)
				if err != nil {
					return nil, err
				}
				return macros.New().SetAutorange(ctx, switches)
			})
		},
	}
}

// NewFindRangeCmd creates the findrange command
func NewFindRangeCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "findrange [CHANNEL...]",
		Short: "Let the autorange settle and freeze the ranges",
		Long: `Enables the autorange on the channels (all by default), waits and
disables it again, leaving each channel on the range the electrometer
selected. The autorange is disabled even when interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			em, err := openDevice(ctx, configFrom(cmd))
			if err != nil {
				return err
			}
			defer em.Close()

			var chans []macros.Channel
			if len(args) == 0 {
				for _, ch := range em.Channels() {
					chans = append(chans, ch)
				}
			}
			for _, arg := range args {
				ch, err := parseChannel(em, arg)
				if err != nil {
					return err
				}
				chans = append(chans, ch)
			}

			if err := macros.New().FindRange(ctx, chans, wait); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ch := range chans {
				r, err := ch.Range(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", ch.Name(), r)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&wait, "wait", "w", 3*time.Second, "Time given to the autorange")

	return cmd
}

type pairsAction func(ctx context.Context, em *em2.Client, pairs [][2]string) ([]macros.Change, error)

func withChannelPairs(cmd *cobra.Command, args []string, action pairsAction) error {
	pairs, err := parsePairs(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	em, err := openDevice(ctx, configFrom(cmd))
	if err != nil {
		return err
	}
	defer em.Close()

	changes, err := action(ctx, em, pairs)
	printChanges(cmd.OutOrStdout(), changes)
	return err
}

func parseSwitches(em *em2.Client, pairs [][2]string) ([]macros.Switch, error) {
	switches := make([]macros.Switch, 0, len(pairs))
	for _, p := range pairs {
		ch, err := parseChannel(em, p[0])
		if err != nil {
			return nil, err
		}
		enabled, err := parseSwitch(p[1])
		if err != nil {
			return nil, err
		}
		switches = append(switches, macros.Switch{Channel: ch, Enabled: enabled})
	}
	return switches, nil
}

func printChanges(w io.Writer, changes []macros.Change) {
	for _, c := range changes {
		fmt.Fprintln(w, c.String())
	}
}
