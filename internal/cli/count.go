package cli

import (
	"context"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/maxiv-kitscontrols/albaem/internal/controller"
	"github.com/maxiv-kitscontrols/albaem/internal/memorize"
	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewCountCmd creates the count command
func NewCountCmd() *cobra.Command {
	var (
		integration time.Duration
		repetitions int
		syncName    string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count with the counter/timer controller",
		Long: `Runs one acquisition through the counter/timer controller the way a
scan does: load the timer, prepare and start every axis, poll the state
and read the values. Memorized formulas and acquisition mode apply.

Synchronization is one of software, softwaregate, hardware or gate.
Hardware modes need ext_trigger_input in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			syncMode, err := controller.ParseSynchronization(syncName)
			if err != nil {
				return err
			}

			cfg := configFrom(cmd)
			if err := requireHost(cfg); err != nil {
				return err
			}

			store, err := memorize.Open(cfg.MemorizeDB)
			if err != nil {
				return &models.AlbaEMError{Type: models.ErrFileOp, Command: cfg.MemorizeDB, Err: err}
			}
			defer store.Close()

			ctx := cmd.Context()
			ctrl, err := controller.New(ctx, controller.Properties{
				Name:            cfg.Name,
				Host:            cfg.Host,
				Port:            cfg.Port,
				ExtTriggerInput: cfg.ExtTriggerInput,
				Timeout:         cfg.Timeout,
				Retries:         cfg.Retries,
			}, store)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			columns, err := count(ctx, ctrl, syncMode, integration, repetitions)
			if err != nil {
				return err
			}

			if err := printColumns(cmd.OutOrStdout(), columns); err != nil {
				return err
			}
			return exportData(cfg, output, columns[1:])
		},
	}

	cmd.Flags().DurationVarP(&integration, "time", "t", time.Second, "Integration time")
	cmd.Flags().IntVarP(&repetitions, "repetitions", "r", 1, "Repetitions (hardware synchronization)")
	cmd.Flags().StringVarP(&syncName, "sync", "s", "software", "Synchronization")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the channel data to this CSV file")

	return cmd
}

// count runs the controller sequence and returns one column per axis
func count(ctx context.Context, ctrl *controller.CoTiCtrl, syncMode controller.Synchronization,
	integration time.Duration, repetitions int) ([]models.ChannelData, error) {

	for axis := 1; axis <= controller.MaxDevice; axis++ {
		if err := ctrl.AddDevice(axis); err != nil {
			return nil, err
		}
	}
	ctrl.SetSynchronization(syncMode)

	if err := ctrl.LoadOne(ctx, controller.TimerAxis, integration, repetitions, 0); err != nil {
		return nil, err
	}
	for axis := 1; axis <= controller.MaxDevice; axis++ {
		if err := ctrl.PreStartOne(ctx, axis); err != nil {
			return nil, err
		}
	}
	if err := ctrl.StartAll(ctx); err != nil {
		return nil, err
	}

	nbPoints := repetitions
	if syncMode.IsSoftware() {
		nbPoints = 1
	}
	timeout := time.Duration(nbPoints)*integration*2 + controller.StartTimeout
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	columns := make([]models.ChannelData, controller.MaxDevice)
	columns[0].Name = "timer"
	for axis := 2; axis <= controller.MaxDevice; axis++ {
		columns[axis-1].Name = "CHAN0" + strconv.Itoa(axis-1)
	}

	for {
		if err := ctrl.StateAll(waitCtx); err != nil {
			return nil, err
		}
		state, status, err := ctrl.StateOne(controller.TimerAxis)
		if err != nil {
			return nil, err
		}
		if state == controller.StateFault {
			return nil, models.NewError(models.ErrDevice, "controller in fault: %s", status)
		}

		// software starts always re-read the buffer from its beginning
		done := state == controller.StateOn
		if done || !syncMode.IsSoftware() {
			if err := ctrl.ReadAll(waitCtx); err != nil {
				return nil, err
			}
			for axis := 1; axis <= controller.MaxDevice; axis++ {
				values, err := ctrl.ReadOne(axis)
				if err != nil {
					return nil, err
				}
				columns[axis-1].Values = append(columns[axis-1].Values, values...)
			}
		}
		if done {
			break
		}
		select {
		case <-waitCtx.Done():
			ctrl.AbortOne(context.Background(), controller.TimerAxis)
			return nil, &models.AlbaEMError{Type: models.ErrTimeout, Err: waitCtx.Err()}
		case <-time.After(10 * time.Millisecond):
		}
	}

	logrus.Debugf("Counted %d points", models.Points(columns))
	return columns, nil
}

func humanizeSeconds(s float64) string {
	return humanize.SIWithDigits(s, 3, "s")
}

func printColumns(w io.Writer, columns []models.ChannelData) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	t := tabby.NewCustom(tw)

	header := []interface{}{"POINT"}
	for _, c := range columns {
		header = append(header, c.Name)
	}
	t.AddHeader(header...)

	for i := 0; i < models.Points(columns); i++ {
		row := []interface{}{strconv.Itoa(i), humanizeSeconds(columns[0].Values[i])}
		for _, c := range columns[1:] {
			row = append(row, humanize.FtoaWithDigits(c.Values[i], 6))
		}
		t.AddLine(row...)
	}
	t.Print()
	return nil
}
