// Package stress repeats acquisitions on an electrometer to check the
// stability of the communication and of the data buffer.
package stress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/em2"
	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Options configures a stress run
type Options struct {
	NbScans     int
	Integration time.Duration
	NbPoints    int
	Mode        string
	// RecoveryPause is waited after a failed scan
	RecoveryPause time.Duration
	// Progress receives the progress bar, nil hides it
	Progress io.Writer
}

// Summary is the outcome of Run
type Summary struct {
	Scans    int
	Failures int
}

// String formats the summary line
func (s Summary) String() string {
	return fmt.Sprintf("Failures %d of %d", s.Failures, s.Scans)
}

// Plan returns the repetitions per start and the number of starts for mode
func Plan(mode string, nbPoints int) (repetitions, nbStarts int, err error) {
	switch strings.ToUpper(mode) {
	case models.TriggerSoftware:
		return 1, nbPoints, nil
	case models.TriggerHardware, models.TriggerGate:
		return nbPoints, 1, nil
	default:
		return 0, 0, models.NewError(models.ErrInvalidConfig, "mode %q not allowed", mode)
	}
}

// Run executes opts.NbScans scans and counts the failed ones
func Run(ctx context.Context, em *em2.Client, opts Options) (Summary, error) {
	mode := strings.ToUpper(opts.Mode)
	repetitions, nbStarts, err := Plan(mode, opts.NbPoints)
	if err != nil {
		return Summary{}, err
	}
	if opts.RecoveryPause == 0 {
		opts.RecoveryPause = 2 * time.Second
	}

	bar := progressbar.NewOptions(opts.NbScans,
		progressbar.OptionSetDescription("scans"),
		progressbar.OptionSetVisibility(opts.Progress != nil),
		progressbar.OptionSetWriter(writerOrDiscard(opts.Progress)),
		progressbar.OptionShowCount(),
	)

	summary := Summary{}
	failed := false
	for i := 0; i < opts.NbScans; i++ {
		if failed {
			logrus.Infof("Wait %s to recover system", opts.RecoveryPause)
			if err := sleep(ctx, opts.RecoveryPause); err != nil {
				return summary, err
			}
		}

		logrus.Infof("Start scan %d: Integration %s, Repetitions %d, Starts %d, Mode %s",
			i, opts.Integration, repetitions, nbStarts, mode)
		err := Scan(ctx, em, opts.Integration, repetitions, nbStarts, mode)
		summary.Scans++
		failed = err != nil
		if failed {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			logrus.Errorf("Scan %d failed: %v", i, err)
			summary.Failures++
		}
		bar.Add(1)
	}
	bar.Finish()

	logrus.Info(strings.Repeat("-", 80))
	logrus.Info(summary.String())
	return summary, nil
}

// Scan runs one scan: prepare, arm, trigger (software mode) and read
// every point back, checking that all channels carry data.
func Scan(ctx context.Context, em *em2.Client, integration time.Duration, repetitions, nbStarts int, mode string) error {
	state, err := em.AcquisitionState(ctx)
	if err != nil {
		return err
	}
	if state != models.AcqStateOn {
		logrus.Warnf("State is not ON (%s) send stop", state)
		if err := em.StopAcquisition(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, 10*time.Millisecond); err != nil {
			return err
		}
		if state, err = em.AcquisitionState(ctx); err != nil {
			return err
		}
		if state != models.AcqStateOn {
			return fmt.Errorf("not ready for acquisition after stop command, state %s", state)
		}
	}

	// prepare
	if err := em.SetTriggerMode(ctx, mode); err != nil {
		return err
	}
	if err := em.SetAcquisitionTime(ctx, integration); err != nil {
		return err
	}
	total := repetitions * nbStarts
	if err := em.SetNbPoints(ctx, total); err != nil {
		return err
	}
	if err := em.SetTimestampData(ctx, false); err != nil {
		return err
	}
	timeout := integration * 200

	// arm
	if err := em.StartAcquisition(ctx, false); err != nil {
		return err
	}
	if state, err := em.AcquisitionState(ctx); err != nil {
		return err
	} else if mode == models.TriggerSoftware && state != models.AcqStateRunning {
		logrus.Errorf("State after start is not RUNNING, State %s", state)
	}

	if mode != models.TriggerSoftware {
		return waitAll(ctx, em, total, timeout*time.Duration(total))
	}

	for i := 0; i < nbStarts; i++ {
		if err := em.SoftwareTrigger(ctx); err != nil {
			return err
		}
		if err := waitWhileAcquiring(ctx, em, timeout); err != nil {
			stopOnFailure(em)
			return fmt.Errorf("point %d: %w", i, err)
		}

		ready, err := em.NbPointsReady(ctx)
		if err != nil {
			return err
		}
		logrus.Debugf("Data ready %d", ready)

		data, err := em.Read(ctx, ready-1, 1)
		if err != nil {
			return err
		}
		logrus.Debugf("Data read %v", data)
		if err := checkPoint(data, 1); err != nil {
			return fmt.Errorf("point %d: %w", ready, err)
		}
	}
	return nil
}

func waitWhileAcquiring(ctx context.Context, em *em2.Client, timeout time.Duration) error {
	start := time.Now()
	for {
		state, err := em.AcquisitionState(ctx)
		if err != nil {
			return err
		}
		if state != models.AcqStateAcquiring {
			return nil
		}
		logrus.Debugf("State %s", state)
		if time.Since(start) > timeout {
			return models.NewError(models.ErrTimeout, "acquisition timeout (%s)", timeout)
		}
		if err := sleep(ctx, em2.PollInterval); err != nil {
			return err
		}
	}
}

func waitAll(ctx context.Context, em *em2.Client, total int, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := em2.WaitState(waitCtx, em, models.AcqStateOn); err != nil {
		stopOnFailure(em)
		if ctx.Err() == nil && waitCtx.Err() != nil {
			return models.NewError(models.ErrTimeout, "acquisition timeout (%s)", timeout)
		}
		return err
	}

	data, err := em.Read(ctx, 0, -1)
	if err != nil {
		return err
	}
	return checkPoint(data, total)
}

func checkPoint(data []models.ChannelData, want int) error {
	if len(data) != models.NumChannels {
		return fmt.Errorf("there are not all channels: %v", data)
	}
	for _, ch := range data {
		if len(ch.Values) != want {
			return fmt.Errorf("channel %s has %d values, expected %d", ch.Name, len(ch.Values), want)
		}
	}
	return nil
}

func stopOnFailure(em *em2.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := em.StopAcquisition(ctx); err != nil {
		logrus.Warnf("Failed to stop acquisition: %v", err)
	}
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
