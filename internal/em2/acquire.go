package em2

import (
	"context"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/sirupsen/logrus"
)

// PollInterval is the pause between two state queries while waiting
var PollInterval = 10 * time.Millisecond

// Acquire runs a software triggered acquisition of nbPoints points of
// acqTime each and returns the data. Cancelling ctx stops the acquisition
// on the device.
func Acquire(ctx context.Context, em *Client, acqTime time.Duration, nbPoints int) ([]models.ChannelData, error) {
	start := time.Now()
	defer func() {
		logrus.Debugf("Acquisition took %s", time.Since(start))
	}()

	data, err := acquire(ctx, em, acqTime, nbPoints)
	if err != nil && ctx.Err() != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if stopErr := em.StopAcquisition(stopCtx); stopErr != nil {
			logrus.Warnf("Failed to stop acquisition: %v", stopErr)
		}
	}
	return data, err
}

func acquire(ctx context.Context, em *Client, acqTime time.Duration, nbPoints int) ([]models.ChannelData, error) {
	if acqTime > 0 {
		if err := em.SetAcquisitionTime(ctx, acqTime); err != nil {
			return nil, err
		}
		if err := em.SetNbPoints(ctx, nbPoints); err != nil {
			return nil, err
		}
	}

	if err := em.StartAcquisition(ctx, true); err != nil {
		return nil, err
	}
	started := time.Now()

	wait := acqTime - 100*time.Millisecond
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	if err := sleep(ctx, wait); err != nil {
		return nil, err
	}

	if err := WaitState(ctx, em, models.AcqStateOn); err != nil {
		return nil, err
	}
	logrus.Debugf("Acquisition finished after %s", time.Since(started))

	return em.Read(ctx, 0, -1)
}

// WaitState polls the acquisition state until it equals state
func WaitState(ctx context.Context, em *Client, state string) error {
	for {
		current, err := em.AcquisitionState(ctx)
		if err != nil {
			return err
		}
		if current == state {
			return nil
		}
		if err := sleep(ctx, PollInterval); err != nil {
			return err
		}
	}
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
