// Package macros holds the electrometer range utilities: setting ranges,
// inversion and autorange on several channels, and searching the range
// that fits a signal over a motor scan.
package macros

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/sirupsen/logrus"
)

// Channel is an electrometer channel whose amplifier can be configured
type Channel interface {
	Name() string
	Range(ctx context.Context) (string, error)
	SetRange(ctx context.Context, r string) error
	Inversion(ctx context.Context) (bool, error)
	SetInversion(ctx context.Context, enabled bool) error
	Autorange(ctx context.Context) (bool, error)
	SetAutorange(ctx context.Context, enabled bool) error
}

// Mover positions the motor scanned by FindMaxRange
type Mover interface {
	Move(ctx context.Context, position float64) error
}

// RangeSetting asks for a range on a channel
type RangeSetting struct {
	Channel Channel
	Range   string
}

// Switch enables or disables a channel feature
type Switch struct {
	Channel Channel
	Enabled bool
}

// Change records an attribute update
type Change struct {
	Channel   string
	Attribute string
	Old       string
	New       string
}

// String formats the change the way it is reported to the user
func (c Change) String() string {
	return fmt.Sprintf("%s changed %s from %s to %s", c.Channel, c.Attribute, c.Old, c.New)
}

// Macros runs the range utilities. Changes are logged unless Quiet.
type Macros struct {
	Quiet bool
	// Checkpoint is the polling period while waiting for the autorange
	Checkpoint time.Duration
}

// New returns macros reporting their changes
func New() *Macros {
	return &Macros{Checkpoint: 10 * time.Millisecond}
}

func (m *Macros) report(c Change) {
	if !m.Quiet {
		logrus.Info(c.String())
	}
}

// SetRange changes the range of every channel
func (m *Macros) SetRange(ctx context.Context, settings []RangeSetting) ([]Change, error) {
	for _, s := range settings {
		if idx, err := models.RangeIndex(s.Range); err != nil || idx >= len(models.Ranges) {
			return nil, models.NewError(models.ErrInvalidConfig, "%s: unknown range %q", s.Channel.Name(), s.Range)
		}
	}

	changes := make([]Change, 0, len(settings))
	for _, s := range settings {
		old, err := s.Channel.Range(ctx)
		if err != nil {
			return changes, err
		}
		if err := s.Channel.SetRange(ctx, s.Range); err != nil {
			return changes, err
		}
		current, err := s.Channel.Range(ctx)
		if err != nil {
			return changes, err
		}
		c := Change{Channel: s.Channel.Name(), Attribute: "range", Old: old, New: current}
		m.report(c)
		changes = append(changes, c)
	}
	return changes, nil
}

// SetInversion enables or disables the polarity inversion of every channel
func (m *Macros) SetInversion(ctx context.Context, switches []Switch) ([]Change, error) {
	return m.toggle(ctx, "inversion", switches,
		func(ch Channel) (bool, error) { return ch.Inversion(ctx) },
		func(ch Channel, b bool) error { return ch.SetInversion(ctx, b) })
}

// SetAutorange enables or disables the autorange of every channel
func (m *Macros) SetAutorange(ctx context.Context, switches []Switch) ([]Change, error) {
	return m.toggle(ctx, "autorange", switches,
		func(ch Channel) (bool, error) { return ch.Autorange(ctx) },
		func(ch Channel, b bool) error { return ch.SetAutorange(ctx, b) })
}

func (m *Macros) toggle(ctx context.Context, attr string, switches []Switch,
	get func(Channel) (bool, error), set func(Channel, bool) error) ([]Change, error) {

	changes := make([]Change, 0, len(switches))
	for _, s := range switches {
		old, err := get(s.Channel)
		if err != nil {
			return changes, err
		}
		if err := set(s.Channel, s.Enabled); err != nil {
			return changes, err
		}
		current, err := get(s.Channel)
		if err != nil {
			return changes, err
		}
		c := Change{
			Channel:   s.Channel.Name(),
			Attribute: attr,
			Old:       strconv.FormatBool(old),
			New:       strconv.FormatBool(current),
		}
		m.report(c)
		changes = append(changes, c)
	}
	return changes, nil
}

// FindRange lets the electrometer pick the range of every channel for
// wait, then freezes it. The autorange is disabled even when ctx is
// cancelled.
func (m *Macros) FindRange(ctx context.Context, chans []Channel, wait time.Duration) (err error) {
	quiet := &Macros{Quiet: true}

	if _, err := quiet.SetAutorange(ctx, switches(chans, true)); err != nil {
		return err
	}
	defer func() {
		// ctx may be done already
		_, disableErr := quiet.SetAutorange(context.Background(), switches(chans, false))
		if err == nil {
			err = disableErr
		}
	}()

	checkpoint := m.Checkpoint
	if checkpoint <= 0 {
		checkpoint = 10 * time.Millisecond
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(checkpoint):
		}
	}
	return nil
}

// FindMaxRange moves the motor to every position, finds the range of each
// channel there and finally sets on each channel the widest range seen.
func (m *Macros) FindMaxRange(ctx context.Context, mover Mover, positions []float64, chans []Channel, wait time.Duration) ([]Change, error) {
	best := make([]string, len(chans))
	previous := make([]string, len(chans))
	for i, ch := range chans {
		r, err := ch.Range(ctx)
		if err != nil {
			return nil, err
		}
		previous[i] = r
		best[i] = models.RangeNone
		logrus.Debugf("%s: %s", ch.Name(), models.RangeNone)
	}

	for _, pos := range positions {
		if err := mover.Move(ctx, pos); err != nil {
			return nil, fmt.Errorf("failed to move to %v: %w", pos, err)
		}
		if err := m.FindRange(ctx, chans, wait); err != nil {
			return nil, err
		}

		for i, ch := range chans {
			r, err := ch.Range(ctx)
			if err != nil {
				return nil, err
			}
			newIdx, err := models.RangeIndex(r)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ch.Name(), err)
			}
			bestIdx, _ := models.RangeIndex(best[i])
			if newIdx < bestIdx {
				best[i] = r
			}
		}
	}

	logrus.Info("Setting maximum range...")
	settings := make([]RangeSetting, 0, len(chans))
	for i, ch := range chans {
		if best[i] == models.RangeNone {
			continue
		}
		settings = append(settings, RangeSetting{Channel: ch, Range: best[i]})
	}
	quiet := &Macros{Quiet: true}
	if _, err := quiet.SetRange(ctx, settings); err != nil {
		return nil, err
	}

	changes := make([]Change, 0, len(chans))
	for i, ch := range chans {
		c := Change{Channel: ch.Name(), Attribute: "range", Old: previous[i], New: best[i]}
		m.report(c)
		changes = append(changes, c)
	}
	return changes, nil
}

func switches(chans []Channel, enabled bool) []Switch {
	out := make([]Switch, len(chans))
	for i, ch := range chans {
		out[i] = Switch{Channel: ch, Enabled: enabled}
	}
	return out
}
