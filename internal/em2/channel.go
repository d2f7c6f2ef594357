package em2

import (
	"context"
	"fmt"
	"strings"
)

// Channel is one current input of the electrometer
type Channel struct {
	em *Client
	nb int
}

// Number returns the 1 based channel number
func (ch *Channel) Number() int { return ch.nb }

// Name returns the device name of the channel, e.g. CHAN01
func (ch *Channel) Name() string {
	return fmt.Sprintf("CHAN%02d", ch.nb)
}

func (ch *Channel) cmd(suffix string) string {
	return ch.Name() + ":" + suffix
}

// Range returns the amplifier range, e.g. 1mA
func (ch *Channel) Range(ctx context.Context) (string, error) {
	return ch.em.Command(ctx, ch.cmd("CABO:RANGE?"))
}

// SetRange sets the amplifier range
func (ch *Channel) SetRange(ctx context.Context, r string) error {
	_, err := ch.em.Command(ctx, ch.cmd("CABO:RANGE "+r))
	return err
}

// Inversion reports whether the digital inversion is enabled
func (ch *Channel) Inversion(ctx context.Context) (bool, error) {
	return ch.onOff(ctx, "CABO:INVE?")
}

// SetInversion enables or disables the digital inversion
func (ch *Channel) SetInversion(ctx context.Context, enabled bool) error {
	_, err := ch.em.Command(ctx, ch.cmd("CABO:INVE "+formatOnOff(enabled)))
	return err
}

// Autorange reports whether the automatic range selection is enabled
func (ch *Channel) Autorange(ctx context.Context) (bool, error) {
	return ch.onOff(ctx, "CABO:AUTO?")
}

// SetAutorange enables or disables the automatic range selection
func (ch *Channel) SetAutorange(ctx context.Context, enabled bool) error {
	_, err := ch.em.Command(ctx, ch.cmd("CABO:AUTO "+formatOnOff(enabled)))
	return err
}

// InstantCurrent returns the current measured right now
func (ch *Channel) InstantCurrent(ctx context.Context) (float64, error) {
	return ch.em.floatQuery(ctx, ch.cmd("INSC?"))
}

// InstantVoltage returns the amplifier output voltage measured right now
func (ch *Channel) InstantVoltage(ctx context.Context) (float64, error) {
	return ch.em.floatQuery(ctx, ch.cmd("INSV?"))
}

// CurrentBuffer returns the buffered current readings
func (ch *Channel) CurrentBuffer(ctx context.Context) ([]float64, error) {
	return ch.list(ctx, "CURR?")
}

// VoltageBuffer returns the buffered voltage readings
func (ch *Channel) VoltageBuffer(ctx context.Context) ([]float64, error) {
	return ch.list(ctx, "VOLT?")
}

func (ch *Channel) onOff(ctx context.Context, query string) (bool, error) {
	reply, err := ch.em.Command(ctx, ch.cmd(query))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(reply) {
	case "on", "true", "1":
		return true, nil
	default:
		return false, nil
	}
}

func (ch *Channel) list(ctx context.Context, query string) ([]float64, error) {
	reply, err := ch.em.Command(ctx, ch.cmd(query))
	if err != nil {
		return nil, err
	}
	return parseFloatList(reply)
}

func formatOnOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}
