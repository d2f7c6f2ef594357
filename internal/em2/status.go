package em2

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
)

// ChannelStatus is the configuration snapshot of one channel
type ChannelStatus struct {
	Name           string
	Range          string
	Inversion      bool
	InstantCurrent float64
}

// Status is a full snapshot of the electrometer configuration
type Status struct {
	IDN              string
	Address          string
	TimestampData    bool
	State            string
	Mode             string
	AcquisitionTime  time.Duration
	NbPoints         int
	NbPointsReady    int
	TriggerMode      string
	TriggerInput     string
	TriggerDelay     time.Duration
	TriggerPolarity  string
	TriggerPrecision bool
	Channels         []ChannelStatus
}

// Status queries every setting of the electrometer
func (c *Client) Status(ctx context.Context) (*Status, error) {
	s := &Status{Address: fmt.Sprintf("%s:%d", c.host, c.port)}

	var err error
	steps := []func() error{
		func() error { s.IDN, err = c.IDN(ctx); return err },
		func() error { s.TimestampData, err = c.TimestampData(ctx); return err },
		func() error { s.State, err = c.AcquisitionState(ctx); return err },
		func() error { s.Mode, err = c.AcquisitionMode(ctx); return err },
		func() error { s.AcquisitionTime, err = c.AcquisitionTime(ctx); return err },
		func() error { s.NbPoints, err = c.NbPoints(ctx); return err },
		func() error { s.NbPointsReady, err = c.NbPointsReady(ctx); return err },
		func() error { s.TriggerMode, err = c.TriggerMode(ctx); return err },
		func() error { s.TriggerInput, err = c.TriggerInput(ctx); return err },
		func() error { s.TriggerDelay, err = c.TriggerDelay(ctx); return err },
		func() error { s.TriggerPolarity, err = c.TriggerPolarity(ctx); return err },
		func() error { s.TriggerPrecision, err = c.TriggerPrecision(ctx); return err },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	for _, ch := range c.channels {
		cs := ChannelStatus{Name: ch.Name()}
		if cs.Range, err = ch.Range(ctx); err != nil {
			return nil, err
		}
		if cs.Inversion, err = ch.Inversion(ctx); err != nil {
			return nil, err
		}
		if cs.InstantCurrent, err = ch.InstantCurrent(ctx); err != nil {
			return nil, err
		}
		s.Channels = append(s.Channels, cs)
	}

	return s, nil
}

// WriteTo renders the snapshot as aligned tables
func (s *Status) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, s.IDN)
	t := tabby.NewCustom(tw)
	t.AddLine("connection:", s.Address)
	t.AddLine("timestamp data:", s.TimestampData)
	t.AddLine("acquisition state:", s.State)
	t.AddLine("acquisition mode:", s.Mode)
	t.AddLine("acquisition time:", s.AcquisitionTime)
	t.AddLine("nb. points:", s.NbPoints)
	t.AddLine("nb. points ready:", s.NbPointsReady)
	t.AddLine("trigger mode:", s.TriggerMode)
	t.AddLine("trigger input:", s.TriggerInput)
	t.AddLine("trigger delay:", s.TriggerDelay)
	t.AddLine("trigger polarity:", s.TriggerPolarity)
	t.AddLine("trigger precise:", s.TriggerPrecision)
	t.Print()

	fmt.Fprintln(tw)
	t = tabby.NewCustom(tw)
	t.AddHeader("CHANNEL", "RANGE", "INVERSION", "CURRENT")
	for _, ch := range s.Channels {
		t.AddLine(ch.Name, ch.Range, ch.Inversion, humanize.SIWithDigits(ch.InstantCurrent, 3, "A"))
	}
	t.Print()

	return cw.n, cw.err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}
