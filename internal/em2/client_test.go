package em2

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/maxiv-kitscontrols/albaem/internal/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDevice(t *testing.T, firmware string) (*simulator.Simulator, *Client) {
	t.Helper()
	cfg := simulator.DefaultConfig()
	cfg.Firmware = firmware
	sim, err := simulator.New(cfg)
	require.NoError(t, err)
	require.NoError(t, sim.Start("127.0.0.1:0"))
	t.Cleanup(func() { sim.Close() })

	em := New(Options{Host: "127.0.0.1", Port: sim.Addr().Port, Timeout: time.Second})
	require.NoError(t, em.Open(context.Background()))
	t.Cleanup(func() { em.Close() })
	return sim, em
}

func TestOpenDetectsReadIndexBug(t *testing.T) {
	tests := []struct {
		firmware string
		bug      bool
	}{
		{"2.1.0", false},
		{"1.9", true},
		{"2.0", true},
		{"2.0.0", false},
		{"2.0.0.1", false},
		{"1.2.3.4", true},
	}

	for _, tt := range tests {
		t.Run(tt.firmware, func(t *testing.T) {
			_, em := startDevice(t, tt.firmware)
			assert.Equal(t, tt.bug, em.ReadIndexBug())
			assert.Equal(t, tt.firmware, em.Firmware().String())

			fw, err := em.SoftwareVersion(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.firmware, fw.String())
		})
	}
}

func TestReadWithFourFieldFirmware(t *testing.T) {
	for _, firmware := range []string{"2.0.0.1", "1.2.3.4"} {
		t.Run(firmware, func(t *testing.T) {
			sim, em := startDevice(t, firmware)
			sim.SetCurrent(1, 5e-9)
			ctx := context.Background()

			data, err := Acquire(ctx, em, time.Millisecond, 2)
			require.NoError(t, err)
			require.Len(t, data, models.NumChannels)
			assert.Equal(t, []float64{5e-9, 5e-9}, data[0].Values)
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	_, em := startDevice(t, "2.1.0")
	ctx := context.Background()

	require.NoError(t, em.SetAcquisitionTime(ctx, 250*time.Microsecond))
	d, err := em.AcquisitionTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Microsecond, d)

	require.NoError(t, em.SetNbPoints(ctx, 7))
	n, err := em.NbPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	require.NoError(t, em.SetTriggerMode(ctx, models.TriggerGate))
	mode, err := em.TriggerMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerGate, mode)

	require.NoError(t, em.SetTriggerPrecision(ctx, true))
	precise, err := em.TriggerPrecision(ctx)
	require.NoError(t, err)
	assert.True(t, precise)

	require.NoError(t, em.SetTimestampData(ctx, true))
	tmst, err := em.TimestampData(ctx)
	require.NoError(t, err)
	assert.True(t, tmst)

	require.NoError(t, em.SetTriggerDelay(ctx, 2*time.Millisecond))
	delay, err := em.TriggerDelay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Millisecond, delay)
}

func TestDeviceErrors(t *testing.T) {
	_, em := startDevice(t, "2.1.0")
	ctx := context.Background()

	err := em.SetTriggerInput(ctx, "DIO_9")
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrDevice))
	assert.Contains(t, err.Error(), "Invalid trigger input")

	ch, err := em.Channel(1)
	require.NoError(t, err)
	assert.Error(t, ch.SetRange(ctx, "3mA"))

	_, err = em.Channel(5)
	assert.True(t, models.IsType(err, models.ErrInvalidAxis))
}

func TestChannels(t *testing.T) {
	sim, em := startDevice(t, "2.1.0")
	ctx := context.Background()
	sim.SetCurrent(3, 4e-7)

	ch, err := em.Channel(3)
	require.NoError(t, err)
	assert.Equal(t, "CHAN03", ch.Name())
	assert.Equal(t, 3, ch.Number())

	require.NoError(t, ch.SetRange(ctx, "10uA"))
	r, err := ch.Range(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10uA", r)

	require.NoError(t, ch.SetInversion(ctx, true))
	inv, err := ch.Inversion(ctx)
	require.NoError(t, err)
	assert.True(t, inv)

	current, err := ch.InstantCurrent(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -4e-7, current, 1e-15)

	require.NoError(t, ch.SetAutorange(ctx, true))
	auto, err := ch.Autorange(ctx)
	require.NoError(t, err)
	assert.True(t, auto)
	r, err = ch.Range(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1uA", r)

	assert.Len(t, em.Channels(), models.NumChannels)
}

func TestSoftwareTriggeredRead(t *testing.T) {
	for _, fw := range []string{"2.1.0", "1.2"} {
		t.Run(fw, func(t *testing.T) {
			_, em := startDevice(t, fw)
			ctx := context.Background()

			require.NoError(t, em.SetAcquisitionTime(ctx, time.Millisecond))
			require.NoError(t, em.SetNbPoints(ctx, 2))
			require.NoError(t, em.StartAcquisition(ctx, false))

			state, err := em.AcquisitionState(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.AcqStateRunning, state)

			for i := 0; i < 2; i++ {
				require.NoError(t, em.SoftwareTrigger(ctx))
				time.Sleep(5 * time.Millisecond)
			}
			require.NoError(t, WaitState(ctx, em, models.AcqStateOn))

			ready, err := em.NbPointsReady(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, ready)

			data, err := em.Read(ctx, 1, 1)
			require.NoError(t, err)
			require.Len(t, data, 4)
			assert.Equal(t, "CHAN01", data[0].Name)
			assert.Equal(t, []float64{1e-9}, data[0].Values)
			assert.Equal(t, []float64{4e-9}, data[3].Values)

			all, err := em.Read(ctx, 0, -1)
			require.NoError(t, err)
			assert.Equal(t, 2, models.Points(all))
		})
	}
}

func TestAcquire(t *testing.T) {
	_, em := startDevice(t, "2.1.0")

	data, err := Acquire(context.Background(), em, 2*time.Millisecond, 3)
	require.NoError(t, err)
	require.Len(t, data, 4)
	assert.Equal(t, 3, models.Points(data))
}

func TestAcquireCancelStopsDevice(t *testing.T) {
	_, em := startDevice(t, "2.1.0")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Acquire(ctx, em, time.Second, 100)
	require.Error(t, err)

	state, err := em.AcquisitionState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AcqStateOn, state)
}

func TestStatus(t *testing.T) {
	_, em := startDevice(t, "2.1.0")

	s, err := em.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AcqStateOn, s.State)
	assert.Equal(t, "CURRENT", s.Mode)
	require.Len(t, s.Channels, 4)
	assert.Equal(t, "1mA", s.Channels[0].Range)

	var buf bytes.Buffer
	_, err = s.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "ALBA Em#2 simulator")
	assert.Contains(t, out, "CHAN04")
	assert.Contains(t, out, "4 nA")
}
