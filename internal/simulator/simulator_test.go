package simulator

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newSim(t *testing.T, firmware string) (*Simulator, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Firmware = firmware
	s, err := New(cfg)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s.now = clock.now
	return s, clock
}

func TestIdentificationAndErrors(t *testing.T) {
	s, _ := newSim(t, "2.1.0")

	assert.Equal(t, "ALBA Em#2 simulator,SN0000,2.1.0", s.Handle("*idn?\n"))
	assert.Equal(t, "STATE_ON", s.Handle("ACQU:STAT?;"))
	assert.Equal(t, "ERROR: Unknown command FOO", s.Handle("foo"))
	assert.Equal(t, "ERROR: Invalid range \"2mA\"", s.Handle("CHAN01:CABO:RANGE 2mA"))
	assert.Equal(t, "ERROR: Invalid channel CHAN05", s.Handle("CHAN05:CABO:RANGE?"))
}

func TestSoftwareTriggeredAcquisition(t *testing.T) {
	s, clock := newSim(t, "2.1.0")

	assert.Equal(t, "ACK", s.Handle("ACQU:TIME 10"))
	assert.Equal(t, "ACK", s.Handle("ACQU:NTRIG 2"))
	assert.Equal(t, "ACK", s.Handle("ACQU:START"))
	assert.Equal(t, "STATE_RUNNING", s.Handle("ACQU:STAT?"))

	assert.Equal(t, "ACK", s.Handle("TRIG:SWSE True"))
	assert.Equal(t, "STATE_ACQUIRING", s.Handle("ACQU:STAT?"))
	assert.Contains(t, s.Handle("TRIG:SWSE True"), "in progress")

	clock.advance(10 * time.Millisecond)
	assert.Equal(t, "STATE_RUNNING", s.Handle("ACQU:STAT?"))
	assert.Equal(t, "1", s.Handle("ACQU:NDAT?"))

	assert.Equal(t, "ACK", s.Handle("TRIG:SWSE True"))
	clock.advance(10 * time.Millisecond)
	assert.Equal(t, "STATE_ON", s.Handle("ACQU:STAT?"))
	assert.Equal(t, "2", s.Handle("ACQU:NDAT?"))

	assert.Equal(t, "[['CHAN01', [1e-09]], ['CHAN02', [2e-09]], ['CHAN03', [3e-09]], ['CHAN04', [4e-09]]]",
		s.Handle("ACQU:MEAS? 1,1"))
}

func TestTriggerTrainAndStop(t *testing.T) {
	s, clock := newSim(t, "2.1.0")

	s.Handle("ACQU:TIME 5")
	s.Handle("ACQU:NTRIG 10")
	s.Handle("TRIG:MODE HARDWARE")
	s.Handle("ACQU:START")
	assert.Equal(t, "STATE_ACQUIRING", s.Handle("ACQU:STAT?"))

	clock.advance(16 * time.Millisecond)
	assert.Equal(t, "3", s.Handle("ACQU:NDAT?"))

	s.Handle("ACQU:STOP True")
	clock.advance(time.Second)
	assert.Equal(t, "STATE_ON", s.Handle("ACQU:STAT?"))
	assert.Equal(t, "3", s.Handle("ACQU:NDAT?"))
}

func TestLegacyFirmwareReadIndex(t *testing.T) {
	s, clock := newSim(t, "2.0")
	s.SetCurrent(1, 5)

	s.Handle("ACQU:TIME 1")
	s.Handle("ACQU:NTRIG 3")
	s.Handle("ACQU:START SWTRIG")
	clock.advance(3 * time.Millisecond)

	// legacy firmware counts from -1
	assert.Equal(t, "[['CHAN01', [5, 5, 5]], ['CHAN02', [2e-09, 2e-09, 2e-09]], ['CHAN03', [3e-09, 3e-09, 3e-09]], ['CHAN04', [4e-09, 4e-09, 4e-09]]]",
		s.Handle("ACQU:MEAS? -1"))
	assert.Contains(t, s.Handle("ACQU:MEAS? -2"), "ERROR:")
}

func TestAutorange(t *testing.T) {
	s, _ := newSim(t, "2.1.0")
	s.SetCurrent(2, 5e-8)

	assert.Equal(t, "1mA", s.Handle("CHAN02:CABO:RANGE?"))
	s.Handle("CHAN02:CABO:AUTO On")
	assert.Equal(t, "On", s.Handle("CHAN02:CABO:AUTO?"))
	assert.Equal(t, "100nA", s.Handle("CHAN02:CABO:RANGE?"))

	s.Handle("CHAN02:CABO:AUTO Off")
	assert.Equal(t, "100nA", s.Handle("CHAN02:CABO:RANGE?"), "range is kept when autorange stops")

	s.Handle("CHAN02:CABO:INVE 1")
	assert.Equal(t, "On", s.Handle("CHAN02:CABO:INVE?"))
	assert.Equal(t, "-5e-08", s.Handle("CHAN02:INSC?"))
	v, err := strconv.ParseFloat(s.Handle("CHAN02:INSV?"), 64)
	require.NoError(t, err)
	assert.InDelta(t, -5, v, 1e-9)
}
