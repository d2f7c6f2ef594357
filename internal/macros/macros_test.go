package macros

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/em2"
	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/maxiv-kitscontrols/albaem/internal/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDevice(t *testing.T) (*simulator.Simulator, *em2.Client) {
	t.Helper()
	sim, err := simulator.New(simulator.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, sim.Start("127.0.0.1:0"))
	t.Cleanup(func() { sim.Close() })

	em := em2.New(em2.Options{Host: "127.0.0.1", Port: sim.Addr().Port, Timeout: time.Second})
	t.Cleanup(func() { em.Close() })
	return sim, em
}

func channels(t *testing.T, em *em2.Client, nbs ...int) []Channel {
	t.Helper()
	var out []Channel
	for _, nb := range nbs {
		ch, err := em.Channel(nb)
		require.NoError(t, err)
		out = append(out, ch)
	}
	return out
}

func TestSetRange(t *testing.T) {
	_, em := startDevice(t)
	ctx := context.Background()
	chans := channels(t, em, 1, 2)

	changes, err := New().SetRange(ctx, []RangeSetting{
		{Channel: chans[0], Range: "1uA"},
		{Channel: chans[1], Range: "100pA"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{Channel: "CHAN01", Attribute: "range", Old: "1mA", New: "1uA"},
		{Channel: "CHAN02", Attribute: "range", Old: "1mA", New: "100pA"},
	}, changes)
	assert.Equal(t, "CHAN01 changed range from 1mA to 1uA", changes[0].String())
}

func TestSetRangeRejectsUnknownRange(t *testing.T) {
	_, em := startDevice(t)
	ctx := context.Background()
	chans := channels(t, em, 1, 2)

	_, err := New().SetRange(ctx, []RangeSetting{
		{Channel: chans[0], Range: "1uA"},
		{Channel: chans[1], Range: "none"},
	})
	require.Error(t, err)

	r, err := chans[0].Range(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1mA", r, "nothing is applied when a range is invalid")
}

func TestSetInversionAndAutorange(t *testing.T) {
	_, em := startDevice(t)
	ctx := context.Background()
	chans := channels(t, em, 3)

	changes, err := New().SetInversion(ctx, []Switch{{Channel: chans[0], Enabled: true}})
	require.NoError(t, err)
	assert.Equal(t, []Change{{Channel: "CHAN03", Attribute: "inversion", Old: "false", New: "true"}}, changes)

	m := New()
	m.Quiet = true
	changes, err = m.SetAutorange(ctx, []Switch{{Channel: chans[0], Enabled: true}})
	require.NoError(t, err)
	assert.Equal(t, "true", changes[0].New)
}

func TestFindRange(t *testing.T) {
	sim, em := startDevice(t)
	ctx := context.Background()
	sim.SetCurrent(1, 3e-9)
	chans := channels(t, em, 1)

	m := New()
	m.Checkpoint = time.Millisecond
	require.NoError(t, m.FindRange(ctx, chans, 5*time.Millisecond))

	auto, err := chans[0].Autorange(ctx)
	require.NoError(t, err)
	assert.False(t, auto, "autorange is switched off afterwards")

	r, err := chans[0].Range(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10nA", r)
}

func TestFindRangeCancelled(t *testing.T) {
	_, em := startDevice(t)
	chans := channels(t, em, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New().FindRange(ctx, chans, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

type simMover struct {
	sim      *simulator.Simulator
	currents map[float64][2]float64
	moves    []float64
}

func (m *simMover) Move(_ context.Context, pos float64) error {
	c, ok := m.currents[pos]
	if !ok {
		return errors.New("position out of limits")
	}
	m.moves = append(m.moves, pos)
	m.sim.SetCurrent(1, c[0])
	m.sim.SetCurrent(2, c[1])
	return nil
}

func TestFindMaxRange(t *testing.T) {
	sim, em := startDevice(t)
	ctx := context.Background()
	chans := channels(t, em, 1, 2)
	require.NoError(t, chans[1].SetRange(ctx, "1uA"))

	mover := &simMover{sim: sim, currents: map[float64][2]float64{
		8000: {5e-8, 5e-10},
		8500: {5e-6, 5e-11},
		9000: {5e-9, 5e-10},
	}}

	m := New()
	m.Checkpoint = time.Millisecond
	changes, err := m.FindMaxRange(ctx, mover, []float64{8000, 8500, 9000}, chans, 2*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []float64{8000, 8500, 9000}, mover.moves)
	assert.Equal(t, []Change{
		{Channel: "CHAN01", Attribute: "range", Old: "1mA", New: "10uA"},
		{Channel: "CHAN02", Attribute: "range", Old: "1uA", New: "1nA"},
	}, changes)

	for i, want := range []string{"10uA", "1nA"} {
		r, err := chans[i].Range(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, r)
	}

	_, err = m.FindMaxRange(ctx, mover, []float64{1}, chans, time.Millisecond)
	assert.Error(t, err)
}

func TestRangeOrder(t *testing.T) {
	wide, err := models.RangeIndex("1mA")
	require.NoError(t, err)
	narrow, err := models.RangeIndex("100pA")
	require.NoError(t, err)
	none, err := models.RangeIndex(models.RangeNone)
	require.NoError(t, err)
	assert.True(t, wide < narrow && narrow < none)
}
