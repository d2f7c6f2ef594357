package em2

import (
	"testing"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannelData(t *testing.T) {
	data, err := parseChannelData("[['CHAN01', [1.5, 2]], ('CHAN02', [-3e-09, 4.0])]")
	require.NoError(t, err)
	assert.Equal(t, []models.ChannelData{
		{Name: "CHAN01", Values: []float64{1.5, 2}},
		{Name: "CHAN02", Values: []float64{-3e-09, 4}},
	}, data)

	data, err = parseChannelData("{'CHAN01': [], 'CHAN02': [1]}")
	require.NoError(t, err)
	assert.Equal(t, "CHAN02", data[1].Name)
	assert.Empty(t, data[0].Values)
}

func TestParseChannelDataRejectsGarbage(t *testing.T) {
	for _, reply := range []string{
		"[['CHAN01']]",
		"[[1, [1.0]]]",
		"[['CHAN01', ['x']]]",
		"42",
		"[['CHAN01', [1.0]]",
		"__import__('os')",
	} {
		_, err := parseChannelData(reply)
		assert.Error(t, err, reply)
		assert.True(t, models.IsType(err, models.ErrProtocol), reply)
	}
}

func TestParseScalars(t *testing.T) {
	values, err := parseFloatList("[1, 2.5]")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, values)

	values, err = parseFloatList("3.25")
	require.NoError(t, err)
	assert.Equal(t, []float64{3.25}, values)

	n, err := parseInt("12.0")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = parseFloat("nope")
	assert.Error(t, err)
}
