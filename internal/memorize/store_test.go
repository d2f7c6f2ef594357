package memorize

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memorized.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.True(t, s.Enabled())

	require.NoError(t, s.Save("em1", "acquisitionmode", "CHARGE"))
	require.NoError(t, s.Save("em1", "formula/2", "value*2"))
	require.NoError(t, s.Save("em2", "acquisitionmode", "CURRENT"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var mode string
	found, err := s.Load("em1", "acquisitionmode", &mode)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "CHARGE", mode)

	found, err = s.Load("em1", "missing", &mode)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.Load("nobody", "acquisitionmode", &mode)
	require.NoError(t, err)
	assert.False(t, found)

	keys, err := s.Keys("em1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acquisitionmode", "formula/2"}, keys)

	require.NoError(t, s.Delete("em1", "formula/2"))
	keys, err = s.Keys("em1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acquisitionmode"}, keys)
}

func TestDisabledStore(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	require.NoError(t, s.Save("em1", "acquisitionmode", "CHARGE"))
	var mode string
	found, err := s.Load("em1", "acquisitionmode", &mode)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, s.Close())
}
