package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreatePersistsAcrossReload(t *testing.T) {
	home := t.TempDir()

	first, err := LoadOrCreate(home)
	require.NoError(t, err)

	second, err := LoadOrCreate(home)
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID())

	info, err := os.Stat(filepath.Join(home, keyFileName))
	require.NoError(t, err)
	assert.Equal(t, int64(32), info.Size())
}

func TestSignVerify(t *testing.T) {
	id, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	msg := []byte("hello relay")
	sig := id.Sign(msg)

	assert.True(t, Verify(id.ID(), msg, sig))
	assert.False(t, Verify(id.ID(), []byte("tampered"), sig))
}

func TestIDStringRoundTrip(t *testing.T) {
	id, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	s := id.ID().String()
	assert.Len(t, s, 52)

	parsed, err := ParseID(s)
	require.NoError(t, err)
	assert.Equal(t, id.ID(), parsed)
}

func TestHexIDRoundTrip(t *testing.T) {
	id, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	hexStr := id.ID().HexString()
	assert.Len(t, hexStr, 64)

	parsed, err := ParseHexID(hexStr)
	require.NoError(t, err)
	assert.Equal(t, id.ID(), parsed)
}

func TestShort(t *testing.T) {
	id, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	short := id.ID().Short(10)
	assert.Equal(t, id.ID().String()[:16], short)
}
