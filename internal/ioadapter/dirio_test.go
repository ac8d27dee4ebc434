package ioadapter

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirAdapterWriteReadRoundTrip(t *testing.T) {
	a, err := NewDirAdapter(t.TempDir(), 4096)
	require.NoError(t, err)

	w, addr, err := a.Open("", true)
	require.NoError(t, err)
	require.NotEmpty(t, addr, "create with empty addr must allocate one")
	_, err = w.Write([]byte("hello extent"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, gotAddr, err := a.Open(addr, false)
	require.NoError(t, err)
	assert.Equal(t, addr, gotAddr)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello extent", string(b))
	require.NoError(t, r.Close())
}

func TestDirAdapterDelete(t *testing.T) {
	a, err := NewDirAdapter(t.TempDir(), 4096)
	require.NoError(t, err)

	w, addr, err := a.Open("", true)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, a.Delete(addr))
	_, _, err = a.Open(addr, false)
	assert.Error(t, err, "reading a deleted extent must fail")
}

func TestDirAdapterMetaRoundTrip(t *testing.T) {
	a, err := NewDirAdapter(t.TempDir(), 4096)
	require.NoError(t, err)

	m, err := a.MetaOpen("x1")
	require.NoError(t, err)

	_, ok, err := m.Get("md5")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set("md5", "abc123"))
	require.NoError(t, m.Set("xxh128", "def456"))

	v, ok, err := m.Get("md5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc123", v)

	all, err := m.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"md5": "abc123", "xxh128": "def456"}, all)

	// A second handle on the same address must see the persisted sidecar.
	m2, err := a.MetaOpen("x1")
	require.NoError(t, err)
	v2, ok, err := m2.Get("xxh128")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "def456", v2)
}

func TestDirAdapterFamilyAndBlockSize(t *testing.T) {
	a, err := NewDirAdapter(t.TempDir(), 8192)
	require.NoError(t, err)
	assert.Equal(t, "dir", a.Family())
	assert.Equal(t, 8192, a.PreferredBlockSize())
}
