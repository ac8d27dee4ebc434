package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	m := New()
	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", "1")
	m.Set("b", "2")
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, []string{"a", "b"}, m.Keys())

	m.Set("a", "3")
	v, _ = m.Get("a")
	assert.Equal(t, "3", v, "updating a key must not move its position")
	assert.Equal(t, []string{"a", "b"}, m.Keys())

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, m.Keys())
}

func TestCloneIndependence(t *testing.T) {
	m := New()
	m.Set("a", "1")
	c := m.Clone()
	c.Set("a", "2")
	v, _ := m.Get("a")
	assert.Equal(t, "1", v)
}

func TestMarshalRoundTrip(t *testing.T) {
	m := New()
	m.Set("z", "first")
	m.Set("a", "second")

	b, err := m.MarshalJSON()
	require.NoError(t, err)

	out := New()
	require.NoError(t, out.UnmarshalJSON(b))
	assert.True(t, m.Equal(out))
	assert.Equal(t, []string{"z", "a"}, out.Keys())
}
