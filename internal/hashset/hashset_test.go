package hashset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicAcrossReplicas(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	s1 := NewSet(true, true)
	s1.Write(data[:10])
	s1.Write(data[10:])
	d1 := s1.Finalize()

	s2 := NewSet(true, true)
	s2.Write(data)
	d2 := s2.Finalize()

	assert.True(t, Compare(d1, d2), "identical content must hash identically regardless of write chunking")
}

func TestDisabledKindOmitted(t *testing.T) {
	s := NewSet(true, false)
	s.Write([]byte("x"))
	d := s.Finalize()
	_, hasMD5 := d[MD5]
	_, hasXXH := d[XXH128]
	assert.True(t, hasMD5)
	assert.False(t, hasXXH)
}

func TestResetReusesSet(t *testing.T) {
	s := NewSet(true, true)
	s.Write([]byte("first"))
	first := s.Finalize()
	s.Reset()
	s.Write([]byte("first"))
	second := s.Finalize()
	require.True(t, Compare(first, second))
}

func TestDigestEqual(t *testing.T) {
	s := NewSet(true, false)
	s.Write([]byte("payload"))
	d := s.Finalize()[MD5]
	assert.True(t, d.Equal(d.Hex))
	assert.False(t, d.Equal("deadbeef"))
}
