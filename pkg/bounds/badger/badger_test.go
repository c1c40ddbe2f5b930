package badger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyagg/pkg/bounds"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.Get("iface", "sw1|eth0", "bits")
	require.NoError(t, err)
	require.False(t, found)
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("iface", "sw1|eth0", "bits", bounds.Range{Min: -2.5, Max: 101.25}))

	r, found, err := s.Get("iface", "sw1|eth0", "bits")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, bounds.Range{Min: -2.5, Max: 101.25}, r)
}

func TestPutReplaces(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("iface", "sw1|eth0", "bits", bounds.Range{Min: 0, Max: 10}))
	require.NoError(t, s.Put("iface", "sw1|eth0", "bits", bounds.Range{Min: 0, Max: 500}))

	r, found, err := s.Get("iface", "sw1|eth0", "bits")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, bounds.Range{Min: 0, Max: 500}, r)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := New(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put("iface", "sw1|eth0", "bits", bounds.Range{Min: 1, Max: 2}))
	require.NoError(t, s.Close())

	s, err = New(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	r, found, err := s.Get("iface", "sw1|eth0", "bits")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, bounds.Range{Min: 1, Max: 2}, r)
}

func TestRunGC(t *testing.T) {
	s := newTestStore(t)
	// Nothing to rewrite on a fresh store; that is not an error.
	require.NoError(t, s.RunGC(0.5))
}

func TestRangeCodec(t *testing.T) {
	r := bounds.Range{Min: -1.5, Max: 3.25}
	decoded, err := decodeRange(encodeRange(r))
	require.NoError(t, err)
	require.Equal(t, r, decoded)

	_, err = decodeRange([]byte{1, 2, 3})
	require.Error(t, err)
}
