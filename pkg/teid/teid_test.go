package teid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/epctools/pkg/epcerr"
)

func TestNewValidatesRangeBits(t *testing.T) {
	_, err := New(8, 0)
	require.Error(t, err)
	assert.True(t, epcerr.Is(err, epcerr.KindProtocolMisuse))
}

func TestNewValidatesRangeValue(t *testing.T) {
	_, err := New(2, 4) // 2 bits allows values 0..3
	require.Error(t, err)
	assert.True(t, epcerr.Is(err, epcerr.KindProtocolMisuse))
}

func TestNewRangeBoundsFullRange(t *testing.T) {
	m, err := New(7, 127)
	require.NoError(t, err)
	min, max := m.Range()
	assert.Equal(t, uint32(0xFE000000), min)
	assert.Equal(t, uint32(0xFFFFFFFF), max)
}

func TestNewRangeBitsZeroReservesTEIDZero(t *testing.T) {
	m, err := New(0, 0)
	require.NoError(t, err)
	min, max := m.Range()
	assert.Equal(t, uint32(1), min)
	assert.Equal(t, uint32(0xFFFFFFFF), max)
}

func TestAllocStrictlyWithinRange(t *testing.T) {
	m, err := New(4, 3)
	require.NoError(t, err)
	min, max := m.Range()

	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		v := m.Alloc()
		require.GreaterOrEqual(t, v, min)
		require.LessOrEqual(t, v, max)
		seen[v] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestAllocWrapsAtMax(t *testing.T) {
	// range_bits=7 gives a 2^25-sized partition; too large to exhaust in
	// a unit test, so directly exercise the wrap boundary instead.
	m, err := New(7, 127)
	require.NoError(t, err)
	_, max := m.Range()

	m.next = max // force next allocation to land exactly on max
	v := m.Alloc()
	assert.Equal(t, max, v)

	wrapped := m.Alloc()
	min, _ := m.Range()
	assert.Equal(t, min, wrapped)
}

func TestAllocConcurrentUnique(t *testing.T) {
	m, err := New(7, 0)
	require.NoError(t, err)

	const n = 2000
	results := make(chan uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Alloc()
		}()
	}
	wg.Wait()
	close(results)

	min, max := m.Range()
	unique := make(map[uint32]bool, n)
	for v := range results {
		assert.GreaterOrEqual(t, v, min)
		assert.LessOrEqual(t, v, max)
		assert.False(t, unique[v], "duplicate TEID %d", v)
		unique[v] = true
	}
}
