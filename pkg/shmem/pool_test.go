package shmem

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitivePoolAllocFree(t *testing.T) {
	p, err := NewPrimitivePool(2, 1, "")
	require.NoError(t, err)

	a, err := p.AllocSemaphore()
	require.NoError(t, err)
	b, err := p.AllocSemaphore()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = p.AllocSemaphore()
	assert.Error(t, err)

	require.NoError(t, p.FreeSemaphore(a))
	c, err := p.AllocSemaphore()
	require.NoError(t, err)
	assert.Equal(t, a, c)

	semHigh, _ := p.HighWaterMarks()
	assert.Equal(t, 2, semHigh)
}

func TestPrimitivePoolMutexSlots(t *testing.T) {
	p, err := NewPrimitivePool(0, 1, "")
	require.NoError(t, err)

	idx, err := p.AllocMutex()
	require.NoError(t, err)

	_, err = p.AllocMutex()
	assert.Error(t, err)

	require.NoError(t, p.FreeMutex(idx))
	_, err = p.AllocMutex()
	assert.NoError(t, err)
}

func TestPrimitivePoolLedgerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "slots.db")

	p1, err := NewPrimitivePool(2, 2, ledgerPath)
	require.NoError(t, err)
	idx, err := p1.AllocSemaphore()
	require.NoError(t, err)
	require.NoError(t, p1.Close())

	p2, err := NewPrimitivePool(2, 2, ledgerPath)
	require.NoError(t, err)
	defer p2.Close()

	used, _ := p2.InUse()
	assert.Equal(t, 1, used)

	require.NoError(t, p2.FreeSemaphore(idx))
	used, _ = p2.InUse()
	assert.Equal(t, 0, used)
}
