package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	tbl := Default()
	require.Equal(t, 8, tbl.Len())
	assert.Equal(t, -60, tbl.Offset(0))
	assert.Equal(t, 160, tbl.Offset(2))
	assert.Equal(t, -160, tbl.Offset(7))
}

func TestNewCopiesInput(t *testing.T) {
	in := []int{1, 2, 3}
	tbl := New(in)
	in[0] = 99

	assert.Equal(t, 1, tbl.Offset(0))

	out := tbl.Offsets()
	out[1] = 42
	assert.Equal(t, 2, tbl.Offset(1))
}

func TestOffset_OutOfRangePanics(t *testing.T) {
	tbl := New([]int{10, 20})

	assert.Panics(t, func() { tbl.Offset(2) })
	assert.Panics(t, func() { tbl.Offset(-1) })
}

func TestLookup(t *testing.T) {
	tbl := New([]int{10, 20})

	off, ok := tbl.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, 20, off)

	off, ok = tbl.Lookup(5)
	assert.False(t, ok)
	assert.Equal(t, 0, off)
}
