package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPortionValidatesBuffer(t *testing.T) {
	layout := Layout{Granularity: 1, RecordCapacity: 2, PortionCapacity: 3, PortionCount: 2}

	_, err := NewPortion(layout, make([]byte, 5))
	require.ErrorIs(t, err, ErrOutOfRange)

	bad := layout
	bad.PortionCount = 4
	_, err = NewPortion(bad, make([]byte, bad.PortionBytes()))
	require.ErrorIs(t, err, ErrOutOfRange)

	p, err := NewPortion(layout, make([]byte, layout.PortionBytes()))
	require.NoError(t, err)
	require.Equal(t, layout, p.Layout())
}

func TestPortionSwapAndCompare(t *testing.T) {
	layout := Layout{Granularity: 1, RecordCapacity: 2, PortionCapacity: 3, PortionCount: 3}
	buf := []byte{
		5, 10,
		1, 20,
		5, 30,
	}

	p, err := NewPortion(layout, buf)
	require.NoError(t, err)

	mask := Mask(0b10) // item 0 is the key
	require.Equal(t, 1, p.CompareKeys(0, 1, mask))
	require.Equal(t, -1, p.CompareKeys(1, 2, mask))
	require.Equal(t, 0, p.CompareKeys(0, 2, mask))

	scratch := make([]byte, layout.RecordSize())
	p.Swap(0, 1, scratch)
	require.Equal(t, []byte{1, 20, 5, 10, 5, 30}, buf)

	p.Swap(2, 2, scratch)
	require.Equal(t, []byte{1, 20, 5, 10, 5, 30}, buf)
}

func TestPortionCheckIndex(t *testing.T) {
	layout := Layout{Granularity: 1, RecordCapacity: 1, PortionCapacity: 4, PortionCount: 2}

	p, err := NewPortion(layout, make([]byte, layout.PortionBytes()))
	require.NoError(t, err)

	require.NoError(t, p.checkIndex(0))
	require.NoError(t, p.checkIndex(1))
	require.ErrorIs(t, p.checkIndex(2), ErrOutOfRange)
	require.ErrorIs(t, p.checkIndex(-1), ErrOutOfRange)
}
