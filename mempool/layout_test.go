package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskSelectsMSBFirst(t *testing.T) {
	// With capacity 4, bit i tests mask bit (4 - i - 1): 0b1100 selects
	// the first two items of the record.
	mask := Mask(0b1100)

	require.True(t, mask.Selects(0, 4))
	require.True(t, mask.Selects(1, 4))
	require.False(t, mask.Selects(2, 4))
	require.False(t, mask.Selects(3, 4))
}

func TestMaskSelectsOutOfRangeBits(t *testing.T) {
	mask := Mask(^uint64(0))

	require.False(t, mask.Selects(4, 4), "bits at or above capacity are ignored")
	require.False(t, mask.Selects(64, 64))
	require.False(t, mask.Selects(70, 64))
	require.False(t, mask.Selects(-1, 4))
}

func TestDeriveKeyLittleEndian(t *testing.T) {
	layout := Layout{Granularity: 1, RecordCapacity: 4, PortionCapacity: 1, PortionCount: 1}
	record := []byte{1, 2, 3, 4}

	require.Equal(t, uint64(0x04030201), layout.deriveKey(record, 0b1111))
	require.Equal(t, uint64(4), layout.deriveKey(record, 0b0001))
	require.Equal(t, uint64(0x0201), layout.deriveKey(record, 0b1100))
	require.Equal(t, uint64(0), layout.deriveKey(record, 0))
}

func TestDeriveKeyStopsAtEightBytes(t *testing.T) {
	layout := Layout{Granularity: 4, RecordCapacity: 3, PortionCapacity: 1, PortionCount: 1}
	record := []byte{
		1, 0, 0, 0,
		2, 0, 0, 0,
		3, 0, 0, 0,
	}

	// Three selected four-byte items produce twelve bytes; only the
	// first eight participate in the key.
	require.Equal(t, uint64(0x00000002_00000001), layout.deriveKey(record, 0b111))
}

func TestProjectOrderAndCursor(t *testing.T) {
	layout := Layout{Granularity: 1, RecordCapacity: 4, PortionCapacity: 2, PortionCount: 2}
	record := []byte{1, 2, 3, 4}

	dst := make([]byte, 8)
	off := layout.project(dst, 0, record, 0b0011)
	require.Equal(t, 2, off)
	off = layout.project(dst, off, record, 0b1100)
	require.Equal(t, 4, off)

	require.Equal(t, []byte{3, 4, 1, 2, 0, 0, 0, 0}, dst)
}

func TestProjectZeroMaskWritesNothing(t *testing.T) {
	layout := Layout{Granularity: 2, RecordCapacity: 2, PortionCapacity: 1, PortionCount: 1}
	record := []byte{1, 2, 3, 4}

	dst := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	off := layout.project(dst, 0, record, 0)

	require.Equal(t, 0, off)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, dst)
}

func TestSelectedBytes(t *testing.T) {
	layout := Layout{Granularity: 4, RecordCapacity: 4, PortionCapacity: 1, PortionCount: 1}

	require.Equal(t, 8, layout.selectedBytes(0b1100))
	require.Equal(t, 16, layout.selectedBytes(0b1111))
	require.Equal(t, 0, layout.selectedBytes(0))
}
