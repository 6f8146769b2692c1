package mempool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// quicksortRecursive is the textbook definition the iterative sort must
// reproduce exactly, permutation included.
func quicksortRecursive(p *Portion, mask Mask, scratch []byte, low, high int) {
	if low >= high {
		return
	}

	mid := partition(p, mask, scratch, low, high)
	quicksortRecursive(p, mask, scratch, low, mid-1)
	quicksortRecursive(p, mask, scratch, mid+1, high)
}

func sortedPortion(t *testing.T, layout Layout, buf []byte, mask Mask) *Portion {
	t.Helper()

	p, err := NewPortion(layout, buf)
	require.NoError(t, err)

	scratch := make([]byte, layout.RecordSize())
	quicksort(p, mask, scratch, 0, layout.PortionCount-1)
	return p
}

func TestQuicksortSinglePortion(t *testing.T) {
	// Records are (key, payload) pairs of one byte each.
	layout := Layout{Granularity: 1, RecordCapacity: 2, PortionCapacity: 6, PortionCount: 5}
	buf := []byte{
		3, 0xa,
		1, 0xb,
		4, 0xc,
		1, 0xd,
		5, 0xe,
		0, 0, // free slot
	}

	p := sortedPortion(t, layout, buf, 0b10)

	keys := make([]uint64, layout.PortionCount)
	for i := range keys {
		keys[i] = p.Key(i, 0b10)
	}
	require.Equal(t, []uint64{1, 1, 3, 4, 5}, keys)
}

func TestQuicksortEmptyAndSingle(t *testing.T) {
	layout := Layout{Granularity: 1, RecordCapacity: 1, PortionCapacity: 4, PortionCount: 0}
	buf := []byte{7, 5, 3, 1}

	p, err := NewPortion(layout, buf)
	require.NoError(t, err)
	quicksort(p, 0b1, make([]byte, 1), 0, layout.PortionCount-1)
	require.Equal(t, []byte{7, 5, 3, 1}, buf)

	layout.PortionCount = 1
	p, err = NewPortion(layout, buf)
	require.NoError(t, err)
	quicksort(p, 0b1, make([]byte, 1), 0, 0)
	require.Equal(t, []byte{7, 5, 3, 1}, buf)
}

func TestQuicksortMatchesRecursiveDefinition(t *testing.T) {
	layout := Layout{Granularity: 2, RecordCapacity: 2, PortionCapacity: 64, PortionCount: 64}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 32; round++ {
		buf := make([]byte, layout.PortionBytes())
		for i := range buf {
			// A small byte range forces duplicate keys.
			buf[i] = byte(rng.Intn(8))
		}

		iterative := append([]byte(nil), buf...)
		recursive := append([]byte(nil), buf...)

		mask := Mask(0b10)
		scratch := make([]byte, layout.RecordSize())

		pi, err := NewPortion(layout, iterative)
		require.NoError(t, err)
		quicksort(pi, mask, scratch, 0, layout.PortionCount-1)

		pr, err := NewPortion(layout, recursive)
		require.NoError(t, err)
		quicksortRecursive(pr, mask, scratch, 0, layout.PortionCount-1)

		require.Equal(t, recursive, iterative, "round %d", round)

		for i := 1; i < layout.PortionCount; i++ {
			require.LessOrEqual(t, pi.Key(i-1, mask), pi.Key(i, mask))
		}
	}
}
