package mempool

import "fmt"

// Portion is a view over one worker's slice of a buffer: a fixed-capacity
// array of records of which a prefix is live. It owns no memory, the
// backing slice belongs to the mapped buffer.
type Portion struct {
	layout Layout
	buf    []byte
}

// NewPortion wraps buf as a portion with the given layout. The buffer must
// be exactly one portion long.
func NewPortion(layout Layout, buf []byte) (*Portion, error) {
	if len(buf) != layout.PortionBytes() {
		return nil, fmt.Errorf("%w: portion buffer is %d bytes, layout wants %d",
			ErrOutOfRange, len(buf), layout.PortionBytes())
	}
	if layout.PortionCount > layout.PortionCapacity {
		return nil, fmt.Errorf("%w: portion count %d exceeds capacity %d",
			ErrOutOfRange, layout.PortionCount, layout.PortionCapacity)
	}

	return &Portion{layout: layout, buf: buf}, nil
}

// Layout returns the geometry the portion was created with.
func (p *Portion) Layout() Layout { return p.layout }

// Bytes returns the backing byte slice.
func (p *Portion) Bytes() []byte { return p.buf }

// Record returns the byte span of record i. The index must be within the
// portion capacity.
func (p *Portion) Record(i int) []byte {
	size := p.layout.RecordSize()
	return p.buf[i*size : (i+1)*size]
}

// checkIndex validates a live record index against the portion descriptor.
func (p *Portion) checkIndex(i int) error {
	if i < 0 || i >= p.layout.PortionCount {
		return fmt.Errorf("%w: record index %d, count %d",
			ErrOutOfRange, i, p.layout.PortionCount)
	}
	return nil
}

// Swap exchanges records i and j through scratch, which the caller owns
// and which must be at least one record long.
func (p *Portion) Swap(i, j int, scratch []byte) {
	if i == j {
		return
	}

	ri, rj := p.Record(i), p.Record(j)
	copy(scratch, ri)
	copy(ri, rj)
	copy(rj, scratch[:p.layout.RecordSize()])
}

// Key derives the key of record i under mask.
func (p *Portion) Key(i int, mask Mask) uint64 {
	return p.layout.deriveKey(p.Record(i), mask)
}

// CompareKeys orders records i and j by their derived keys: -1 when
// key(i) < key(j), 0 on equality, +1 otherwise.
func (p *Portion) CompareKeys(i, j int, mask Mask) int {
	ki, kj := p.Key(i, mask), p.Key(j, mask)
	switch {
	case ki < kj:
		return -1
	case ki > kj:
		return 1
	}
	return 0
}
