package mempool

import "encoding/binary"

// keySize is the width of a derived key in bytes. Selected item bytes past
// this width do not participate in ordering.
const keySize = 8

// Mask is a 64-bit item-selection bitmap. Bit index i selects item i of a
// record when (mask >> (capacity − i − 1)) & 1 is set, i.e. the mask is
// read MSB-first relative to the record capacity. This ordering is a wire
// contract with external configuration and with the FPGA companion tool.
type Mask uint64

// Selects reports whether item index bit is selected under the given
// record capacity. Bit indices outside [0, capacity) or at 64 and above
// are never selected.
func (m Mask) Selects(bit, capacity int) bool {
	if bit < 0 || bit >= 64 || bit >= capacity {
		return false
	}

	checkBit := capacity - bit - 1
	return (uint64(m)>>checkBit)&1 != 0
}

// Layout describes the fixed geometry of items, records and portions that
// every algorithm operates on.
type Layout struct {
	// Granularity is the item size in bytes.
	Granularity int
	// RecordCapacity is the number of items per record.
	RecordCapacity int
	// PortionCapacity is the maximum number of records per portion.
	PortionCapacity int
	// PortionCount is the number of live records per portion.
	PortionCount int
}

// RecordSize is the record size in bytes.
func (l Layout) RecordSize() int {
	return l.Granularity * l.RecordCapacity
}

// PortionBytes is the portion size in bytes.
func (l Layout) PortionBytes() int {
	return l.RecordSize() * l.PortionCapacity
}

// deriveKey builds the ≤ 8-byte key of a record: the bytes of each
// mask-selected item, concatenated in record order into a zero-initialized
// buffer, truncated at 8 bytes and reinterpreted as a little-endian u64.
func (l Layout) deriveKey(record []byte, mask Mask) uint64 {
	var key [keySize]byte

	written := 0
	for i := 0; i < l.RecordCapacity && written < keySize; i++ {
		if !mask.Selects(i, l.RecordCapacity) {
			continue
		}

		item := record[i*l.Granularity : (i+1)*l.Granularity]
		written += copy(key[written:], item)
	}

	return binary.LittleEndian.Uint64(key[:])
}

// project copies the mask-selected items of record into dst starting at
// offset off and returns the advanced offset. Order of copied items equals
// their order in the record. A zero mask writes nothing and leaves dst
// untouched. Callers guarantee room via the portion-capacity check.
func (l Layout) project(dst []byte, off int, record []byte, mask Mask) int {
	for i := 0; i < l.RecordCapacity; i++ {
		if !mask.Selects(i, l.RecordCapacity) {
			continue
		}

		off += copy(dst[off:], record[i*l.Granularity:(i+1)*l.Granularity])
	}

	return off
}

// selectedBytes is the number of bytes one record contributes under mask.
func (l Layout) selectedBytes(mask Mask) int {
	selected := 0
	for i := 0; i < l.RecordCapacity; i++ {
		if mask.Selects(i, l.RecordCapacity) {
			selected++
		}
	}
	return selected * l.Granularity
}
