package uart

import (
	"encoding/binary"
	"fmt"

	"github.com/dubeyko/memory-pool-tools/mempool"
)

// The management page carries one packed descriptor per FPGA core: the
// request the core executes and the result it reports back. Offsets are
// fixed by the device.

const (
	// ManagementSize is the packed size of one per-core management
	// descriptor: a 0x40-byte request, a 0x20-byte result and padding.
	ManagementSize = 0x80

	requestSize = 0x40
	resultSize  = 0x20
)

// Algorithm codes of the management request.
const (
	algorithmUnknown  = 0x0
	algorithmKeyValue = 0x1
	algorithmSort     = 0x2
	algorithmSelect   = 0x3
	algorithmTotal    = 0x4
)

// AlgorithmCode maps an engine algorithm onto its wire code.
func AlgorithmCode(a mempool.Algorithm) (uint64, error) {
	switch a {
	case mempool.AlgorithmKeyValue:
		return algorithmKeyValue, nil
	case mempool.AlgorithmSort:
		return algorithmSort, nil
	case mempool.AlgorithmSelect:
		return algorithmSelect, nil
	case mempool.AlgorithmTotal:
		return algorithmTotal, nil
	}
	return algorithmUnknown, fmt.Errorf("algorithm %q has no wire code", a)
}

// Request is the per-core work descriptor.
type Request struct {
	Granularity     uint32
	RecordCapacity  uint32
	PortionCount    uint32
	PortionCapacity uint32
	KeyMask         uint64
	ValueMask       uint64
	ConditionMin    uint64
	ConditionMax    uint64
	AlgorithmCode   uint64
	Start           uint32
	End             uint32
}

// NewRequest builds the descriptor one core executes under cfg.
func NewRequest(cfg *mempool.Config) (Request, error) {
	code, err := AlgorithmCode(cfg.Algorithm)
	if err != nil {
		return Request{}, err
	}

	return Request{
		Granularity:     uint32(cfg.Item.Granularity),
		RecordCapacity:  uint32(cfg.Record.Capacity),
		PortionCount:    uint32(cfg.Portion.Count),
		PortionCapacity: uint32(cfg.Portion.Capacity),
		KeyMask:         uint64(cfg.Key.Mask),
		ValueMask:       uint64(cfg.Value.Mask),
		ConditionMin:    cfg.Condition.Min,
		ConditionMax:    cfg.Condition.Max,
		AlgorithmCode:   code,
		Start:           0,
		End:             uint32(cfg.Portion.Capacity),
	}, nil
}

// encode packs the request at its fixed offsets into buf.
func (r Request) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0x00:], r.Granularity)
	binary.LittleEndian.PutUint32(buf[0x04:], r.RecordCapacity)
	binary.LittleEndian.PutUint32(buf[0x08:], r.PortionCount)
	binary.LittleEndian.PutUint32(buf[0x0c:], r.PortionCapacity)
	binary.LittleEndian.PutUint64(buf[0x10:], r.KeyMask)
	binary.LittleEndian.PutUint64(buf[0x18:], r.ValueMask)
	binary.LittleEndian.PutUint64(buf[0x20:], r.ConditionMin)
	binary.LittleEndian.PutUint64(buf[0x28:], r.ConditionMax)
	binary.LittleEndian.PutUint64(buf[0x30:], r.AlgorithmCode)
	binary.LittleEndian.PutUint32(buf[0x38:], r.Start)
	binary.LittleEndian.PutUint32(buf[0x3c:], r.End)
}

// Result is the per-core completion descriptor the device fills in.
type Result struct {
	Err             int32
	State           int32
	Address         uint64
	Granularity     uint32
	RecordCapacity  uint32
	PortionCount    uint32
	PortionCapacity uint32
}

func decodeResult(buf []byte) Result {
	return Result{
		Err:             int32(binary.LittleEndian.Uint32(buf[0x00:])),
		State:           int32(binary.LittleEndian.Uint32(buf[0x04:])),
		Address:         binary.LittleEndian.Uint64(buf[0x08:]),
		Granularity:     binary.LittleEndian.Uint32(buf[0x10:]),
		RecordCapacity:  binary.LittleEndian.Uint32(buf[0x14:]),
		PortionCount:    binary.LittleEndian.Uint32(buf[0x18:]),
		PortionCapacity: binary.LittleEndian.Uint32(buf[0x1c:]),
	}
}

// Management is the request/result pair of one FPGA core.
type Management struct {
	Request Request
	Result  Result
}

// EncodeManagementArray packs one management descriptor per core.
func EncodeManagementArray(items []Management) []byte {
	buf := make([]byte, len(items)*ManagementSize)
	for i, item := range items {
		item.Request.encode(buf[i*ManagementSize:])
	}
	return buf
}

// DecodeManagementArray unpacks the device's view of the management
// array, including the filled-in results.
func DecodeManagementArray(buf []byte) ([]Management, error) {
	if len(buf)%ManagementSize != 0 {
		return nil, fmt.Errorf("management array is %d bytes, not a multiple of %#x",
			len(buf), ManagementSize)
	}

	items := make([]Management, len(buf)/ManagementSize)
	for i := range items {
		chunk := buf[i*ManagementSize:]
		items[i] = Management{
			Request: decodeRequest(chunk),
			Result:  decodeResult(chunk[requestSize:]),
		}
	}
	return items, nil
}

func decodeRequest(buf []byte) Request {
	return Request{
		Granularity:     binary.LittleEndian.Uint32(buf[0x00:]),
		RecordCapacity:  binary.LittleEndian.Uint32(buf[0x04:]),
		PortionCount:    binary.LittleEndian.Uint32(buf[0x08:]),
		PortionCapacity: binary.LittleEndian.Uint32(buf[0x0c:]),
		KeyMask:         binary.LittleEndian.Uint64(buf[0x10:]),
		ValueMask:       binary.LittleEndian.Uint64(buf[0x18:]),
		ConditionMin:    binary.LittleEndian.Uint64(buf[0x20:]),
		ConditionMax:    binary.LittleEndian.Uint64(buf[0x28:]),
		AlgorithmCode:   binary.LittleEndian.Uint64(buf[0x30:]),
		Start:           binary.LittleEndian.Uint32(buf[0x38:]),
		End:             binary.LittleEndian.Uint32(buf[0x3c:]),
	}
}
