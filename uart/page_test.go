package uart

import (
	"encoding/binary"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/dubeyko/memory-pool-tools/mempool"
)

func testConfig(t *testing.T) *mempool.Config {
	t.Helper()

	cfg := mempool.DefaultConfig()
	cfg.Algorithm = mempool.AlgorithmSelect
	cfg.Threads.Count = 2
	cfg.Item.Granularity = 4
	cfg.Record.Capacity = 8
	cfg.Portion.Capacity = 16
	cfg.Portion.Count = 10
	cfg.Threads.PortionSize = datasize.ByteSize(4 * 8 * 16)
	cfg.Key.Mask = 0xf0
	cfg.Value.Mask = 0x0f
	cfg.Condition.Min = 100
	cfg.Condition.Max = 200
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewRequestFromConfig(t *testing.T) {
	request, err := NewRequest(testConfig(t))
	require.NoError(t, err)

	require.Equal(t, Request{
		Granularity:     4,
		RecordCapacity:  8,
		PortionCount:    10,
		PortionCapacity: 16,
		KeyMask:         0xf0,
		ValueMask:       0x0f,
		ConditionMin:    100,
		ConditionMax:    200,
		AlgorithmCode:   algorithmSelect,
		Start:           0,
		End:             16,
	}, request)
}

func TestAlgorithmCodes(t *testing.T) {
	for algorithm, want := range map[mempool.Algorithm]uint64{
		mempool.AlgorithmKeyValue: 0x1,
		mempool.AlgorithmSort:     0x2,
		mempool.AlgorithmSelect:   0x3,
		mempool.AlgorithmTotal:    0x4,
	} {
		code, err := AlgorithmCode(algorithm)
		require.NoError(t, err)
		require.Equal(t, want, code)
	}

	_, err := AlgorithmCode(mempool.AlgorithmUnknown)
	require.Error(t, err)
}

func TestManagementArrayOffsets(t *testing.T) {
	request, err := NewRequest(testConfig(t))
	require.NoError(t, err)

	buf := EncodeManagementArray([]Management{{Request: request}, {Request: request}})
	require.Len(t, buf, 2*ManagementSize)

	// Packed request offsets fixed by the device.
	require.Equal(t, uint32(4), binary.LittleEndian.Uint32(buf[0x00:]))
	require.Equal(t, uint32(8), binary.LittleEndian.Uint32(buf[0x04:]))
	require.Equal(t, uint32(10), binary.LittleEndian.Uint32(buf[0x08:]))
	require.Equal(t, uint32(16), binary.LittleEndian.Uint32(buf[0x0c:]))
	require.Equal(t, uint64(0xf0), binary.LittleEndian.Uint64(buf[0x10:]))
	require.Equal(t, uint64(0x0f), binary.LittleEndian.Uint64(buf[0x18:]))
	require.Equal(t, uint64(100), binary.LittleEndian.Uint64(buf[0x20:]))
	require.Equal(t, uint64(200), binary.LittleEndian.Uint64(buf[0x28:]))
	require.Equal(t, uint64(algorithmSelect), binary.LittleEndian.Uint64(buf[0x30:]))
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[0x38:]))
	require.Equal(t, uint32(16), binary.LittleEndian.Uint32(buf[0x3c:]))

	// The result area and padding of a fresh request stay zero, and the
	// second descriptor starts one management stride in.
	for i := requestSize; i < ManagementSize; i++ {
		require.Zero(t, buf[i])
	}
	require.Equal(t, buf[:requestSize], buf[ManagementSize:ManagementSize+requestSize])
}

func TestDecodeManagementArrayResults(t *testing.T) {
	buf := make([]byte, ManagementSize)
	binary.LittleEndian.PutUint32(buf[requestSize+0x00:], 0xfffffffe) // err -2
	binary.LittleEndian.PutUint32(buf[requestSize+0x04:], 1)
	binary.LittleEndian.PutUint64(buf[requestSize+0x08:], 0x3000)
	binary.LittleEndian.PutUint32(buf[requestSize+0x18:], 10)

	items, err := DecodeManagementArray(buf)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.Equal(t, int32(-2), items[0].Result.Err)
	require.Equal(t, int32(1), items[0].Result.State)
	require.Equal(t, uint64(0x3000), items[0].Result.Address)
	require.Equal(t, uint32(10), items[0].Result.PortionCount)

	_, err = DecodeManagementArray(buf[:100])
	require.Error(t, err)
}
