package uart

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeChannel scripts the device side of the link: reads come from in,
// writes land in out.
type fakeChannel struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (f *fakeChannel) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakeChannel) Write(p []byte) (int, error) { return f.out.Write(p) }

func scriptAnswer(ch *fakeChannel, result uint8, payload []byte) {
	answer := make([]byte, answerSize)
	answer[0] = MagicFPGAToPC
	answer[1] = result
	binary.LittleEndian.PutUint16(answer[2:], uint16(len(payload)))
	binary.LittleEndian.PutUint32(answer[4:], Checksum(payload))
	ch.in.Write(answer)
	ch.in.Write(payload)
}

func TestWriteInputDataFraming(t *testing.T) {
	ch := &fakeChannel{}
	scriptAnswer(ch, 0, nil)

	client := NewClient(ch)
	payload := []byte{1, 2, 3, 4, 5}
	require.NoError(t, client.WriteInputData(payload))

	sent := ch.out.Bytes()
	require.Len(t, sent, preambleSize+len(payload)+footerSize)

	preamble := sent[:preambleSize]
	require.Equal(t, byte(MagicPCToFPGA), preamble[0])
	require.Equal(t, byte(OpWriteInputData), preamble[1])
	require.Equal(t, uint16(len(payload)), binary.LittleEndian.Uint16(preamble[2:]))
	require.Equal(t, Checksum(payload), binary.LittleEndian.Uint32(preamble[4:]))
	require.Equal(t, uint64(InputDataBaseAddress), binary.LittleEndian.Uint64(preamble[8:]))

	require.Equal(t, payload, sent[preambleSize:preambleSize+len(payload)])

	footer := sent[preambleSize+len(payload):]
	require.Equal(t, byte(MagicPCToFPGA), footer[0])
	require.Equal(t, byte(OpWriteInputData), footer[1])
	require.Equal(t, Checksum(payload), binary.LittleEndian.Uint32(footer[4:]))
}

func TestWriteInputDataPaging(t *testing.T) {
	ch := &fakeChannel{}
	scriptAnswer(ch, 0, nil)

	client := NewClient(ch)
	payload := make([]byte, PageSize+10)
	require.NoError(t, client.WriteInputData(payload))

	sent := ch.out.Bytes()
	require.Len(t, sent, 2*(preambleSize+footerSize)+len(payload))

	// Second frame addresses the next device page.
	second := sent[preambleSize+PageSize+footerSize:]
	require.Equal(t, uint16(10), binary.LittleEndian.Uint16(second[2:]))
	require.Equal(t, uint64(InputDataBaseAddress+1), binary.LittleEndian.Uint64(second[8:]))
}

func TestWriteInputDataDeviceFailure(t *testing.T) {
	ch := &fakeChannel{}
	scriptAnswer(ch, 0x2, nil)

	client := NewClient(ch)
	require.Error(t, client.WriteInputData([]byte{1}))
}

func TestReadAnswerScansForMagic(t *testing.T) {
	ch := &fakeChannel{}
	ch.in.Write([]byte{0x00, 0x13, 0x37}) // line noise before the reply
	scriptAnswer(ch, 0, nil)

	client := NewClient(ch)
	answer, err := client.readAnswer()
	require.NoError(t, err)
	require.Equal(t, uint8(MagicFPGAToPC), answer.Magic)
}

func TestReadResultVerifiesChecksum(t *testing.T) {
	payload := []byte{9, 8, 7, 6}

	ch := &fakeChannel{}
	scriptAnswer(ch, 0, payload)
	client := NewClient(ch)

	got, err := client.ReadResult(16)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// Corrupted payload must be rejected.
	ch = &fakeChannel{}
	answer := make([]byte, answerSize)
	answer[0] = MagicFPGAToPC
	binary.LittleEndian.PutUint16(answer[2:], uint16(len(payload)))
	binary.LittleEndian.PutUint32(answer[4:], Checksum(payload)+1)
	ch.in.Write(answer)
	ch.in.Write(payload)

	client = NewClient(ch)
	_, err = client.ReadResult(16)
	require.ErrorContains(t, err, "checksum")
}

func TestReadResultRespectsLimit(t *testing.T) {
	ch := &fakeChannel{}
	scriptAnswer(ch, 0, make([]byte, 32))

	client := NewClient(ch)
	_, err := client.ReadResult(16)
	require.ErrorContains(t, err, "limit")
}

func TestPollManagementArray(t *testing.T) {
	page := make([]byte, ManagementSize)
	binary.LittleEndian.PutUint32(page[requestSize+0x04:], 1) // state: finished

	ch := &fakeChannel{}
	scriptAnswer(ch, 0, page)

	client := NewClient(ch)
	items, err := client.PollManagementArray(1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int32(1), items[0].Result.State)

	// The poll request itself is a bare preamble.
	sent := ch.out.Bytes()
	require.Len(t, sent, preambleSize)
	require.Equal(t, byte(OpPollManagementPage), sent[1])
	require.Equal(t, uint64(ManagementPageBaseAddress), binary.LittleEndian.Uint64(sent[8:]))
}

func TestWaitCompletion(t *testing.T) {
	busy := make([]byte, ManagementSize)
	done := make([]byte, ManagementSize)
	binary.LittleEndian.PutUint32(done[requestSize+0x04:], 1)

	ch := &fakeChannel{}
	scriptAnswer(ch, 0, busy)
	scriptAnswer(ch, 0, done)

	client := NewClient(ch)
	items, err := client.WaitCompletion(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), items[0].Result.State)
}
