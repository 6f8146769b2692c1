package uart

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Wire protocol of the FPGA companion link. Every PC→FPGA data transfer is
// a preamble, an up-to-one-page payload and a footer; requests without a
// payload (poll, read result) are a bare preamble. The FPGA answers with
// a fixed-size reply followed by an optional payload. All integers are
// little-endian, checksums are CRC-32C over the payload.

const (
	// MagicPCToFPGA marks frames sent by the host.
	MagicPCToFPGA = 0x55
	// MagicFPGAToPC marks frames sent by the device.
	MagicFPGAToPC = 0xAA
)

// Operation types.
const (
	OpSendManagementPage = 0x1
	OpPollManagementPage = 0x2
	OpWriteInputData     = 0x3
	OpReadResult         = 0x4
)

const (
	// PageSize is the maximum payload of a single transfer.
	PageSize = 4096

	// InputDataBaseAddress is the device page address of the dataset.
	InputDataBaseAddress = 0x2000
	// ManagementPageBaseAddress is the device page address of the
	// management array.
	ManagementPageBaseAddress = 0x3000

	preambleSize = 16
	footerSize   = 8
	answerSize   = 8
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum is the CRC-32C of a payload as the device computes it.
func Checksum(payload []byte) uint32 {
	return crc32.Checksum(payload, castagnoli)
}

// Preamble opens a PC→FPGA transfer. Address is the device page address
// the payload belongs to: the base address plus the page index.
type Preamble struct {
	Magic     uint8
	Operation uint8
	Length    uint16
	Checksum  uint32
	Address   uint64
}

// Encode packs the preamble into its 16-byte wire form.
func (p Preamble) Encode() []byte {
	buf := make([]byte, preambleSize)
	buf[0] = p.Magic
	buf[1] = p.Operation
	binary.LittleEndian.PutUint16(buf[2:], p.Length)
	binary.LittleEndian.PutUint32(buf[4:], p.Checksum)
	binary.LittleEndian.PutUint64(buf[8:], p.Address)
	return buf
}

// Footer closes a PC→FPGA transfer, repeating the payload checksum.
type Footer struct {
	Magic     uint8
	Operation uint8
	Checksum  uint32
}

// Encode packs the footer into its 8-byte wire form. The two bytes after
// the operation are padding.
func (f Footer) Encode() []byte {
	buf := make([]byte, footerSize)
	buf[0] = f.Magic
	buf[1] = f.Operation
	binary.LittleEndian.PutUint32(buf[4:], f.Checksum)
	return buf
}

// Answer is the device's reply preamble.
type Answer struct {
	Magic    uint8
	Result   uint8
	Length   uint16
	Checksum uint32
}

// DecodeAnswer unpacks an 8-byte reply.
func DecodeAnswer(buf []byte) (Answer, error) {
	if len(buf) < answerSize {
		return Answer{}, fmt.Errorf("answer is %d bytes, want %d", len(buf), answerSize)
	}

	return Answer{
		Magic:    buf[0],
		Result:   buf[1],
		Length:   binary.LittleEndian.Uint16(buf[2:]),
		Checksum: binary.LittleEndian.Uint32(buf[4:]),
	}, nil
}
