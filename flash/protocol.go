package flash

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CommandCode selects the operation performed by the bootloader.
type CommandCode uint8

const (
	CommandReadVersion           CommandCode = 0x00
	CommandReadFlash             CommandCode = 0x01
	CommandWriteFlash            CommandCode = 0x02
	CommandEraseFlash            CommandCode = 0x03
	CommandCalcChecksum          CommandCode = 0x08
	CommandResetDevice           CommandCode = 0x09
	CommandSelfVerify            CommandCode = 0x0A
	CommandGetMemoryAddressRange CommandCode = 0x0B
)

var commandNames = map[CommandCode]string{
	CommandReadVersion:           "READ_VERSION",
	CommandReadFlash:             "READ_FLASH",
	CommandWriteFlash:            "WRITE_FLASH",
	CommandEraseFlash:            "ERASE_FLASH",
	CommandCalcChecksum:          "CALC_CHECKSUM",
	CommandResetDevice:           "RESET_DEVICE",
	CommandSelfVerify:            "SELF_VERIFY",
	CommandGetMemoryAddressRange: "GET_MEMORY_ADDRESS_RANGE",
}

func (c CommandCode) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("0x%02X", byte(c))
}

// StatusCode is sent by the bootloader right after the echoed header of every
// response except the one to READ_VERSION.
type StatusCode uint8

const (
	StatusSuccess            StatusCode = 0x01
	StatusVerifyFail         StatusCode = 0xFC
	StatusBadLength          StatusCode = 0xFD
	StatusBadAddress         StatusCode = 0xFE
	StatusUnsupportedCommand StatusCode = 0xFF
)

var statusNames = map[StatusCode]string{
	StatusSuccess:            "SUCCESS",
	StatusVerifyFail:         "VERIFY_FAIL",
	StatusBadLength:          "BAD_LENGTH",
	StatusBadAddress:         "BAD_ADDRESS",
	StatusUnsupportedCommand: "UNSUPPORTED_COMMAND",
}

func (s StatusCode) String() string {
	if str, ok := statusNames[s]; ok {
		return str
	}
	return fmt.Sprintf("0x%02X", byte(s))
}

// DefaultUnlockKey must be present in WRITE_FLASH and ERASE_FLASH commands.
// The bootloader does not report a wrong key, it silently ignores the command.
const DefaultUnlockKey uint32 = 0x00AA0055

// HeaderSize is the wire size of a Command and of a ResponseBase.
const HeaderSize = 11

// Packet is implemented by every fixed-layout structure exchanged with the
// bootloader.
type Packet interface {
	wire()
}

// Command is sent to the bootloader, optionally followed by data bytes.
//
// The meaning of DataLength depends on Code: number of data bytes following
// the header for WRITE_FLASH, number of erase pages for ERASE_FLASH and number
// of bytes to checksum for CALC_CHECKSUM.
type Command struct {
	Code           CommandCode
	DataLength     uint16
	UnlockSequence uint32
	Address        uint32
}

// ResponseBase is the command header as echoed back by the bootloader.
type ResponseBase Command

// Version answers READ_VERSION. It carries no status byte.
type Version struct {
	ResponseBase
	Version         uint16
	MaxPacketLength uint16
	_               [2]byte
	DeviceID        uint16
	_               [2]byte
	EraseSize       uint16
	WriteSize       uint16
	_               [12]byte
}

// Status answers WRITE_FLASH, ERASE_FLASH, READ_FLASH, RESET_DEVICE and
// SELF_VERIFY.
type Status struct {
	ResponseBase
	Status StatusCode
}

// MemoryRange answers GET_MEMORY_ADDRESS_RANGE. ProgramEnd is inclusive.
type MemoryRange struct {
	ResponseBase
	Status       StatusCode
	ProgramStart uint32
	ProgramEnd   uint32
}

// Checksum answers CALC_CHECKSUM.
type Checksum struct {
	ResponseBase
	Status   StatusCode
	Checksum uint16
}

func (Command) wire()      {}
func (ResponseBase) wire() {}
func (Version) wire()      {}
func (Status) wire()       {}
func (MemoryRange) wire()  {}
func (Checksum) wire()     {}

func (c Command) String() string {
	return fmt.Sprintf("%v (len=%d, addr=0x%06X)", c.Code, c.DataLength, c.Address)
}

// SizeOf returns the number of bytes p occupies on the wire.
func SizeOf(p Packet) int {
	return binary.Size(p)
}

// Encode returns the little-endian wire representation of p.
func Encode(p Packet) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, SizeOf(p)))
	if err := binary.Write(buf, binary.LittleEndian, p); err != nil {
		panic("packet is not fixed size: " + err.Error())
	}
	return buf.Bytes()
}

// Decode fills the packet pointed to by p from data. The length of data must
// match the wire size of p exactly.
func Decode(data []byte, p Packet) error {
	if want := SizeOf(p); len(data) != want {
		return &LengthError{
			Type:     fmt.Sprintf("%T", p),
			Expected: want,
			Actual:   len(data),
		}
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, p)
}
