package flash

import (
	"fmt"

	"github.com/pkg/errors"
)

// Transport errors.
var (
	ErrTimeout   = errors.New("timed out reading from bootloader")
	ErrClosed    = errors.New("serial port is closed")
	ErrShortRead = errors.New("short read from bootloader")
)

// Errors mapped from the status byte of a response.
var (
	ErrUnsupportedCommand = errors.New("bootloader does not support command")
	ErrBadAddress         = errors.New("address outside program memory range")
	ErrBadLength          = errors.New("packet length exceeds bootloader limit")
	ErrVerifyFail         = errors.New("no application detected in program memory")
	ErrUnknownStatus      = errors.New("unknown status code")
)

var (
	ErrNoResponse     = errors.New("no response from bootloader")
	ErrUnknownCommand = errors.New("no response layout for command")
	ErrNoData         = errors.New("image contains no data within program memory range")
	ErrEraseFailed    = errors.New("existing application could not be erased")
)

var statusErrors = map[StatusCode]error{
	StatusUnsupportedCommand: ErrUnsupportedCommand,
	StatusBadAddress:         ErrBadAddress,
	StatusBadLength:          ErrBadLength,
	StatusVerifyFail:         ErrVerifyFail,
}

// StatusError is returned when the bootloader answers a command with a status
// other than SUCCESS. It unwraps to one of ErrUnsupportedCommand, ErrBadAddress,
// ErrBadLength, ErrVerifyFail or ErrUnknownStatus.
type StatusError struct {
	Command CommandCode
	Status  StatusCode
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v failed: %v", e.Command, e.Status)
}

func (e *StatusError) Unwrap() error {
	if err, ok := statusErrors[e.Status]; ok {
		return err
	}
	return ErrUnknownStatus
}

// LengthError is returned by Decode when the buffer does not match the wire
// size of the target packet.
type LengthError struct {
	Type     string
	Expected int
	Actual   int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%s expected %d bytes, got %d", e.Type, e.Expected, e.Actual)
}

// CommandMismatchError means the response did not echo the command just sent.
// The stream can not be trusted afterwards.
type CommandMismatchError struct {
	Sent     CommandCode
	Received CommandCode
}

func (e *CommandMismatchError) Error() string {
	return fmt.Sprintf("command code mismatch: sent %v, received %v", e.Sent, e.Received)
}

// ChecksumMismatchError is returned when the checksum calculated by the
// bootloader over freshly written flash differs from the local one. A wrong
// unlock key is the usual cause.
type ChecksumMismatchError struct {
	Address uint32
	Local   uint16
	Remote  uint16
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch at 0x%06X: local 0x%04X, bootloader 0x%04X",
		e.Address, e.Local, e.Remote)
}

// IsTransportError reports whether err was caused by the byte channel rather
// than by the bootloader.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrClosed) || errors.Is(err, ErrShortRead)
}

// IsFramingError reports whether err means the response stream is out of sync.
func IsFramingError(err error) bool {
	var mismatch *CommandMismatchError
	var length *LengthError
	return errors.As(err, &mismatch) || errors.As(err, &length) || errors.Is(err, ErrUnknownCommand)
}
