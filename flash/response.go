package flash

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Response is one of *Version, *Status, *MemoryRange or *Checksum.
type Response interface {
	Packet
	Echo() ResponseBase
}

func (r ResponseBase) Echo() ResponseBase { return r }

type responseKind int

const (
	kindVersion responseKind = iota
	kindStatus
	kindMemoryRange
	kindChecksum
)

// responseKinds maps every command to the layout of its response. A command
// missing from this table can not be framed.
var responseKinds = map[CommandCode]responseKind{
	CommandReadVersion:           kindVersion,
	CommandReadFlash:             kindStatus,
	CommandWriteFlash:            kindStatus,
	CommandEraseFlash:            kindStatus,
	CommandCalcChecksum:          kindChecksum,
	CommandResetDevice:           kindStatus,
	CommandSelfVerify:            kindStatus,
	CommandGetMemoryAddressRange: kindMemoryRange,
}

func (k responseKind) new() Response {
	switch k {
	case kindVersion:
		return &Version{}
	case kindMemoryRange:
		return &MemoryRange{}
	case kindChecksum:
		return &Checksum{}
	default:
		return &Status{}
	}
}

// readResponse reads the response to cmd from ch.
//
// The length of a response depends on the command it answers and on whether
// it reports success, so it is read in stages: the echoed header first, then
// the status byte, and the trailer only when the status is SUCCESS. The
// bootloader sends nothing after a failure status.
func readResponse(ch Channel, cmd Command, to time.Duration) (Response, error) {
	head, err := readExact(ch, HeaderSize, to)
	if err != nil {
		return nil, errors.Wrap(err, "could not read response header")
	}
	logrus.Debugf("rx: %s", hexdump(head, nil))

	var base ResponseBase
	if err := Decode(head, &base); err != nil {
		return nil, err
	}
	if base.Code != cmd.Code {
		return nil, &CommandMismatchError{Sent: cmd.Code, Received: base.Code}
	}

	kind, ok := responseKinds[base.Code]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCommand, "%v", base.Code)
	}
	resp := kind.new()
	size := SizeOf(resp)

	if kind == kindVersion {
		rest, err := readExact(ch, size-HeaderSize, to)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read %v response", base.Code)
		}
		logrus.Debugf("rx: %s", hexdump(rest, head))
		if err := Decode(concat(head, rest), resp); err != nil {
			return nil, err
		}
		return resp, nil
	}

	status, err := readExact(ch, 1, to)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %v status", base.Code)
	}
	logrus.Debugf("rx: %s", hexdump(status, head))

	if code := StatusCode(status[0]); code != StatusSuccess {
		return nil, &StatusError{Command: base.Code, Status: code}
	}

	raw := concat(head, status)
	if rem := size - len(raw); rem > 0 {
		rest, err := readExact(ch, rem, to)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read %v response", base.Code)
		}
		logrus.Debugf("rx: %s", hexdump(rest, raw))
		raw = concat(raw, rest)
	}

	if err := Decode(raw, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// readExact enforces the Channel contract for implementations that return
// fewer bytes than requested without an error.
func readExact(ch Channel, n int, to time.Duration) ([]byte, error) {
	bs, err := ch.ReadN(n, to)
	if err != nil {
		return nil, err
	}
	if len(bs) != n {
		return nil, errors.Wrapf(ErrShortRead, "wanted %d bytes, got %d", n, len(bs))
	}
	return bs, nil
}

// concat joins packet pieces into a fresh buffer, never aliasing memory
// handed out by the Channel.
func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

// hexdump formats bs as space separated hex bytes, indented past pad so that
// consecutive pieces of one packet line up in the debug log.
func hexdump(bs, pad []byte) string {
	var sb strings.Builder
	if len(pad) > 0 {
		sb.WriteString(strings.Repeat(" ", 3*len(pad)))
	}
	for i, b := range bs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
