package flash

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
)

// fakeDevice simulates a bootloader behind a Channel. Program memory starts
// out erased (0xFF).
type fakeDevice struct {
	version   uint16
	maxPacket uint16
	deviceID  uint16
	eraseSize uint16
	writeSize uint16

	// start and end are reported by GET_MEMORY_ADDRESS_RANGE, end inclusive
	start uint32
	end   uint32

	unlockKey uint32

	// eraseBug rejects single page erases above 0xFFFF with BAD_ADDRESS
	eraseBug bool
	// failBulkErase rejects every multi page erase with BAD_ADDRESS
	failBulkErase bool
	// checksumBug rejects checksums reaching the last write block
	checksumBug bool
	noChecksum  bool
	// silent never answers
	silent bool

	mem []byte

	cmds     []Command
	timeouts []time.Duration
	reset    bool

	rx       []byte
	awaiting bool
}

func newFakeDevice() *fakeDevice {
	d := &fakeDevice{
		version:   0x0102,
		maxPacket: 0x13,
		deviceID:  0x3456,
		eraseSize: 0x20,
		writeSize: 8,
		start:     0x2000,
		end:       0x4000,
		unlockKey: DefaultUnlockKey,
	}
	d.init()
	return d
}

// init allocates program memory; call it again after changing the range.
func (d *fakeDevice) init() {
	d.mem = bytes.Repeat([]byte{0xFF}, int(d.end+memoryRangeEndSpan)*bytesPerAddress)
}

func (d *fakeDevice) load(addr uint32, data []byte) {
	copy(d.mem[addr*bytesPerAddress:], data)
}

func (d *fakeDevice) read(addr uint32, n int) []byte {
	off := int(addr) * bytesPerAddress
	return d.mem[off : off+n]
}

func (d *fakeDevice) hasProgram() bool {
	for _, b := range d.mem[d.start*bytesPerAddress:] {
		if b != 0xFF {
			return true
		}
	}
	return false
}

func (d *fakeDevice) count(code CommandCode) int {
	n := 0
	for _, c := range d.cmds {
		if c.Code == code {
			n++
		}
	}
	return n
}

func (d *fakeDevice) ReadN(n int, to time.Duration) ([]byte, error) {
	if d.awaiting {
		d.timeouts = append(d.timeouts, to)
		d.awaiting = false
	}
	if len(d.rx) < n {
		got := d.rx
		d.rx = nil
		return got, ErrTimeout
	}
	bs := make([]byte, n)
	copy(bs, d.rx)
	d.rx = d.rx[n:]
	return bs, nil
}

func (d *fakeDevice) Write(bs ...[]byte) error {
	var raw []byte
	for _, b := range bs {
		raw = append(raw, b...)
	}

	var cmd Command
	if err := Decode(raw[:HeaderSize], &cmd); err != nil {
		return errors.Wrap(err, "fake device")
	}
	d.cmds = append(d.cmds, cmd)
	d.awaiting = true

	if d.silent {
		return nil
	}
	d.rx = append(d.rx, Encode(d.handle(cmd, raw[HeaderSize:]))...)
	return nil
}

func (d *fakeDevice) inRange(addr uint32, n uint32) bool {
	return addr >= d.start && addr+n <= d.end+memoryRangeEndSpan
}

func (d *fakeDevice) handle(cmd Command, payload []byte) Packet {
	base := ResponseBase(cmd)
	status := func(s StatusCode) Packet { return &Status{ResponseBase: base, Status: s} }

	switch cmd.Code {
	case CommandReadVersion:
		return &Version{
			ResponseBase:    base,
			Version:         d.version,
			MaxPacketLength: d.maxPacket,
			DeviceID:        d.deviceID,
			EraseSize:       d.eraseSize,
			WriteSize:       d.writeSize,
		}

	case CommandGetMemoryAddressRange:
		return &MemoryRange{
			ResponseBase: base,
			Status:       StatusSuccess,
			ProgramStart: d.start,
			ProgramEnd:   d.end,
		}

	case CommandCalcChecksum:
		addrs := uint32(cmd.DataLength) / bytesPerAddress
		if d.noChecksum {
			return status(StatusUnsupportedCommand)
		}
		if !d.inRange(cmd.Address, addrs) {
			return status(StatusBadAddress)
		}
		top := d.end + memoryRangeEndSpan - uint32(d.writeSize)/bytesPerAddress
		if d.checksumBug && cmd.Address+addrs > top {
			return status(StatusBadAddress)
		}
		return &Checksum{
			ResponseBase: base,
			Status:       StatusSuccess,
			Checksum:     checksum(d.read(cmd.Address, int(cmd.DataLength))),
		}

	case CommandEraseFlash:
		pages := uint32(cmd.DataLength)
		if !d.inRange(cmd.Address, pages*uint32(d.eraseSize)) {
			return status(StatusBadAddress)
		}
		if d.eraseBug && pages == 1 && cmd.Address > 0xFFFF {
			return status(StatusBadAddress)
		}
		if d.failBulkErase && pages > 1 {
			return status(StatusBadAddress)
		}
		if cmd.UnlockSequence != d.unlockKey {
			return status(StatusSuccess)
		}
		n := int(pages) * int(d.eraseSize) * bytesPerAddress
		copy(d.mem[cmd.Address*bytesPerAddress:], bytes.Repeat([]byte{0xFF}, n))
		return status(StatusSuccess)

	case CommandWriteFlash:
		if int(cmd.DataLength) != len(payload) || len(payload) > int(d.maxPacket)-HeaderSize {
			return status(StatusBadLength)
		}
		if !d.inRange(cmd.Address, uint32(len(payload))/bytesPerAddress) {
			return status(StatusBadAddress)
		}
		if cmd.UnlockSequence != d.unlockKey {
			return status(StatusSuccess)
		}
		d.load(cmd.Address, payload)
		return status(StatusSuccess)

	case CommandSelfVerify:
		if !d.hasProgram() {
			return status(StatusVerifyFail)
		}
		return status(StatusSuccess)

	case CommandResetDevice:
		d.reset = true
		return status(StatusSuccess)
	}

	return status(StatusUnsupportedCommand)
}

// scriptChannel answers reads from a canned byte stream and records writes.
type scriptChannel struct {
	rx    []byte
	tx    [][]byte
	reads []int
}

func (s *scriptChannel) ReadN(n int, to time.Duration) ([]byte, error) {
	s.reads = append(s.reads, n)
	if len(s.rx) < n {
		got := s.rx
		s.rx = nil
		return got, ErrTimeout
	}
	bs := make([]byte, n)
	copy(bs, s.rx)
	s.rx = s.rx[n:]
	return bs, nil
}

func (s *scriptChannel) Write(bs ...[]byte) error {
	var raw []byte
	for _, b := range bs {
		raw = append(raw, b...)
	}
	s.tx = append(s.tx, raw)
	return nil
}
