package flash

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// The bootloader reports the address of the last instruction word, and the
// upper byte of that 24-bit word lives at the next address. Adding both
// gives a half-open range covering the whole final instruction.
const memoryRangeEndSpan = 2

// AddressRange is a half-open range [Start, End) of program memory addresses.
type AddressRange struct {
	Start uint32
	End   uint32
}

func (r AddressRange) Len() uint32 {
	return r.End - r.Start
}

func (r AddressRange) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

func (r AddressRange) String() string {
	return fmt.Sprintf("0x%06X:0x%06X", r.Start, r.End)
}

// BootAttrs holds the bootloader attributes read once at the start of a
// session.
type BootAttrs struct {
	Version         int
	MaxPacketLength int
	DeviceID        int
	// EraseSize is the size of a flash erase page.
	EraseSize int
	// WriteSize is the size of a write block. Writes must be aligned to it.
	WriteSize   int
	MemoryRange AddressRange
	HasChecksum bool
}

// ReadAttrs discovers the bootloader attributes. It fails with ErrNoResponse
// if the very first command times out, which usually means the device is not
// in bootloader mode.
func (b *Bootloader) ReadAttrs() (BootAttrs, error) {
	v, err := b.cmdReadVersion()
	if err != nil {
		if IsTransportError(err) {
			return BootAttrs{}, errors.Wrap(ErrNoResponse, err.Error())
		}
		return BootAttrs{}, errors.Wrap(err, "could not read version")
	}
	logrus.Debugf("bootloader version: %d", v.Version)
	logrus.Debugf("max packet length:  %d", v.MaxPacketLength)
	logrus.Debugf("erase size:         %d", v.EraseSize)
	logrus.Debugf("write size:         %d", v.WriteSize)

	if v.WriteSize == 0 || v.EraseSize == 0 || int(v.MaxPacketLength) <= HeaderSize {
		return BootAttrs{}, errors.Errorf("bootloader reports unusable geometry "+
			"(max packet %d, erase size %d, write size %d)",
			v.MaxPacketLength, v.EraseSize, v.WriteSize)
	}

	mr, err := b.cmdGetMemoryAddressRange()
	if err != nil {
		return BootAttrs{}, errors.Wrap(err, "could not read memory range")
	}
	logrus.Debugf("program memory range: 0x%06X:0x%06X", mr.ProgramStart, mr.ProgramEnd)

	attrs := BootAttrs{
		Version:         int(v.Version),
		MaxPacketLength: int(v.MaxPacketLength),
		DeviceID:        int(v.DeviceID),
		EraseSize:       int(v.EraseSize),
		WriteSize:       int(v.WriteSize),
		MemoryRange: AddressRange{
			Start: mr.ProgramStart,
			End:   mr.ProgramEnd + memoryRangeEndSpan,
		},
		HasChecksum: true,
	}

	if _, err := b.cmdCalcChecksum(attrs.MemoryRange.Start, attrs.WriteSize); err != nil {
		if !errors.Is(err, ErrUnsupportedCommand) {
			return BootAttrs{}, errors.Wrap(err, "could not probe checksum support")
		}
		logrus.Warn("bootloader does not support checksumming")
		attrs.HasChecksum = false
	}

	return attrs, nil
}
