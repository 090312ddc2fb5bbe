package flash

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// exchange sends cmd followed by payload and reads the matching response.
// Every command reaches the device through here.
func (b *Bootloader) exchange(cmd Command, payload []byte) (Response, error) {
	raw := Encode(cmd)
	if len(payload) > 0 {
		logrus.Debugf("tx: %s plus %d data bytes", hexdump(raw, nil), len(payload))
	} else {
		logrus.Debugf("tx: %s", hexdump(raw, nil))
	}

	if err := b.ch.Write(raw, payload); err != nil {
		return nil, errors.Wrapf(err, "could not send %v", cmd.Code)
	}

	return readResponse(b.ch, cmd, b.timeout)
}

// cmdReadVersion reads the bootloader version and its packet and flash
// geometry.
func (b *Bootloader) cmdReadVersion() (*Version, error) {
	resp, err := b.exchange(Command{Code: CommandReadVersion}, nil)
	if err != nil {
		return nil, err
	}
	return resp.(*Version), nil
}

// cmdGetMemoryAddressRange returns the program memory range as reported,
// with an inclusive upper bound.
func (b *Bootloader) cmdGetMemoryAddressRange() (*MemoryRange, error) {
	resp, err := b.exchange(Command{Code: CommandGetMemoryAddressRange}, nil)
	if err != nil {
		return nil, err
	}
	return resp.(*MemoryRange), nil
}

// cmdCalcChecksum asks the bootloader for the checksum of length bytes of
// flash starting at addr.
func (b *Bootloader) cmdCalcChecksum(addr uint32, length int) (uint16, error) {
	resp, err := b.exchange(Command{
		Code:       CommandCalcChecksum,
		DataLength: uint16(length),
		Address:    addr,
	}, nil)
	if err != nil {
		return 0, err
	}
	return resp.(*Checksum).Checksum, nil
}

// cmdEraseFlash erases the given number of pages starting at addr.
func (b *Bootloader) cmdEraseFlash(addr uint32, pages int) error {
	_, err := b.exchange(Command{
		Code:           CommandEraseFlash,
		DataLength:     uint16(pages),
		UnlockSequence: b.config.UnlockKey,
		Address:        addr,
	}, nil)
	return err
}

// cmdWriteFlash writes data at addr. The data must fit in one packet.
func (b *Bootloader) cmdWriteFlash(addr uint32, data []byte) error {
	_, err := b.exchange(Command{
		Code:           CommandWriteFlash,
		DataLength:     uint16(len(data)),
		UnlockSequence: b.config.UnlockKey,
		Address:        addr,
	}, data)
	return err
}

func (b *Bootloader) cmdSelfVerify() error {
	_, err := b.exchange(Command{Code: CommandSelfVerify}, nil)
	return err
}

func (b *Bootloader) cmdResetDevice() error {
	_, err := b.exchange(Command{Code: CommandResetDevice}, nil)
	return err
}
