package flash

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Erase erases the program memory range page by page.
//
// Unless ForceErase is set, the erase is skipped when no application is
// detected. After erasing, an application that is still detected means the
// bootloader silently ignored the erase, and ErrEraseFailed is returned.
func (b *Bootloader) Erase(attrs BootAttrs) error {
	if !b.config.ForceErase {
		present, err := b.DetectProgram()
		if err != nil {
			return err
		}
		if !present {
			logrus.Info("No application detected, skipping flash erase")
			return nil
		}
	}

	if err := b.erasePages(attrs.MemoryRange, attrs.EraseSize); err != nil {
		return err
	}

	present, err := b.DetectProgram()
	if err != nil {
		return err
	}
	if present {
		logrus.Debug("application still detected after erase; unlock key may be incorrect")
		return ErrEraseFailed
	}
	logrus.Info("No application detected; flash erase successful")
	return nil
}

func (b *Bootloader) erasePages(r AddressRange, eraseSize int) error {
	if eraseSize <= 0 {
		return errors.Errorf("invalid erase size %d", eraseSize)
	}
	pages := int(r.Len()) / eraseSize
	if pages > math.MaxUint16 {
		return errors.Errorf("%d pages can not be erased", pages)
	}
	total := pages * eraseSize

	logrus.Debugf("erasing %d pages in %v", pages, r)
	for i := 0; i < pages; i++ {
		addr := r.Start + uint32(i*eraseSize)

		err := b.cmdEraseFlash(addr, 1)
		if errors.Is(err, ErrBadAddress) {
			// Some bootloader versions wrongly reject page addresses above
			// 0xFFFF, but accept the rest of the range as one request.
			logrus.Warnf("got BAD_ADDRESS erasing page at 0x%06X; probably a bootloader bug", addr)
			logrus.Warn("erasing all remaining pages at once")
			if err := b.eraseAtOnce(addr, pages-i); err != nil {
				return errors.Wrapf(err, "could not erase 0x%06X:0x%06X", addr, r.Start+uint32(total))
			}
			b.report(Progress{Phase: PhaseErasing, Done: total, Total: total})
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "could not erase page at 0x%06X", addr)
		}

		b.report(Progress{Phase: PhaseErasing, Done: (i + 1) * eraseSize, Total: total})
	}
	return nil
}

// eraseAtOnce erases a large range in one request, which takes a lot longer
// than a single page.
func (b *Bootloader) eraseAtOnce(addr uint32, pages int) error {
	defer b.extendTimeout(b.config.EraseTimeoutFactor)()
	logrus.Debugf("erasing %d pages from 0x%06X with timeout %v", pages, addr, b.timeout)
	return b.cmdEraseFlash(addr, pages)
}

// Write writes every chunk and, when the bootloader supports it, compares
// checksums of each written chunk. It returns the number of bytes written.
func (b *Bootloader) Write(attrs BootAttrs, chunks *Chunks, total int) (int, error) {
	verify := attrs.HasChecksum && !b.config.SkipChecksum
	written := 0

	for chunk, ok := chunks.Next(); ok; chunk, ok = chunks.Next() {
		logrus.Debugf("writing %d bytes to 0x%06X", len(chunk.Data), chunk.Address)
		if err := b.cmdWriteFlash(chunk.Address, chunk.Data); err != nil {
			return written, errors.Wrapf(err, "could not write 0x%06X", chunk.Address)
		}

		if verify {
			if err := b.verifyChunk(attrs, chunk); err != nil {
				return written, err
			}
		}

		written += len(chunk.Data)
		logrus.Debugf("%d bytes written of %d", written, total)
		b.report(Progress{Phase: PhaseWriting, Done: written, Total: total})
	}

	return written, nil
}

// verifyChunk compares the local checksum of a written chunk with the one
// calculated by the bootloader.
func (b *Bootloader) verifyChunk(attrs BootAttrs, c Chunk) error {
	// Some bootloader versions answer BAD_ADDRESS to checksum requests
	// reaching the last write block of program memory.
	blockAddrs := uint32(attrs.WriteSize / bytesPerAddress)
	if c.End()+blockAddrs >= attrs.MemoryRange.End {
		logrus.Warnf("skipping checksum of 0x%06X:0x%06X near end of program memory", c.Address, c.End())
		return nil
	}

	local := checksum(c.Data)
	remote, err := b.cmdCalcChecksum(c.Address, len(c.Data))
	if err != nil {
		return errors.Wrapf(err, "could not checksum 0x%06X", c.Address)
	}

	if local != remote {
		logrus.Debug("unlock key may be incorrect")
		return &ChecksumMismatchError{Address: c.Address, Local: local, Remote: remote}
	}
	logrus.Debugf("checksum OK: 0x%04X", local)
	return nil
}

// SelfVerify asks the bootloader whether a bootable application is present.
// ErrVerifyFail means it is not.
func (b *Bootloader) SelfVerify() error {
	if err := b.cmdSelfVerify(); err != nil {
		return err
	}
	logrus.Info("Self verify OK")
	return nil
}

// DetectProgram reports whether an application is present in program memory.
func (b *Bootloader) DetectProgram() (bool, error) {
	err := b.cmdSelfVerify()
	if errors.Is(err, ErrVerifyFail) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Reset resets the device, starting the application.
func (b *Bootloader) Reset() error {
	if err := b.cmdResetDevice(); err != nil {
		return err
	}
	logrus.Info("Device reset")
	return nil
}
