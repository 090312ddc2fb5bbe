package flash

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FlashFile will flash the Intel HEX file at path
func (b *Bootloader) FlashFile(path string) (int, error) {
	img, err := LoadHexFile(path)
	if err != nil {
		return 0, err
	}
	logrus.Infof("Flashing %s", path)
	return b.Flash(img)
}

// Flash will program img into the device and return the number of bytes
// written.
//
// The sequence is: read the bootloader attributes, erase program memory,
// write and checksum every chunk, self verify and optionally reset. A failure
// at any step aborts the sequence and leaves the device in need of a new
// flash starting with the erase.
func (b *Bootloader) Flash(img Image) (int, error) {
	attrs, err := b.ReadAttrs()
	if err != nil {
		return 0, err
	}

	// chunk before erasing so that an unusable image leaves the device alone
	total, chunks, err := Chunked(img, attrs, b.config.FillByte)
	if err != nil {
		return 0, err
	}

	logrus.Info("Erasing program area...")
	if err := b.Erase(attrs); err != nil {
		return 0, errors.Wrap(err, "could not erase flash")
	}

	logrus.Infof("Writing %d bytes...", total)
	written, err := b.Write(attrs, chunks, total)
	if err != nil {
		return written, err
	}

	if err := b.SelfVerify(); err != nil {
		return written, errors.Wrap(err, "flashing completed but the application is not bootable")
	}

	if b.config.Reset {
		if err := b.Reset(); err != nil {
			return written, errors.Wrap(err, "could not reset device")
		}
	}

	return written, nil
}
