package flash

import (
	"bytes"
	"io"

	"github.com/arduino/go-paths-helper"
	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LoadHexFile reads an Intel HEX file into an Image.
func LoadHexFile(path string) (Image, error) {
	if path == "" {
		return nil, errors.New("no hex file given")
	}
	data, err := paths.New(path).ReadFile()
	if err != nil {
		return nil, errors.Wrap(err, "could not read hex file")
	}
	return ParseHex(bytes.NewReader(data))
}

// ParseHex parses Intel HEX data. The byte addresses of the file are halved
// into program memory addresses.
func ParseHex(r io.Reader) (Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, errors.Wrap(err, "could not parse hex file")
	}

	var img Image
	for _, seg := range mem.GetDataSegments() {
		if seg.Address%bytesPerAddress != 0 {
			return nil, errors.Errorf("segment at 0x%08X does not start on a program memory address", seg.Address)
		}
		img = append(img, Segment{
			Address: seg.Address / bytesPerAddress,
			Data:    seg.Data,
		})
		logrus.Debugf("hex segment 0x%06X [l=%d]", seg.Address/bytesPerAddress, len(seg.Data))
	}
	return img, nil
}
