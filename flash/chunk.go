package flash

import (
	"sort"

	"github.com/pkg/errors"
)

// Each program memory address holds two bytes of image data, so byte
// offsets into segment data are twice the address offsets.
const bytesPerAddress = 2

// Segment is a contiguous piece of a firmware image. Address is a program
// memory (word) address.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the first address after the segment.
func (s Segment) End() uint32 {
	return s.Address + uint32(divCeil(len(s.Data), bytesPerAddress))
}

// Image is a firmware image as an ordered list of segments.
type Image []Segment

// Chunk is a piece of an image that can be written with one WRITE_FLASH
// command. Address is aligned to a write block and the length of Data is a
// multiple of the write block size.
type Chunk struct {
	Address uint32
	Data    []byte
}

func (c Chunk) End() uint32 {
	return c.Address + uint32(len(c.Data)/bytesPerAddress)
}

// Chunks yields the chunks of an image in address order. It is consumed as
// it is read and can not be rewound; call Chunked again to start over.
type Chunks struct {
	blocks []Segment
	size   int
	off    int
}

// Next returns the next chunk, or false once all chunks were returned.
func (c *Chunks) Next() (Chunk, bool) {
	for len(c.blocks) > 0 {
		blk := c.blocks[0]
		if c.off >= len(blk.Data) {
			c.blocks = c.blocks[1:]
			c.off = 0
			continue
		}

		end := min(c.off+c.size, len(blk.Data))
		chunk := Chunk{
			Address: blk.Address + uint32(c.off/bytesPerAddress),
			Data:    blk.Data[c.off:end],
		}
		c.off = end
		return chunk, true
	}
	return Chunk{}, false
}

// ChunkSize returns the largest multiple of the write block size that fits
// in one packet after the command header.
func ChunkSize(attrs BootAttrs) int {
	return alignDown(attrs.MaxPacketLength-HeaderSize, attrs.WriteSize)
}

// Chunked crops img to the program memory range and splits it into chunks.
// Partial write blocks are padded with fill. The returned total is the number
// of bytes all chunks hold together.
func Chunked(img Image, attrs BootAttrs, fill byte) (int, *Chunks, error) {
	if attrs.WriteSize <= 0 || attrs.WriteSize%bytesPerAddress != 0 {
		return 0, nil, errors.Errorf("write size %d is not a whole number of addresses", attrs.WriteSize)
	}
	size := ChunkSize(attrs)
	if size <= 0 {
		return 0, nil, errors.Errorf("max packet length %d leaves no room for a %d byte write block",
			attrs.MaxPacketLength, attrs.WriteSize)
	}
	segs := crop(img, attrs.MemoryRange)
	if len(segs) == 0 {
		return 0, nil, ErrNoData
	}

	blocks := padToBlocks(segs, attrs.WriteSize, fill)
	total := 0
	for _, blk := range blocks {
		total += len(blk.Data)
	}

	return total, &Chunks{blocks: blocks, size: size}, nil
}

// crop returns the parts of img inside r, sorted by address.
func crop(img Image, r AddressRange) []Segment {
	var out []Segment
	for _, seg := range img {
		start := max(seg.Address, r.Start)
		end := min(seg.End(), r.End)
		if start >= end {
			continue
		}
		lo := int(start-seg.Address) * bytesPerAddress
		hi := min(int(end-seg.Address)*bytesPerAddress, len(seg.Data))
		out = append(out, Segment{Address: start, Data: seg.Data[lo:hi]})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// padToBlocks extends every segment to whole write blocks. Segments sharing a
// write block are merged so no two blocks overlap.
func padToBlocks(segs []Segment, writeSize int, fill byte) []Segment {
	blockAddrs := uint32(writeSize / bytesPerAddress)

	var out []Segment
	for _, seg := range segs {
		start := alignDown(seg.Address, blockAddrs)

		if n := len(out); n > 0 && start <= out[n-1].End() {
			cur := &out[n-1]
			off := int(seg.Address-cur.Address) * bytesPerAddress
			if need := off + len(seg.Data); need > len(cur.Data) {
				cur.Data = append(cur.Data, filled(need-len(cur.Data), fill)...)
			}
			copy(cur.Data[off:], seg.Data)
			continue
		}

		lead := int(seg.Address-start) * bytesPerAddress
		out = append(out, Segment{
			Address: start,
			Data:    append(filled(lead, fill), seg.Data...),
		})
	}

	for i := range out {
		if tail := alignUp(len(out[i].Data), writeSize) - len(out[i].Data); tail > 0 {
			out[i].Data = append(out[i].Data, filled(tail, fill)...)
		}
	}
	return out
}
