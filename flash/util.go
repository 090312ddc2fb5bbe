package flash

import (
	"golang.org/x/exp/constraints"
)

// checksum computes the bootloader compatible checksum of data. Data is
// taken in groups of four bytes, one 24-bit instruction plus its phantom
// byte, and the low three bytes of each group are summed.
func checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i < len(data); i += 4 {
		var group [4]byte
		copy(group[:], data[i:])
		sum += uint32(group[0]) + uint32(group[1])<<8 + uint32(group[2])
	}
	return uint16(sum & 0xFFFF)
}

// min will return the minimum of the two values
func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// max will return the maximum of the two values
func max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func alignDown[T constraints.Integer](v, align T) T {
	return v - v%align
}

func alignUp[T constraints.Integer](v, align T) T {
	if r := v % align; r != 0 {
		return v + align - r
	}
	return v
}

func divCeil[T constraints.Integer](v, d T) T {
	return (v + d - 1) / d
}

// filled returns n bytes set to b.
func filled(n int, b byte) []byte {
	bs := make([]byte, n)
	if b != 0 {
		for i := range bs {
			bs[i] = b
		}
	}
	return bs
}
