package codec

import "encoding/binary"

// zstdMagic is the little-endian zstd frame magic number.
const zstdMagic = 0xFD2FB528

// frameContentSize parses a zstd frame header and returns its declared
// content size, if the frame declares one. It implements just enough of
// the zstd frame format (magic, frame header descriptor, optional window
// descriptor, optional dictionary id, frame content size field) to read
// that one value; it never attempts to validate or decode the frame body.
func frameContentSize(src []byte) (size uint64, ok bool) {
	if len(src) < 5 {
		return 0, false
	}
	if binary.LittleEndian.Uint32(src[:4]) != zstdMagic {
		return 0, false
	}

	fhd := src[4]
	fcsFlag := fhd >> 6
	singleSegment := fhd&(1<<5) != 0
	didFlag := fhd & 0x03

	pos := 5
	if !singleSegment {
		pos++ // window descriptor
	}

	var didSize int
	switch didFlag {
	case 0:
		didSize = 0
	case 1:
		didSize = 1
	case 2:
		didSize = 2
	case 3:
		didSize = 4
	}
	pos += didSize

	var fcsSize int
	switch fcsFlag {
	case 0:
		if singleSegment {
			fcsSize = 1
		} else {
			return 0, false // unknown content size
		}
	case 1:
		fcsSize = 2
	case 2:
		fcsSize = 4
	case 3:
		fcsSize = 8
	}

	if len(src) < pos+fcsSize {
		return 0, false
	}

	switch fcsSize {
	case 1:
		size = uint64(src[pos])
	case 2:
		size = uint64(binary.LittleEndian.Uint16(src[pos:])) + 256
	case 4:
		size = uint64(binary.LittleEndian.Uint32(src[pos:]))
	case 8:
		size = binary.LittleEndian.Uint64(src[pos:])
	}
	return size, true
}
