package module

import (
	"bytes"
	"encoding/binary"
)

const (
	mzHeaderSize = 0x1c
	mzNewHeader  = 0x3c
)

var pmw1Signature = []byte("PMW1")

// A StubHeader is the start of the DOS MZ header.
type StubHeader struct {
	Signature     [2]byte
	LastPageBytes uint16 // bytes used in last 512-byte page, 0 if full
	NumPages      uint16 // number of 512-byte pages
}

// ImageSize returns the size of the DOS program described by the header.
func (h *StubHeader) ImageSize() int {
	size := int(h.NumPages) << 9
	if h.LastPageBytes != 0 {
		size = size - 512 + int(h.LastPageBytes)
	}
	return size
}

func hasSignature(b []byte, off int) bool {
	if off < 0 || off+2 > len(b) {
		return false
	}
	sig := b[off : off+2]
	return bytes.Equal(sig, []byte("LE")) || bytes.Equal(sig, []byte("LX"))
}

// SplitStub returns the offset of the protected mode payload following the DOS
// stub in an executable. A file which starts with an LE/LX header has no stub.
func SplitStub(b []byte) (int, error) {
	if hasSignature(b, 0) {
		return 0, nil
	}
	if len(b) < 2 || b[0] != 'M' || b[1] != 'Z' {
		return 0, formatError(0, "not an MZ executable")
	}
	if len(b) < mzHeaderSize {
		return 0, formatError(0, "incomplete MZ header")
	}
	var h StubHeader
	copy(h.Signature[:], b)
	h.LastPageBytes = binary.LittleEndian.Uint16(b[2:])
	h.NumPages = binary.LittleEndian.Uint16(b[4:])
	size := h.ImageSize()
	if size <= 0 || (h.NumPages == 0 && h.LastPageBytes != 0) {
		return 0, formatError(2, "invalid MZ image size")
	}
	if len(b) <= size {
		return 0, formatError(int64(len(b)), "pure MZ executable, no protected mode payload")
	}
	// Bound LE/LX executables may point to the header from the stub, past the
	// end of the DOS image.
	if len(b) >= mzNewHeader+4 {
		off := int64(binary.LittleEndian.Uint32(b[mzNewHeader:]))
		if off >= int64(size) && off < int64(len(b)) && hasSignature(b, int(off)) {
			return int(off), nil
		}
	}
	return size, nil
}
