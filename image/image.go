// Package image implements the random-access byte source that all ELF
// parsing in this module goes through — the "Image Reader" external
// collaborator from the core's design. Two backends are provided: a
// local memory-mapped file (the common case, mirroring how
// github.com/saferwall/pe.File memory-maps the object it parses
// instead of read()-ing it) and a remote debuginfo-server fetch.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// ErrOutsideBoundary is returned whenever a read would cross the image
// boundary. Callers are expected to call Valid first; Get still
// returns this error defensively rather than panicking, matching the
// teacher's ReadUint32/ReadBytesAtOffset boundary checks.
var ErrOutsideBoundary = errors.New("image: read outside boundary")

// IOff is a byte offset within a specific Image. Offsets from
// different images must never be compared or added directly.
type IOff uint64

// Image is the random-access byte source over a local file or a
// remote debuginfo-server fetch. All ELF structure parsing in this
// module is expressed in terms of this interface so that the main,
// debug, and alt-debug images can be swapped between backends
// transparently.
type Image interface {
	// Name returns a human-readable identifier (path or remote URL) for
	// diagnostics.
	Name() string

	// Size returns the total byte length of the image.
	Size() uint64

	// Valid reports whether [off, off+length) lies wholly inside the image.
	Valid(off IOff, length uint64) bool

	// Get copies len(dst) bytes starting at off into dst. Precondition:
	// Valid(off, len(dst)) — violating it is a contract error, not a
	// recoverable one, but Get still returns ErrOutsideBoundary instead
	// of panicking.
	Get(dst []byte, off IOff) error

	GetU8(off IOff) (uint8, error)
	GetU16(off IOff, order binary.ByteOrder) (uint16, error)
	GetU32(off IOff, order binary.ByteOrder) (uint32, error)
	GetU64(off IOff, order binary.ByteOrder) (uint64, error)

	// StrDup reads a NUL-terminated byte run starting at off and returns
	// it as an owned string (NUL excluded).
	StrDup(off IOff) (string, error)

	// StrcmpC compares the NUL-terminated string at off against s,
	// returning <0, 0, >0 like C's strcmp.
	StrcmpC(off IOff, s string) (int, error)

	// Strlen returns the length, in bytes, of the NUL-terminated string
	// at off, not including the terminator.
	Strlen(off IOff) (uint64, error)

	// CRC32 returns the CRC-32 (IEEE/"gnu debuglink" polynomial) of the
	// whole image, computed once and cached.
	CRC32() (uint32, error)

	// Close releases the image's resources. Safe to call multiple times.
	Close() error
}

// Slice identifies a contiguous region of an Image: (image, offset,
// length). Either all three fields carry the distinguished invalid
// value, or off+length <= image.Size().
type Slice struct {
	Img Image
	Off IOff
	Len uint64
}

// InvalidSlice is the distinguished "no such region" value.
var InvalidSlice = Slice{}

// Valid reports whether s is well-formed: either wholly invalid, or
// fully contained within its image.
func (s Slice) Valid() bool {
	if s.Img == nil {
		return s.Off == 0 && s.Len == 0
	}
	return s.Img.Valid(s.Off, s.Len)
}

// Present reports whether s refers to an actual region (non-zero
// image), as opposed to InvalidSlice.
func (s Slice) Present() bool {
	return s.Img != nil
}

// Bytes materializes the slice's contents, for callers (such as the
// .gnu_debuglink and .gnu_debugaltlink parsers) that need the whole
// region in memory at once.
func (s Slice) Bytes() ([]byte, error) {
	if !s.Present() {
		return nil, nil
	}
	buf := make([]byte, s.Len)
	if err := s.Img.Get(buf, s.Off); err != nil {
		return nil, err
	}
	return buf, nil
}

// fileImage is the local, memory-mapped backend.
type fileImage struct {
	name     string
	f        *os.File
	data     mmap.MMap
	crc      uint32
	crcKnown bool
}

// OpenFile memory-maps path read-only and returns an Image over its
// contents, mirroring pe.New's use of mmap.Map(f, mmap.RDONLY, 0).
func OpenFile(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileImage{name: path, f: f, data: data}, nil
}

// OpenBytes wraps an in-memory buffer as an Image, for tests and for
// the fuzzing entry point — the analogue of pe.NewBytes.
func OpenBytes(name string, data []byte) Image {
	return &bytesImage{name: name, data: data}
}

func (im *fileImage) Name() string { return im.name }
func (im *fileImage) Size() uint64 { return uint64(len(im.data)) }

func (im *fileImage) Valid(off IOff, length uint64) bool {
	return validRange(uint64(off), length, im.Size())
}

func (im *fileImage) Get(dst []byte, off IOff) error {
	if !im.Valid(off, uint64(len(dst))) {
		return ErrOutsideBoundary
	}
	copy(dst, im.data[off:])
	return nil
}

func (im *fileImage) GetU8(off IOff) (uint8, error) {
	if !im.Valid(off, 1) {
		return 0, ErrOutsideBoundary
	}
	return im.data[off], nil
}

func (im *fileImage) GetU16(off IOff, order binary.ByteOrder) (uint16, error) {
	if !im.Valid(off, 2) {
		return 0, ErrOutsideBoundary
	}
	return order.Uint16(im.data[off:]), nil
}

func (im *fileImage) GetU32(off IOff, order binary.ByteOrder) (uint32, error) {
	if !im.Valid(off, 4) {
		return 0, ErrOutsideBoundary
	}
	return order.Uint32(im.data[off:]), nil
}

func (im *fileImage) GetU64(off IOff, order binary.ByteOrder) (uint64, error) {
	if !im.Valid(off, 8) {
		return 0, ErrOutsideBoundary
	}
	return order.Uint64(im.data[off:]), nil
}

func (im *fileImage) StrDup(off IOff) (string, error) {
	return strdup(im.data, off)
}

func (im *fileImage) StrcmpC(off IOff, s string) (int, error) {
	return strcmpC(im.data, off, s)
}

func (im *fileImage) Strlen(off IOff) (uint64, error) {
	return strlen(im.data, off)
}

func (im *fileImage) CRC32() (uint32, error) {
	if !im.crcKnown {
		im.crc = crc32.ChecksumIEEE(im.data)
		im.crcKnown = true
	}
	return im.crc, nil
}

func (im *fileImage) Close() error {
	if im.data != nil {
		_ = im.data.Unmap()
		im.data = nil
	}
	if im.f != nil {
		err := im.f.Close()
		im.f = nil
		return err
	}
	return nil
}

// bytesImage backs an Image with an in-memory slice, used by tests,
// the fuzz entry point, and as the buffer the remote backend fills.
type bytesImage struct {
	name     string
	data     []byte
	crc      uint32
	crcKnown bool
}

func (im *bytesImage) Name() string { return im.name }
func (im *bytesImage) Size() uint64 { return uint64(len(im.data)) }

func (im *bytesImage) Valid(off IOff, length uint64) bool {
	return validRange(uint64(off), length, im.Size())
}

func (im *bytesImage) Get(dst []byte, off IOff) error {
	if !im.Valid(off, uint64(len(dst))) {
		return ErrOutsideBoundary
	}
	copy(dst, im.data[off:])
	return nil
}

func (im *bytesImage) GetU8(off IOff) (uint8, error) {
	if !im.Valid(off, 1) {
		return 0, ErrOutsideBoundary
	}
	return im.data[off], nil
}

func (im *bytesImage) GetU16(off IOff, order binary.ByteOrder) (uint16, error) {
	if !im.Valid(off, 2) {
		return 0, ErrOutsideBoundary
	}
	return order.Uint16(im.data[off:]), nil
}

func (im *bytesImage) GetU32(off IOff, order binary.ByteOrder) (uint32, error) {
	if !im.Valid(off, 4) {
		return 0, ErrOutsideBoundary
	}
	return order.Uint32(im.data[off:]), nil
}

func (im *bytesImage) GetU64(off IOff, order binary.ByteOrder) (uint64, error) {
	if !im.Valid(off, 8) {
		return 0, ErrOutsideBoundary
	}
	return order.Uint64(im.data[off:]), nil
}

func (im *bytesImage) StrDup(off IOff) (string, error) {
	return strdup(im.data, off)
}

func (im *bytesImage) StrcmpC(off IOff, s string) (int, error) {
	return strcmpC(im.data, off, s)
}

func (im *bytesImage) Strlen(off IOff) (uint64, error) {
	return strlen(im.data, off)
}

func (im *bytesImage) CRC32() (uint32, error) {
	if !im.crcKnown {
		im.crc = crc32.ChecksumIEEE(im.data)
		im.crcKnown = true
	}
	return im.crc, nil
}

func (im *bytesImage) Close() error { return nil }

func validRange(off, length, size uint64) bool {
	if length == 0 {
		return off <= size
	}
	end := off + length
	if end < off {
		return false // overflow
	}
	return end <= size
}

func strdup(data []byte, off IOff) (string, error) {
	if uint64(off) > uint64(len(data)) {
		return "", ErrOutsideBoundary
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return "", ErrOutsideBoundary
	}
	return string(data[off : uint64(off)+uint64(end)]), nil
}

func strlen(data []byte, off IOff) (uint64, error) {
	if uint64(off) > uint64(len(data)) {
		return 0, ErrOutsideBoundary
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return 0, ErrOutsideBoundary
	}
	return uint64(end), nil
}

func strcmpC(data []byte, off IOff, s string) (int, error) {
	got, err := strdup(data, off)
	if err != nil {
		return 0, err
	}
	return bytes.Compare([]byte(got), []byte(s)), nil
}
