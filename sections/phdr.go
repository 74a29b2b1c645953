package sections

import (
	"encoding/binary"

	"github.com/saferwall/elfdebuginfo/elfident"
	"github.com/saferwall/elfdebuginfo/image"
)

// Program header p_type values consulted here.
const (
	ptNull    = 0
	ptLoad    = 1
	ptDynamic = 2
	ptNote    = 4
)

// Segment flag bits.
const (
	pfX = 1
	pfW = 2
	pfR = 4
)

// ProgHeader is a class-normalized program header entry.
type ProgHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

func (p ProgHeader) execR() bool { return p.Flags&pfR != 0 && p.Flags&pfX != 0 }
func (p ProgHeader) writR() bool { return p.Flags&pfR != 0 && p.Flags&pfW != 0 }

// ReadProgramHeaders reads every entry of the program header table
// described by h, normalizing the 32/64-bit on-disk layouts to a
// common shape.
func ReadProgramHeaders(img image.Image, h elfident.Header) ([]ProgHeader, error) {
	out := make([]ProgHeader, 0, h.PhNum)
	for i := uint16(0); i < h.PhNum; i++ {
		base := image.IOff(h.PhOff) + image.IOff(uint64(i)*uint64(h.PhEntSize))
		var p ProgHeader
		var err error
		if h.Class == elfident.Class64 {
			p, err = readPhdr64(img, h.Order, base)
		} else {
			p, err = readPhdr32(img, h.Order, base)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func readPhdr64(img image.Image, order binary.ByteOrder, base image.IOff) (ProgHeader, error) {
	typ, err := img.GetU32(base, order)
	if err != nil {
		return ProgHeader{}, err
	}
	flags, err := img.GetU32(base+4, order)
	if err != nil {
		return ProgHeader{}, err
	}
	offset, err := img.GetU64(base+8, order)
	if err != nil {
		return ProgHeader{}, err
	}
	vaddr, err := img.GetU64(base+16, order)
	if err != nil {
		return ProgHeader{}, err
	}
	paddr, err := img.GetU64(base+24, order)
	if err != nil {
		return ProgHeader{}, err
	}
	filesz, err := img.GetU64(base+32, order)
	if err != nil {
		return ProgHeader{}, err
	}
	memsz, err := img.GetU64(base+40, order)
	if err != nil {
		return ProgHeader{}, err
	}
	align, err := img.GetU64(base+48, order)
	if err != nil {
		return ProgHeader{}, err
	}
	return ProgHeader{Type: typ, Flags: flags, Offset: offset, Vaddr: vaddr, Paddr: paddr, Filesz: filesz, Memsz: memsz, Align: align}, nil
}

func readPhdr32(img image.Image, order binary.ByteOrder, base image.IOff) (ProgHeader, error) {
	typ, err := img.GetU32(base, order)
	if err != nil {
		return ProgHeader{}, err
	}
	offset, err := img.GetU32(base+4, order)
	if err != nil {
		return ProgHeader{}, err
	}
	vaddr, err := img.GetU32(base+8, order)
	if err != nil {
		return ProgHeader{}, err
	}
	paddr, err := img.GetU32(base+12, order)
	if err != nil {
		return ProgHeader{}, err
	}
	filesz, err := img.GetU32(base+16, order)
	if err != nil {
		return ProgHeader{}, err
	}
	memsz, err := img.GetU32(base+20, order)
	if err != nil {
		return ProgHeader{}, err
	}
	flags, err := img.GetU32(base+24, order)
	if err != nil {
		return ProgHeader{}, err
	}
	align, err := img.GetU32(base+28, order)
	if err != nil {
		return ProgHeader{}, err
	}
	return ProgHeader{
		Type: typ, Flags: flags,
		Offset: uint64(offset), Vaddr: uint64(vaddr), Paddr: uint64(paddr),
		Filesz: uint64(filesz), Memsz: uint64(memsz), Align: uint64(align),
	}, nil
}
