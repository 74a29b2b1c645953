package sections

import (
	"encoding/binary"

	"github.com/saferwall/elfdebuginfo/elfident"
	"github.com/saferwall/elfdebuginfo/image"
)

// Section header sh_type values consulted here.
const (
	shtNull   = 0
	shtNobits = 8
	shtNote   = 7
)

// SecHeader is a class-normalized section header entry.
type SecHeader struct {
	NameOff   uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

func (s SecHeader) nobits() bool { return s.Type == shtNobits }

// ReadSectionHeaders reads every entry of the section header table
// described by h.
func ReadSectionHeaders(img image.Image, h elfident.Header) ([]SecHeader, error) {
	out := make([]SecHeader, 0, h.ShNum)
	for i := uint16(0); i < h.ShNum; i++ {
		base := image.IOff(h.ShOff) + image.IOff(uint64(i)*uint64(h.ShEntSize))
		var s SecHeader
		var err error
		if h.Class == elfident.Class64 {
			s, err = readShdr64(img, h.Order, base)
		} else {
			s, err = readShdr32(img, h.Order, base)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func readShdr64(img image.Image, order binary.ByteOrder, base image.IOff) (SecHeader, error) {
	name, err := img.GetU32(base, order)
	if err != nil {
		return SecHeader{}, err
	}
	typ, err := img.GetU32(base+4, order)
	if err != nil {
		return SecHeader{}, err
	}
	flags, err := img.GetU64(base+8, order)
	if err != nil {
		return SecHeader{}, err
	}
	addr, err := img.GetU64(base+16, order)
	if err != nil {
		return SecHeader{}, err
	}
	offset, err := img.GetU64(base+24, order)
	if err != nil {
		return SecHeader{}, err
	}
	size, err := img.GetU64(base+32, order)
	if err != nil {
		return SecHeader{}, err
	}
	link, err := img.GetU32(base+40, order)
	if err != nil {
		return SecHeader{}, err
	}
	info, err := img.GetU32(base+44, order)
	if err != nil {
		return SecHeader{}, err
	}
	align, err := img.GetU64(base+48, order)
	if err != nil {
		return SecHeader{}, err
	}
	entsize, err := img.GetU64(base+56, order)
	if err != nil {
		return SecHeader{}, err
	}
	return SecHeader{NameOff: name, Type: typ, Flags: flags, Addr: addr, Offset: offset, Size: size, Link: link, Info: info, AddrAlign: align, EntSize: entsize}, nil
}

func readShdr32(img image.Image, order binary.ByteOrder, base image.IOff) (SecHeader, error) {
	name, err := img.GetU32(base, order)
	if err != nil {
		return SecHeader{}, err
	}
	typ, err := img.GetU32(base+4, order)
	if err != nil {
		return SecHeader{}, err
	}
	flags, err := img.GetU32(base+8, order)
	if err != nil {
		return SecHeader{}, err
	}
	addr, err := img.GetU32(base+12, order)
	if err != nil {
		return SecHeader{}, err
	}
	offset, err := img.GetU32(base+16, order)
	if err != nil {
		return SecHeader{}, err
	}
	size, err := img.GetU32(base+20, order)
	if err != nil {
		return SecHeader{}, err
	}
	link, err := img.GetU32(base+24, order)
	if err != nil {
		return SecHeader{}, err
	}
	info, err := img.GetU32(base+28, order)
	if err != nil {
		return SecHeader{}, err
	}
	align, err := img.GetU32(base+32, order)
	if err != nil {
		return SecHeader{}, err
	}
	entsize, err := img.GetU32(base+36, order)
	if err != nil {
		return SecHeader{}, err
	}
	return SecHeader{
		NameOff: name, Type: typ,
		Flags: uint64(flags), Addr: uint64(addr), Offset: uint64(offset), Size: uint64(size),
		Link: link, Info: info, AddrAlign: uint64(align), EntSize: uint64(entsize),
	}, nil
}
