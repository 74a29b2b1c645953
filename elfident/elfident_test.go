package elfident

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/saferwall/elfdebuginfo/image"
)

// buildEhdr assembles a minimal 64-byte little-endian ELF64 header with
// the given type/machine, no program or section headers beyond what
// the caller fills in via phNum/shNum/shStrNdx.
func buildEhdr(eType, eMachine uint16, phOff, shOff uint64, phNum, shNum, shStrNdx uint16) []byte {
	buf := make([]byte, 64)
	le := binary.LittleEndian
	buf[0], buf[1], buf[2], buf[3] = Mag0, Mag1, Mag2, Mag3
	buf[4] = byte(Class64)
	buf[5] = byte(Data2LSB)
	buf[6] = VersionCurrent
	le.PutUint16(buf[16:], eType)
	le.PutUint16(buf[18:], eMachine)
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], 0) // e_entry
	le.PutUint64(buf[32:], phOff)
	le.PutUint64(buf[40:], shOff)
	le.PutUint32(buf[48:], 0) // e_flags
	le.PutUint16(buf[52:], 64)
	le.PutUint16(buf[54:], 56)
	le.PutUint16(buf[56:], phNum)
	le.PutUint16(buf[58:], 64)
	le.PutUint16(buf[60:], shNum)
	le.PutUint16(buf[62:], shStrNdx)
	return buf
}

var amd64Target = Target{Class: Class64, Data: Data2LSB, Machine: MachineX86_64}

func TestIdentifyAcceptsWellFormedDynObject(t *testing.T) {
	data := buildEhdr(uint16(TypeDyn), uint16(MachineX86_64), 64, 120, 1, 3, 2)
	img := image.OpenBytes("t", data)

	h, err := Identify(img, amd64Target)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if h.Class != Class64 || h.Data != Data2LSB || h.Machine != MachineX86_64 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.Type != TypeDyn {
		t.Fatalf("expected ET_DYN, got %s", h.Type)
	}
	if h.ShStrNdx != 2 || h.ShNum != 3 || h.PhNum != 1 {
		t.Fatalf("unexpected table geometry: %+v", h)
	}
}

func TestIdentifyRejectsWrongMachine(t *testing.T) {
	data := buildEhdr(uint16(TypeDyn), uint16(MachineARM), 64, 120, 1, 3, 2)
	img := image.OpenBytes("t", data)

	if _, err := Identify(img, amd64Target); !errors.Is(err, ErrBadMachine) {
		t.Fatalf("expected ErrBadMachine, got %v", err)
	}
}

func TestIdentifyRejectsWrongClass(t *testing.T) {
	data := buildEhdr(uint16(TypeDyn), uint16(MachineX86_64), 64, 120, 1, 3, 2)
	data[4] = byte(Class32)
	img := image.OpenBytes("t", data)

	if _, err := Identify(img, amd64Target); !errors.Is(err, ErrBadClass) {
		t.Fatalf("expected ErrBadClass, got %v", err)
	}
}

func TestIdentifyRejectsBadMagic(t *testing.T) {
	data := buildEhdr(uint16(TypeDyn), uint16(MachineX86_64), 64, 120, 1, 3, 2)
	data[1] = 'X'
	img := image.OpenBytes("t", data)

	if _, err := Identify(img, amd64Target); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestIdentifyRejectsRelWithoutAllowRel(t *testing.T) {
	data := buildEhdr(uint16(TypeRel), uint16(MachineX86_64), 0, 120, 0, 3, 2)
	img := image.OpenBytes("t", data)

	if _, err := Identify(img, amd64Target); !errors.Is(err, ErrBadType) {
		t.Fatalf("expected ErrBadType, got %v", err)
	}

	relTarget := amd64Target
	relTarget.AllowRel = true
	h, err := Identify(img, relTarget)
	if err != nil {
		t.Fatalf("Identify with AllowRel: %v", err)
	}
	if h.Type != TypeRel {
		t.Fatalf("expected ET_REL, got %s", h.Type)
	}
}

func TestIdentifyRejectsMissingProgramTableOnNonRel(t *testing.T) {
	data := buildEhdr(uint16(TypeDyn), uint16(MachineX86_64), 0, 120, 0, 3, 2)
	img := image.OpenBytes("t", data)

	if _, err := Identify(img, amd64Target); !errors.Is(err, ErrNoProgramTable) {
		t.Fatalf("expected ErrNoProgramTable, got %v", err)
	}
}

func TestIdentifyRejectsUndefShstrndx(t *testing.T) {
	data := buildEhdr(uint16(TypeDyn), uint16(MachineX86_64), 64, 120, 1, 3, ShnUndef)
	img := image.OpenBytes("t", data)

	if _, err := Identify(img, amd64Target); !errors.Is(err, ErrNoShstrndx) {
		t.Fatalf("expected ErrNoShstrndx, got %v", err)
	}
}

func TestIdentifyRejectsTooSmallImage(t *testing.T) {
	img := image.OpenBytes("t", []byte{Mag0, Mag1, Mag2, Mag3})

	if _, err := Identify(img, amd64Target); !errors.Is(err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
}
