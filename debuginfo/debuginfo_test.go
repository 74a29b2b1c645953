package debuginfo

import (
	"encoding/binary"
	"testing"

	"github.com/saferwall/elfdebuginfo/image"
	"github.com/saferwall/elfdebuginfo/policy"
	"github.com/saferwall/elfdebuginfo/sections"
)

// buildMinimalDynObject assembles a synthetic, byte-exact little-endian
// ELF64 ET_DYN object: one PT_LOAD segment (R+X) covering the headers
// and .text (the section-name table and section headers lie past it), a
// single allocated, executable ".text" section, and the section-header
// string table that names it. No PT_DYNAMIC entry is present, so
// soname resolution must fall back to "NONE" without error.
func buildMinimalDynObject(t *testing.T) []byte {
	t.Helper()

	const (
		ehdrSize = 64
		phdrSize = 56
		shdrSize = 64
	)
	textOff := uint64(ehdrSize + phdrSize)
	textData := make([]byte, 16)
	shstrOff := textOff + uint64(len(textData))
	shstrtab := []byte{0}
	shstrtab = append(shstrtab, append([]byte(".text"), 0)...)
	nameText := uint32(1)
	nameShstrtab := uint32(len(shstrtab))
	shstrtab = append(shstrtab, append([]byte(".shstrtab"), 0)...)
	shoff := shstrOff + uint64(len(shstrtab))
	total := shoff + 3*shdrSize

	buf := make([]byte, total)
	le := binary.LittleEndian

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	le.PutUint16(buf[16:], 3)  // e_type = ET_DYN
	le.PutUint16(buf[18:], 62) // e_machine = EM_X86_64
	le.PutUint32(buf[20:], 1)  // e_version
	le.PutUint64(buf[24:], 0)  // e_entry
	le.PutUint64(buf[32:], ehdrSize) // e_phoff
	le.PutUint64(buf[40:], shoff)    // e_shoff
	le.PutUint32(buf[48:], 0)        // e_flags
	le.PutUint16(buf[52:], ehdrSize) // e_ehsize
	le.PutUint16(buf[54:], phdrSize) // e_phentsize
	le.PutUint16(buf[56:], 1)        // e_phnum
	le.PutUint16(buf[58:], shdrSize) // e_shentsize
	le.PutUint16(buf[60:], 3)        // e_shnum
	le.PutUint16(buf[62:], 2)        // e_shstrndx

	p := ehdrSize
	le.PutUint32(buf[p:], 1)    // p_type = PT_LOAD
	le.PutUint32(buf[p+4:], 5)  // p_flags = R+X
	le.PutUint64(buf[p+8:], 0)  // p_offset
	le.PutUint64(buf[p+16:], 0) // p_vaddr
	le.PutUint64(buf[p+24:], 0) // p_paddr
	le.PutUint64(buf[p+32:], textOff+uint64(len(textData))) // p_filesz
	le.PutUint64(buf[p+40:], textOff+uint64(len(textData))) // p_memsz
	le.PutUint64(buf[p+48:], 0x1000)                        // p_align

	copy(buf[textOff:], textData)
	copy(buf[shstrOff:], shstrtab)

	s := int(shoff)
	// section 0: SHN_UNDEF, all zero.
	s += shdrSize

	le.PutUint32(buf[s:], nameText)
	le.PutUint32(buf[s+4:], 1)          // sh_type = PROGBITS
	le.PutUint64(buf[s+8:], 0x6)        // sh_flags = ALLOC|EXECINSTR
	le.PutUint64(buf[s+16:], textOff)   // sh_addr (identity-mapped)
	le.PutUint64(buf[s+24:], textOff)   // sh_offset
	le.PutUint64(buf[s+32:], uint64(len(textData))) // sh_size
	le.PutUint64(buf[s+48:], 1)         // sh_addralign
	s += shdrSize

	le.PutUint32(buf[s:], nameShstrtab)
	le.PutUint32(buf[s+4:], 3) // sh_type = STRTAB
	le.PutUint64(buf[s+24:], shstrOff)
	le.PutUint64(buf[s+32:], uint64(len(shstrtab)))
	le.PutUint64(buf[s+48:], 1)

	return buf
}

func TestReadBareDynObjectNoDebugInfo(t *testing.T) {
	data := buildMinimalDynObject(t)
	img := image.OpenBytes("bare.so", data)

	di := &DebugInfo{
		Filename: "bare.so",
		Image:    img,
		Mappings: []sections.Mapping{
			{AVMA: 0, Size: uint64(len(data)), FOff: 0, RX: true, RW: true},
		},
	}

	ok := Read(di, policy.LinuxAMD64(), Config{}, nil, Collaborators{})
	if !ok {
		t.Fatalf("Read failed unexpectedly")
	}
	if di.Soname != "NONE" {
		t.Fatalf("expected soname NONE, got %q", di.Soname)
	}
	if !di.Sections.Text.Present {
		t.Fatal("expected .text to be classified as present")
	}
	if di.BuildID != "" {
		t.Fatalf("expected no build-id, got %q", di.BuildID)
	}
	if len(di.Anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %v", di.Anomalies)
	}
}

func TestReadRejectsNonELF(t *testing.T) {
	img := image.OpenBytes("junk", []byte("not an elf file at all"))
	di := &DebugInfo{Filename: "junk", Image: img}

	ok := Read(di, policy.LinuxAMD64(), Config{}, nil, Collaborators{})
	if ok {
		t.Fatal("expected Read to fail on non-ELF input")
	}
	if di.Soname != "" {
		t.Fatalf("expected soname cleared on failure, got %q", di.Soname)
	}
}

func TestReadIsIdempotentAcrossFailureThenSuccess(t *testing.T) {
	junk := image.OpenBytes("junk", []byte("not an elf file at all"))
	di := &DebugInfo{Filename: "junk", Image: junk}
	if Read(di, policy.LinuxAMD64(), Config{}, nil, Collaborators{}) {
		t.Fatal("expected first Read to fail")
	}

	data := buildMinimalDynObject(t)
	di.Image = image.OpenBytes("bare.so", data)
	di.Filename = "bare.so"
	di.Mappings = []sections.Mapping{
		{AVMA: 0, Size: uint64(len(data)), FOff: 0, RX: true, RW: true},
	}

	if !Read(di, policy.LinuxAMD64(), Config{}, nil, Collaborators{}) {
		t.Fatal("expected second Read to succeed")
	}
	if di.Soname != "NONE" {
		t.Fatalf("expected clean re-run, got soname %q", di.Soname)
	}
	if len(di.Anomalies) != 0 {
		t.Fatalf("expected no stale anomalies from the failed run, got %v", di.Anomalies)
	}
}
