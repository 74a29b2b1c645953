package symbols

import (
	"encoding/binary"
	"testing"

	"github.com/saferwall/elfdebuginfo/image"
	"github.com/saferwall/elfdebuginfo/policy"
	"github.com/saferwall/elfdebuginfo/sections"
)

func buildExtractor(t *testing.T, pol policy.Policy, strs string, symData []byte, is64 bool) *Extractor {
	t.Helper()
	strImg := image.OpenBytes("strtab", []byte(strs))
	symImg := image.OpenBytes("symtab", symData)

	entSize := uint64(16)
	if is64 {
		entSize = 24
	}
	return &Extractor{
		Policy:    pol,
		NameImage: strImg,
		NameBase:  0,
		SymImage:  symImg,
		SymBase:   0,
		SymCount:  uint32(uint64(len(symData)) / entSize),
		Order:     binary.LittleEndian,
		Is64:      is64,
	}
}

func putSym64(buf []byte, off int, nameOff uint32, info uint8, shndx uint16, value, size uint64) {
	putSym64Order(binary.LittleEndian, buf, off, nameOff, info, shndx, value, size)
}

func putSym64Order(order binary.ByteOrder, buf []byte, off int, nameOff uint32, info uint8, shndx uint16, value, size uint64) {
	order.PutUint32(buf[off:], nameOff)
	buf[off+4] = info
	order.PutUint16(buf[off+6:], shndx)
	order.PutUint64(buf[off+8:], value)
	order.PutUint64(buf[off+16:], size)
}

func TestReadLinearFiltersNamelessAndZeroValue(t *testing.T) {
	pol := policy.LinuxAMD64()
	// strtab: \0 name1=foo \0
	strs := "\x00foo\x00"
	buf := make([]byte, 24*3) // null entry + a nameless + a zero-value
	putSym64(buf, 24, 0, (stbGlobal<<4)|sttFunc, 1, 0x401000, 16)  // nameless
	putSym64(buf, 48, 1, (stbGlobal<<4)|sttFunc, 1, 0, 16)         // zero value, name "foo"

	e := buildExtractor(t, pol, strs, buf, true)
	text := sections.Section{Present: true, SVMA: 0x1000, AVMA: 0x401000, Size: 0x1000, Bias: 0x400000}
	e.Sections = containment{text: text}

	out, err := ReadLinear(e, sections.Section{}, sections.Section{}, sections.Section{})
	if err != nil {
		t.Fatalf("ReadLinear: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no accepted symbols, got %d", len(out))
	}
}

func TestReadLinearAcceptsPlausibleFunction(t *testing.T) {
	pol := policy.LinuxAMD64()
	strs := "\x00work\x00"
	buf := make([]byte, 24*2)
	putSym64(buf, 24, 1, (stbGlobal<<4)|sttFunc, 1, 0x1010, 64)

	e := buildExtractor(t, pol, strs, buf, true)
	text := sections.Section{Present: true, SVMA: 0x1000, AVMA: 0x401000, Size: 0x1000, Bias: 0x400000}
	e.Sections = containment{text: text}

	out, err := ReadLinear(e, sections.Section{}, sections.Section{}, sections.Section{})
	if err != nil {
		t.Fatalf("ReadLinear: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 accepted symbol, got %d", len(out))
	}
	if out[0].AVMA != 0x401010 || out[0].Size != 64 {
		t.Fatalf("unexpected symbol: %+v", out[0])
	}
}

func TestPPC64MergeAdoptsFunctionSizeAndTocPtr(t *testing.T) {
	pol := policy.LinuxPPC64()

	// .opd at svma 0x5000 avma 0x405000 (bias 0x400000), 16 bytes: one
	// descriptor -> (entry_svma=0x1010, toc=0x20000000). Both words get
	// opd_bias (== text_bias, per the core's open question) added: the
	// function's avma is 0x401010 and its tocptr 0x20400000.
	opdBuf := make([]byte, 16)
	binary.BigEndian.PutUint64(opdBuf[0:], 0x1010)
	binary.BigEndian.PutUint64(opdBuf[8:], 0x20000000)
	opdImg := image.OpenBytes("opd", opdBuf)

	strs := "\x00work\x00.work\x00"
	buf := make([]byte, 24*3)
	// Symbol A: NOTYPE, svma in .opd, size 24 -> the descriptor symbol
	putSym64Order(binary.BigEndian, buf, 24, 1, (stbGlobal<<4)|sttNotype, 1, 0x5000, 24)
	// Symbol B: FUNC, name ".work", svma = entry-text_bias, size 128
	putSym64Order(binary.BigEndian, buf, 48, 6, (stbGlobal<<4)|sttFunc, 1, 0x1010, 128)

	e := buildExtractor(t, pol, strs, buf, true)
	e.Order = binary.BigEndian
	text := sections.Section{Present: true, SVMA: 0x1000, AVMA: 0x401000, Size: 0x1000, Bias: 0x400000}
	e.Sections = containment{text: text}
	e.OPDImage = opdImg
	e.OPDOff = 0
	e.OPDBias = 0x400000

	opd := sections.Section{Present: true, SVMA: 0x5000, AVMA: 0x405000, Size: 16, Bias: 0x400000}

	out, err := ReadPPC64Merging(e, sections.Section{}, sections.Section{}, opd)
	if err != nil {
		t.Fatalf("ReadPPC64Merging: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one merged symbol, got %d: %+v", len(out), out)
	}
	if out[0].AVMA != 0x401010 {
		t.Fatalf("expected avma 0x401010, got %#x", out[0].AVMA)
	}
	if out[0].TocPtr != 0x20400000 {
		t.Fatalf("expected tocptr 0x20400000, got %#x", out[0].TocPtr)
	}
	if out[0].Size != 128 {
		t.Fatalf("expected merged size 128, got %d", out[0].Size)
	}
	name, err := out[0].NameImg.StrDup(out[0].NameIOff)
	if err != nil {
		t.Fatalf("resolving merged symbol name: %v", err)
	}
	if name != "work" {
		t.Fatalf("expected merged symbol name %q, got %q", "work", name)
	}
}

func TestDotStripOnlyAppliesOnPPC64NonOPD(t *testing.T) {
	pol := policy.LinuxPPC64()
	if got := DotStrip(pol, false, ".work"); got != "work" {
		t.Fatalf("expected dot-stripped name, got %q", got)
	}
	if got := DotStrip(pol, true, ".work"); got != ".work" {
		t.Fatalf("from_opd symbols must not be dot-stripped, got %q", got)
	}
	if got := DotStrip(policy.LinuxAMD64(), false, ".work"); got != ".work" {
		t.Fatalf("non-ppc64 targets must not dot-strip, got %q", got)
	}
}
