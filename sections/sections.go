// Package sections implements Section/Segment Discovery: it walks an
// object's program headers to build the SVMA→AVMA load ranges, walks
// its section headers to classify and locate the recognised sections,
// and resolves DT_SONAME. It is the Go analogue of the teacher's
// section.go (which classifies PE sections by characteristics flags)
// generalized to ELF's load-range/bias arithmetic, grounded on the
// base-address and mapping-containment logic in
// other_examples/.../internal/elfexec (GetBase, ProgramHeadersForMapping).
package sections

import (
	"errors"
	"math/bits"

	"github.com/saferwall/elfdebuginfo/elfident"
	"github.com/saferwall/elfdebuginfo/image"
	"github.com/saferwall/elfdebuginfo/policy"
)

// Errors, one sentinel per structural failure kind in the taxonomy.
var (
	ErrProgramHeadersDisordered = errors.New("sections: PT_LOAD entries not in ascending p_vaddr order")
	ErrSegmentUnmapped          = errors.New("sections: PT_LOAD segment has no matching memory mapping")
	ErrSectionOutOfRange        = errors.New("sections: section file range exceeds image size")
	ErrBadAlignment             = errors.New("sections: sh_addralign is not a power of two")
	ErrSectionMappingMismatch   = errors.New("sections: recognised section present but outside its expected load range")
)

// Mapping is one entry of the process-attach layer's memory-mapping
// inventory: an address range with its backing file offset and
// read/execute or read/write permissions.
type Mapping struct {
	AVMA uint64
	Size uint64
	FOff uint64
	RX   bool
	RW   bool
}

func (m Mapping) containsFileRange(off, size uint64) bool {
	return m.FOff <= off && off+size <= m.FOff+m.Size
}

// LoadRange is a contiguous SVMA interval derived from a PT_LOAD
// segment matched against a memory mapping.
type LoadRange struct {
	SVMABase  uint64
	SVMALimit uint64
	Bias      uint64 // AVMA - SVMA, mod 2^64 (two's complement signed delta)
	Exec      bool   // true: rx, false: rw
}

func (r LoadRange) contains(svma uint64) bool {
	return svma >= r.SVMABase && svma < r.SVMALimit
}

// Section is a recognised section's discovery record: presence plus
// SVMA/AVMA/size/bias in the main image, and the companion-file
// equivalents filled in later by the Orchestrator.
type Section struct {
	Present      bool
	SVMA         uint64
	AVMA         uint64
	Size         uint64
	Bias         uint64
	DebugPresent bool
	DebugSVMA    uint64
	DebugBias    uint64
}

// EhFrameSection is one discovered .eh_frame instance (§7
// SUPPLEMENTED FEATURES: tracked as a slice rather than the original's
// fixed-size array).
type EhFrameSection struct {
	SVMA   uint64
	AVMA   uint64
	Size   uint64
	Bias   uint64
	Offset uint64 // file offset of the section's bytes (sh_offset)
}

// Sections is the full discovery result for one image.
type Sections struct {
	LoadRanges []LoadRange
	Soname     string

	Text, Rodata Section
	Data, Sdata  Section
	Bss, Sbss    Section
	Got, Gotplt  Section
	Opd, Plt     Section
	EhFrame      []EhFrameSection
}

// DiscoverLoadRanges implements Step A: it walks the PT_LOAD entries
// of phdrs in order, requiring monotonically non-decreasing p_vaddr,
// and matches each against mappings to produce rx/rw load ranges.
func DiscoverLoadRanges(phdrs []ProgHeader, mappings []Mapping) ([]LoadRange, error) {
	var ranges []LoadRange
	var lastVaddr uint64
	seenLoad := false

	for _, p := range phdrs {
		if p.Type != ptLoad {
			continue
		}
		if seenLoad && p.Vaddr < lastVaddr {
			return nil, ErrProgramHeadersDisordered
		}
		lastVaddr = p.Vaddr
		seenLoad = true

		if p.Memsz == 0 {
			continue
		}

		matched := false
		for _, m := range mappings {
			if !m.containsFileRange(p.Offset, p.Filesz) {
				continue
			}
			bias := m.AVMA - m.FOff + p.Offset - p.Vaddr
			if m.RX && p.execR() {
				ranges = append(ranges, LoadRange{
					SVMABase: p.Vaddr, SVMALimit: p.Vaddr + p.Memsz, Bias: bias, Exec: true,
				})
				matched = true
			}
			if m.RW && p.writR() {
				ranges = append(ranges, LoadRange{
					SVMABase: p.Vaddr, SVMALimit: p.Vaddr + p.Memsz, Bias: bias, Exec: false,
				})
				matched = true
			}
		}
		if !matched {
			return nil, ErrSegmentUnmapped
		}
	}
	return ranges, nil
}

// fileOffsetFromSVMA implements file_offset_from_svma: a linear search
// over the raw PT_LOAD table for a segment whose
// [vaddr &^ (align-1), vaddr+filesz) contains svma.
func fileOffsetFromSVMA(phdrs []ProgHeader, svma uint64) (uint64, bool) {
	for _, p := range phdrs {
		if p.Type != ptLoad {
			continue
		}
		alignedVaddr := p.Vaddr
		if p.Align > 1 {
			alignedVaddr = p.Vaddr &^ (p.Align - 1)
		}
		if svma >= alignedVaddr && svma < p.Vaddr+p.Filesz {
			return svma - p.Vaddr + p.Offset, true
		}
	}
	return 0, false
}

// dynTag values consulted for soname resolution.
const (
	dtNull    = 0
	dtSoname  = 14
	dtStrtab  = 5
)

// ResolveSoname implements Step B. Failure to resolve is not
// propagated as an error: soname defaults to "NONE". With no
// PT_DYNAMIC or no DT_SONAME, no anomaly is returned; when DT_SONAME
// is present but DT_STRTAB is missing or unresolvable, or the string
// cannot be read, the reason is returned as an anomaly string, per §7
// SUPPLEMENTED FEATURES.
func ResolveSoname(img image.Image, h elfident.Header, phdrs []ProgHeader) (soname string, anomalies []string) {
	soname = "NONE"

	var dynOff, dynSize uint64
	found := false
	for _, p := range phdrs {
		if p.Type == ptDynamic {
			dynOff, dynSize = p.Offset, p.Filesz
			found = true
			break
		}
	}
	if !found {
		return soname, nil
	}

	entSize := uint64(8)
	if h.Class == elfident.Class64 {
		entSize = 16
	}

	var sonameOff uint64
	var strtabSVMA uint64
	haveSoname, haveStrtab := false, false

	for off := dynOff; off+entSize <= dynOff+dynSize; off += entSize {
		tag, val, err := readDynEntry(img, h, image.IOff(off))
		if err != nil {
			break
		}
		if tag == dtNull {
			break
		}
		switch tag {
		case dtSoname:
			sonameOff = val
			haveSoname = true
		case dtStrtab:
			strtabSVMA = val
			haveStrtab = true
		}
	}

	if !haveSoname {
		return soname, nil
	}
	if !haveStrtab {
		return soname, []string{"soname: DT_SONAME present but DT_STRTAB missing"}
	}

	strtabFOff, ok := fileOffsetFromSVMA(phdrs, strtabSVMA)
	if !ok {
		return soname, []string{"soname: DT_SONAME present but DT_STRTAB unresolvable"}
	}

	s, err := img.StrDup(image.IOff(strtabFOff + sonameOff))
	if err != nil {
		return soname, []string{"soname: DT_STRTAB resolved but string read failed"}
	}
	return s, nil
}

func readDynEntry(img image.Image, h elfident.Header, off image.IOff) (tag, val uint64, err error) {
	if h.Class == elfident.Class64 {
		tag, err = img.GetU64(off, h.Order)
		if err != nil {
			return 0, 0, err
		}
		val, err = img.GetU64(off+8, h.Order)
		return tag, val, err
	}
	tag32, err := img.GetU32(off, h.Order)
	if err != nil {
		return 0, 0, err
	}
	val32, err := img.GetU32(off+4, h.Order)
	return uint64(tag32), uint64(val32), err
}

// ClassifySections implements Step C: it scans every section header,
// validates its file range and alignment, determines which load range
// (if any) contains its SVMA, and classifies it by exact name per the
// §4.3 table.
func ClassifySections(img image.Image, h elfident.Header, shdrs []SecHeader, loadRanges []LoadRange, pol policy.Policy) (*Sections, []string, error) {
	result := &Sections{LoadRanges: loadRanges}
	var anomalies []string

	if int(h.ShStrNdx) >= len(shdrs) {
		return nil, nil, ErrSectionOutOfRange
	}
	shstrtab := shdrs[h.ShStrNdx]

	findInRX := func(svma uint64) (LoadRange, bool) {
		for _, r := range loadRanges {
			if r.Exec && r.contains(svma) {
				return r, true
			}
		}
		return LoadRange{}, false
	}
	findInRW := func(svma uint64) (LoadRange, bool) {
		for _, r := range loadRanges {
			if !r.Exec && r.contains(svma) {
				return r, true
			}
		}
		return LoadRange{}, false
	}

	bssOnlyRX := false
	sbssOnlyRX := false

	for _, sh := range shdrs {
		if sh.Size == 0 {
			continue
		}
		name, err := img.StrDup(image.IOff(shstrtab.Offset + uint64(sh.NameOff)))
		if err != nil {
			continue
		}

		needed := sh.Size
		if sh.nobits() {
			needed = 0
		}
		if sh.Offset+needed > img.Size() {
			return nil, nil, ErrSectionOutOfRange
		}
		if sh.AddrAlign != 0 && bits.OnesCount64(sh.AddrAlign) != 1 {
			return nil, nil, ErrBadAlignment
		}

		rx, inRX := findInRX(sh.Addr)
		rw, inRW := findInRW(sh.Addr)

		record := func(rec *Section, requireRX, requireRW bool) error {
			switch {
			case requireRX && !requireRW:
				if !inRX {
					return ErrSectionMappingMismatch
				}
				*rec = Section{Present: true, SVMA: sh.Addr, AVMA: sh.Addr + rx.Bias, Size: sh.Size, Bias: rx.Bias}
			case requireRW && !requireRX:
				if !inRW {
					return ErrSectionMappingMismatch
				}
				*rec = Section{Present: true, SVMA: sh.Addr, AVMA: sh.Addr + rw.Bias, Size: sh.Size, Bias: rw.Bias}
			}
			return nil
		}

		switch name {
		case ".text":
			if err := record(&result.Text, true, false); err != nil {
				return nil, nil, err
			}
		case ".rodata":
			if err := record(&result.Rodata, true, false); err != nil {
				return nil, nil, err
			}
		case ".data":
			if err := record(&result.Data, false, true); err != nil {
				return nil, nil, err
			}
		case ".sdata":
			if err := record(&result.Sdata, false, true); err != nil {
				return nil, nil, err
			}
		case ".dynbss":
			if err := record(&result.Bss, false, true); err != nil {
				return nil, nil, err
			}
		case ".bss":
			if !inRW {
				if inRX {
					bssOnlyRX = true
					continue
				}
				return nil, nil, ErrSectionMappingMismatch
			}
			bssRec := Section{Present: true, SVMA: sh.Addr, AVMA: sh.Addr + rw.Bias, Size: sh.Size, Bias: rw.Bias}
			if result.Bss.Present && result.Bss.SVMA+result.Bss.Size == bssRec.SVMA {
				result.Bss.Size += bssRec.Size
			} else {
				result.Bss = bssRec
			}
		case ".sdynbss":
			if err := record(&result.Sbss, false, true); err != nil {
				return nil, nil, err
			}
		case ".sbss":
			if !inRW {
				if inRX {
					sbssOnlyRX = true
					continue
				}
				return nil, nil, ErrSectionMappingMismatch
			}
			sbssRec := Section{Present: true, SVMA: sh.Addr, AVMA: sh.Addr + rw.Bias, Size: sh.Size, Bias: rw.Bias}
			if result.Sbss.Present && result.Sbss.SVMA+result.Sbss.Size == sbssRec.SVMA {
				result.Sbss.Size += sbssRec.Size
			} else {
				result.Sbss = sbssRec
			}
		case ".got":
			if err := record(&result.Got, false, true); err != nil {
				return nil, nil, err
			}
		case ".got.plt":
			if err := record(&result.Gotplt, false, true); err != nil {
				return nil, nil, err
			}
		case ".opd":
			if err := record(&result.Opd, false, true); err != nil {
				return nil, nil, err
			}
		case ".plt":
			switch pol.PltMapping {
			case policy.PltInRX:
				if err := record(&result.Plt, true, false); err != nil {
					return nil, nil, err
				}
			case policy.PltInRW:
				if err := record(&result.Plt, false, true); err != nil {
					return nil, nil, err
				}
			case policy.PltOptional:
				if inRX {
					result.Plt = Section{Present: true, SVMA: sh.Addr, AVMA: sh.Addr + rx.Bias, Size: sh.Size, Bias: rx.Bias}
				} else if inRW {
					result.Plt = Section{Present: true, SVMA: sh.Addr, AVMA: sh.Addr + rw.Bias, Size: sh.Size, Bias: rw.Bias}
				}
			}
		case ".eh_frame":
			var rec LoadRange
			if inRX {
				rec = rx
			} else if inRW {
				rec = rw
			} else {
				return nil, nil, ErrSectionMappingMismatch
			}
			result.EhFrame = append(result.EhFrame, EhFrameSection{
				SVMA: sh.Addr, AVMA: sh.Addr + rec.Bias, Size: sh.Size, Bias: rec.Bias,
				Offset: sh.Offset,
			})
		}
	}

	if bssOnlyRX {
		anomalies = append(anomalies, "section .bss mapped only rx, treated as absent")
		result.Bss = Section{}
	}
	if sbssOnlyRX {
		anomalies = append(anomalies, "section .sbss mapped only rx, treated as absent")
		result.Sbss = Section{}
	}

	return result, anomalies, nil
}
