package debuginfo

import (
	"path"
	"path/filepath"

	"github.com/saferwall/elfdebuginfo/companion"
	"github.com/saferwall/elfdebuginfo/elfident"
	"github.com/saferwall/elfdebuginfo/elflog"
	"github.com/saferwall/elfdebuginfo/image"
	"github.com/saferwall/elfdebuginfo/policy"
	"github.com/saferwall/elfdebuginfo/sections"
	"github.com/saferwall/elfdebuginfo/symbols"
)

// claimNamedSections walks shdrs once, resolving each section's name
// via the shstrtab, and records the ones in namedSections plus ".opd"
// (tracked separately on di.Sections already, but also needed here as
// a raw file Slice for the Symbol Extractor's .opd access). ".eh_frame"
// is not claimed here; its instances, with their file offsets, are on
// di.Sections.EhFrame.
func claimNamedSections(img image.Image, h elfident.Header, shdrs []sections.SecHeader, out map[string]image.Slice) error {
	if int(h.ShStrNdx) >= len(shdrs) {
		return errHeaderOutOfRange
	}
	shstrtab := shdrs[h.ShStrNdx]

	wanted := make(map[string]bool, len(namedSections)+1)
	for _, n := range namedSections {
		wanted[n] = true
	}
	wanted[".opd"] = true

	for _, sh := range shdrs {
		if sh.Size == 0 {
			continue
		}
		name, err := img.StrDup(image.IOff(shstrtab.Offset + uint64(sh.NameOff)))
		if err != nil {
			continue
		}
		if !wanted[name] {
			continue
		}
		out[name] = image.Slice{Img: img, Off: image.IOff(sh.Offset), Len: sh.Size}
	}
	return nil
}

// applyClaimed copies the main image's claimed slices onto di's
// exported fields.
func applyClaimed(di *DebugInfo, claimed map[string]image.Slice) {
	set := func(dst *image.Slice, name string) {
		if s, ok := claimed[name]; ok {
			*dst = s
		}
	}
	set(&di.Dynsym, ".dynsym")
	set(&di.Dynstr, ".dynstr")
	set(&di.Symtab, ".symtab")
	set(&di.Strtab, ".strtab")
	set(&di.GnuDebuglink, ".gnu_debuglink")
	set(&di.GnuDebugAlt, ".gnu_debugaltlink")
	set(&di.Stab, ".stab")
	set(&di.Stabstr, ".stabstr")
	set(&di.DebugLine, ".debug_line")
	set(&di.DebugInfoSec, ".debug_info")
	set(&di.DebugTypes, ".debug_types")
	set(&di.DebugAbbrev, ".debug_abbrev")
	set(&di.DebugStr, ".debug_str")
	set(&di.DebugRanges, ".debug_ranges")
	set(&di.DebugLoc, ".debug_loc")
	set(&di.DebugFrame, ".debug_frame")
	set(&di.DebugSec, ".debug")
	set(&di.LineSec, ".line")
	set(&di.Opd, ".opd")
}

// applyCompanionClaimed attaches companion-file slices only for names
// absent in the main file, per §4.6 step 6.
func applyCompanionClaimed(di *DebugInfo, claimed map[string]image.Slice) {
	fill := func(dst *image.Slice, name string) {
		if dst.Present() {
			return
		}
		if s, ok := claimed[name]; ok {
			*dst = s
		}
	}
	fill(&di.Symtab, ".symtab")
	fill(&di.Strtab, ".strtab")
	fill(&di.Stab, ".stab")
	fill(&di.Stabstr, ".stabstr")
	fill(&di.DebugLine, ".debug_line")
	fill(&di.DebugInfoSec, ".debug_info")
	fill(&di.DebugTypes, ".debug_types")
	fill(&di.DebugAbbrev, ".debug_abbrev")
	fill(&di.DebugStr, ".debug_str")
	fill(&di.DebugRanges, ".debug_ranges")
	fill(&di.DebugLoc, ".debug_loc")
	fill(&di.DebugFrame, ".debug_frame")
	fill(&di.DebugSec, ".debug")
	fill(&di.LineSec, ".line")
	fill(&di.GnuDebugAlt, ".gnu_debugaltlink")
}

// claimAltSections claims .debug_{line,info,abbrev,str} from the alt
// image unconditionally, per §4.6 step 7.
func claimAltSections(di *DebugInfo, aimg image.Image, target policy.Policy) {
	ah, err := elfident.Identify(aimg, target.Target)
	if err != nil {
		// rel_ok: an alt image may be a stripped, unlinked companion.
		relTarget := target.Target
		relTarget.AllowRel = true
		ah, err = elfident.Identify(aimg, relTarget)
		if err != nil {
			return
		}
	}
	ashdrs, err := sections.ReadSectionHeaders(aimg, ah)
	if err != nil {
		return
	}
	claimed := make(map[string]image.Slice)
	if err := claimNamedSections(aimg, ah, ashdrs, claimed); err != nil {
		return
	}
	if s, ok := claimed[".debug_line"]; ok {
		di.DebugLine = s
	}
	if s, ok := claimed[".debug_info"]; ok {
		di.DebugInfoSec = s
	}
	if s, ok := claimed[".debug_abbrev"]; ok {
		di.DebugAbbrev = s
	}
	if s, ok := claimed[".debug_str"]; ok {
		di.DebugStr = s
	}
}

// findMainBuildID extracts a build-id note from the main image's
// PT_NOTE segments, falling back to SHT_NOTE sections.
func findMainBuildID(mimg image.Image, h elfident.Header, phdrs []sections.ProgHeader, shdrs []sections.SecHeader) (string, bool) {
	for _, p := range phdrs {
		if p.Type != ptNoteType {
			continue
		}
		if id, ok := companion.FindBuildID(mimg, h.Order, image.IOff(p.Offset), p.Filesz); ok {
			return id, true
		}
	}
	for _, sh := range shdrs {
		if sh.Type != shtNoteType {
			continue
		}
		if id, ok := companion.FindBuildID(mimg, h.Order, image.IOff(sh.Offset), sh.Size); ok {
			return id, true
		}
	}
	return "", false
}

const (
	ptNoteType  = 4
	shtNoteType = 7
)

// openCompanion implements the Resolver's companion lookup (§4.5) for
// the main object.
func openCompanion(di *DebugInfo, logger *elflog.Helper, cfg Config, target policy.Policy, buildID string, haveDebuglink bool) image.Image {
	resolver := companion.Resolve{
		ObjDir:    filepath.Dir(di.Filename),
		ExtraPath: cfg.ExtraDebuginfoPath,
		Server:    image.RemoteEndpoint(cfg.DebuginfoServer),
		Allow:     cfg.AllowMismatchedDebuginfo,
	}

	var debugName string
	var wantCRC uint32
	if haveDebuglink {
		name, crc, err := companion.ParseDebuglink(di.GnuDebuglink)
		if err == nil {
			debugName, wantCRC = name, crc
		}
	}

	verify := func(candidate image.Image) bool {
		got, ok := findCandidateBuildID(candidate, target)
		return ok && got == buildID
	}

	im, err := resolver.FindDebugFile(buildID, debugName, wantCRC, verify)
	if err != nil {
		if buildID != "" || haveDebuglink {
			logger.Debug("no companion debug file found")
		}
		return nil
	}
	return im
}

// findCandidateBuildID scans a candidate's own PT_NOTE segments for a
// build-id, used to verify a build-id-path or debuglink candidate. The
// candidate is expected to share the main object's class/endianness/
// machine, but may be an unlinked ET_REL object (debug packages are
// sometimes shipped that way), hence rel_ok.
func findCandidateBuildID(candidate image.Image, target policy.Policy) (string, bool) {
	relTarget := target.Target
	relTarget.AllowRel = true
	h, err := elfident.Identify(candidate, relTarget)
	if err != nil {
		return "", false
	}
	phdrs, err := sections.ReadProgramHeaders(candidate, h)
	if err == nil {
		for _, p := range phdrs {
			if p.Type != ptNoteType {
				continue
			}
			if id, ok := companion.FindBuildID(candidate, h.Order, image.IOff(p.Offset), p.Filesz); ok {
				return id, true
			}
		}
	}
	shdrs, err := sections.ReadSectionHeaders(candidate, h)
	if err == nil {
		for _, sh := range shdrs {
			if sh.Type != shtNoteType {
				continue
			}
			if id, ok := companion.FindBuildID(candidate, h.Order, image.IOff(sh.Offset), sh.Size); ok {
				return id, true
			}
		}
	}
	return "", false
}

// openAlt opens the `.gnu_debugaltlink` companion: first by direct
// path, falling back to a build-id search with rel_ok=true.
func openAlt(di *DebugInfo, logger *elflog.Helper, cfg Config, target policy.Policy, altPath, altBuildIDHex string) image.Image {
	candidate := altPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(filepath.Dir(di.Filename), candidate)
	}
	if im, err := image.OpenFile(candidate); err == nil {
		return im
	}

	resolver := companion.Resolve{
		ObjDir:    filepath.Dir(di.Filename),
		ExtraPath: cfg.ExtraDebuginfoPath,
		Server:    image.RemoteEndpoint(cfg.DebuginfoServer),
		Allow:     cfg.AllowMismatchedDebuginfo,
	}
	im, err := resolver.FindDebugFile(altBuildIDHex, path.Base(altPath), 0, func(c image.Image) bool {
		got, ok := findCandidateBuildID(c, target)
		return ok && got == altBuildIDHex
	})
	if err != nil {
		logger.Debug("no alt-debug companion found")
		return nil
	}
	return im
}

// mergeDebugSections fills debug_svma/debug_bias on every section
// present in main and found at the same name in the companion, per
// §4.6 step 6 and §8 invariant 7 (main.bias + main.svma ==
// companion.debug_bias + companion.debug_svma).
func mergeDebugSections(main *sections.Sections, dbg *sections.Sections) {
	merge := func(m *sections.Section, d sections.Section) {
		if !m.Present || !d.Present {
			return
		}
		m.DebugPresent = true
		m.DebugSVMA = d.SVMA
		m.DebugBias = m.Bias + m.SVMA - d.SVMA
	}
	merge(&main.Text, dbg.Text)
	merge(&main.Rodata, dbg.Rodata)
	merge(&main.Data, dbg.Data)
	merge(&main.Sdata, dbg.Sdata)
	merge(&main.Bss, dbg.Bss)
	merge(&main.Sbss, dbg.Sbss)
	merge(&main.Got, dbg.Got)
	merge(&main.Gotplt, dbg.Gotplt)
	merge(&main.Opd, dbg.Opd)
	merge(&main.Plt, dbg.Plt)
}

// resolveSymtabImage returns the image and base offset that hold the
// static symbol table entries: the debug image's if the companion
// supplied .symtab and the main file did not, otherwise the main
// image's.
func resolveSymtabImage(di *DebugInfo, mimg, dimg image.Image, symtabInDebug bool) (image.Image, image.IOff, bool) {
	if !di.Symtab.Present() {
		return nil, 0, false
	}
	if symtabInDebug && dimg != nil {
		return dimg, di.Symtab.Off, true
	}
	return mimg, di.Symtab.Off, true
}

func resolveStrtabImage(di *DebugInfo, mimg, dimg image.Image, symtabInDebug bool) image.Image {
	if symtabInDebug && dimg != nil {
		return dimg
	}
	return mimg
}

// attachOPD wires the Extractor's .opd slice and bias, when the
// target's policy calls for function-descriptor indirection.
func attachOPD(ex *symbols.Extractor, di *DebugInfo, mimg image.Image) {
	if !ex.Policy.OpdIndirection || !di.Opd.Present() {
		return
	}
	ex.OPDImage = di.Opd.Img
	ex.OPDOff = di.Opd.Off
	ex.OPDBias = di.Sections.Text.Bias
}

// runExtractor dispatches to the linear or ppc64-merging table reader
// according to the target's merge strategy.
func runExtractor(ex *symbols.Extractor, target policy.Policy, got, gotplt, opd sections.Section) ([]symbols.DiSym, error) {
	if target.Merge == policy.MergePPC64 {
		return symbols.ReadPPC64Merging(ex, got, gotplt, opd)
	}
	return symbols.ReadLinear(ex, got, gotplt, opd)
}
