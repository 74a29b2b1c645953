// Package debuginfo implements the Orchestrator: it drives the whole
// pipeline described by the core's §4.6 — opening the main, debug, and
// alt-debug images, running Section/Segment Discovery, extracting
// symbols, resolving companion files, and dispatching slices to the
// (out-of-scope) downstream DWARF/stabs/call-frame readers. Grounded
// on the teacher's file.go, which plays the same "open, validate,
// parse every directory, expose slices" orchestrator role for a PE
// image.
package debuginfo

import (
	"errors"
	"fmt"

	"github.com/saferwall/elfdebuginfo/companion"
	"github.com/saferwall/elfdebuginfo/elfident"
	"github.com/saferwall/elfdebuginfo/elflog"
	"github.com/saferwall/elfdebuginfo/image"
	"github.com/saferwall/elfdebuginfo/policy"
	"github.com/saferwall/elfdebuginfo/sections"
	"github.com/saferwall/elfdebuginfo/symbols"
)

// Config mirrors the teacher's pe.Options: read-only, consulted by
// name, passed into the entry point rather than held as ambient global
// state.
type Config struct {
	ExtraDebuginfoPath       string
	DebuginfoServer          string
	AllowMismatchedDebuginfo bool
	ReadVarInfo              bool
	Verbosity                int
	TraceSymtab              bool
	TraceRedir               bool
}

// Collaborators holds the out-of-scope downstream readers (CallFrame,
// LineInfo, DIE): the core invokes them but does not implement them.
// A nil field is simply skipped.
type Collaborators struct {
	CallFrame func(slice image.Slice, avma uint64) error
	LineInfo  func(di *DebugInfo) error
	DIE       func(di *DebugInfo, alt image.Slice) error
}

// DebugInfo is the external, core-mutated record: it enters with the
// filename and mapping inventory populated, and leaves with section,
// soname, and symbol fields populated on success.
type DebugInfo struct {
	Filename string
	Mappings []sections.Mapping

	// Image, when non-nil, is used as the main object in place of
	// opening Filename — the fuzzing entry point and tests drive the
	// core directly off an in-memory buffer this way.
	Image image.Image

	Soname   string
	Sections sections.Sections
	BuildID  string

	StaticSymbols  []symbols.DiSym
	DynamicSymbols []symbols.DiSym

	Dynsym, Dynstr               image.Slice
	Symtab, Strtab               image.Slice
	GnuDebuglink, GnuDebugAlt    image.Slice
	Stab, Stabstr                image.Slice
	DebugLine, DebugInfoSec      image.Slice
	DebugTypes, DebugAbbrev      image.Slice
	DebugStr, DebugRanges        image.Slice
	DebugLoc, DebugFrame         image.Slice
	DebugSec, LineSec            image.Slice
	Opd                          image.Slice
	EhFrame                      []image.Slice

	Anomalies []string
	symerr    error
}

// reset clears every field the core owns, implementing the re-entrant
// invocation guard described in SPEC_FULL §7: a previous failed run
// must leave no residue visible to the next one.
func (di *DebugInfo) reset() {
	di.Soname = ""
	di.Sections = sections.Sections{}
	di.BuildID = ""
	di.StaticSymbols = nil
	di.DynamicSymbols = nil
	di.Dynsym, di.Dynstr = image.InvalidSlice, image.InvalidSlice
	di.Symtab, di.Strtab = image.InvalidSlice, image.InvalidSlice
	di.GnuDebuglink, di.GnuDebugAlt = image.InvalidSlice, image.InvalidSlice
	di.Stab, di.Stabstr = image.InvalidSlice, image.InvalidSlice
	di.DebugLine, di.DebugInfoSec = image.InvalidSlice, image.InvalidSlice
	di.DebugTypes, di.DebugAbbrev = image.InvalidSlice, image.InvalidSlice
	di.DebugStr, di.DebugRanges = image.InvalidSlice, image.InvalidSlice
	di.DebugLoc, di.DebugFrame = image.InvalidSlice, image.InvalidSlice
	di.DebugSec, di.LineSec = image.InvalidSlice, image.InvalidSlice
	di.Opd = image.InvalidSlice
	di.EhFrame = nil
	di.Anomalies = nil
	di.symerr = nil
}

func (di *DebugInfo) fail(logger *elflog.Helper, err error) bool {
	di.symerr = err
	di.Soname = ""
	logger.Warnf("read_elf_debug_info: %v", err)
	return false
}

func (di *DebugInfo) warn(logger *elflog.Helper, msg string) {
	di.Anomalies = append(di.Anomalies, msg)
	logger.Warnf("%s", msg)
}

// namedSections are the sections the Orchestrator claims by exact
// name once Section/Segment Discovery has run, beyond the classified
// sections already held on sections.Sections.
var namedSections = []string{
	".dynsym", ".dynstr", ".symtab", ".strtab", ".gnu_debuglink",
	".gnu_debugaltlink", ".stab", ".stabstr",
	".debug_line", ".debug_info", ".debug_types", ".debug_abbrev",
	".debug_str", ".debug_ranges", ".debug_loc", ".debug_frame",
	".debug", ".line",
}

// Read implements read_elf_debug_info: the primary entry point. It
// returns true on success; on failure, di.symerr records the reason
// and di's soname/section fields are left indistinguishable from a
// fresh DebugInfo (idempotent-on-failure, per §6).
func Read(di *DebugInfo, target policy.Policy, cfg Config, logger *elflog.Helper, collab Collaborators) bool {
	if logger == nil {
		logger = elflog.NewHelper(nil)
	}
	di.reset()

	mimg := di.Image
	if mimg == nil {
		im, err := image.OpenFile(di.Filename)
		if err != nil {
			return di.fail(logger, fmt.Errorf("opening main image: %w", err))
		}
		mimg = im
		defer mimg.Close()
	}

	var dimg, aimg image.Image
	defer func() {
		if dimg != nil {
			dimg.Close()
		}
		if aimg != nil {
			aimg.Close()
		}
	}()

	mh, err := elfident.Identify(mimg, target.Target)
	if err != nil {
		return di.fail(logger, fmt.Errorf("%w: %v", errNotELF, err))
	}

	mphdrs, err := sections.ReadProgramHeaders(mimg, mh)
	if err != nil {
		return di.fail(logger, fmt.Errorf("%w: %v", errHeaderOutOfRange, err))
	}
	mshdrs, err := sections.ReadSectionHeaders(mimg, mh)
	if err != nil {
		return di.fail(logger, fmt.Errorf("%w: %v", errHeaderOutOfRange, err))
	}

	loadRanges, err := sections.DiscoverLoadRanges(mphdrs, di.Mappings)
	if err != nil {
		return di.fail(logger, err)
	}

	soname, sonameAnoms := sections.ResolveSoname(mimg, mh, mphdrs)
	di.Soname = soname
	for _, a := range sonameAnoms {
		di.warn(logger, a)
	}

	secs, anoms, err := sections.ClassifySections(mimg, mh, mshdrs, loadRanges, target)
	if err != nil {
		return di.fail(logger, err)
	}
	di.Sections = *secs
	for _, a := range anoms {
		di.warn(logger, a)
	}
	if cfg.Verbosity > 1 {
		traceGotPltOpd(logger, di.Sections)
	}

	claimed := make(map[string]image.Slice)
	if err := claimNamedSections(mimg, mh, mshdrs, claimed); err != nil {
		return di.fail(logger, err)
	}
	applyClaimed(di, claimed)

	buildID, _ := findMainBuildID(mimg, mh, mphdrs, mshdrs)
	di.BuildID = buildID

	haveDebuglink := di.GnuDebuglink.Present()
	if buildID != "" || haveDebuglink {
		if cfg.Verbosity > 1 || cfg.TraceRedir {
			logger.Debugf("seeking debuginfo for build-id %q debuglink-present %v", buildID, haveDebuglink)
		}
		dimg = openCompanion(di, logger, cfg, target, buildID, haveDebuglink)
		if (cfg.Verbosity > 1 || cfg.TraceRedir) && dimg != nil {
			logger.Debugf("found debuginfo object at %s", dimg.Name())
		}
	}

	symtabInDebug := false
	if dimg != nil {
		dh, err := elfident.Identify(dimg, target.Target)
		if err == nil {
			dphdrs, err := sections.ReadProgramHeaders(dimg, dh)
			if err == nil {
				dshdrs, _ := sections.ReadSectionHeaders(dimg, dh)
				dloadRanges, err := sections.DiscoverLoadRanges(dphdrs, di.Mappings)
				if err == nil {
					dsecs, _, err := sections.ClassifySections(dimg, dh, dshdrs, dloadRanges, target)
					if err == nil {
						mergeDebugSections(&di.Sections, dsecs)
					}
					dclaimed := make(map[string]image.Slice)
					if err := claimNamedSections(dimg, dh, dshdrs, dclaimed); err == nil {
						mainHasSymtab := di.Symtab.Present()
						applyCompanionClaimed(di, dclaimed)
						if _, ok := dclaimed[".symtab"]; ok && !mainHasSymtab {
							symtabInDebug = true
						}
					}
				}
			}
		}
	}

	if di.GnuDebugAlt.Present() {
		altPath, altBuildIDHex, err := companion.ParseDebugAltLink(di.GnuDebugAlt)
		if err == nil {
			aimg = openAlt(di, logger, cfg, target, altPath, altBuildIDHex)
			if aimg != nil {
				claimAltSections(di, aimg, target)
			}
		}
	}

	useDebug := symtabInDebug
	containment := symbols.BuildContainment(&di.Sections, useDebug)

	staticImg, staticOff, staticOk := resolveSymtabImage(di, mimg, dimg, symtabInDebug)
	if staticOk {
		ex := &symbols.Extractor{
			Sections: containment, Policy: target,
			NameImage: resolveStrtabImage(di, mimg, dimg, symtabInDebug),
			NameBase:  image.IOff(di.Strtab.Off),
			SymImage:  staticImg, SymBase: staticOff,
			SymCount: uint32(di.Symtab.Len / symEntSize(mh)),
			Order:    mh.Order, Is64: mh.Class == elfident.Class64,
			Logger: logger, TraceSymtab: cfg.TraceSymtab,
		}
		attachOPD(ex, di, mimg)
		syms, err := runExtractor(ex, target, di.Sections.Got, di.Sections.Gotplt, di.Sections.Opd)
		if err != nil {
			di.warn(logger, fmt.Sprintf("static symbol extraction: %v", err))
		} else {
			di.StaticSymbols = syms
		}
	}

	if di.Dynsym.Present() && di.Dynstr.Present() {
		ex := &symbols.Extractor{
			Sections: containment, Policy: target,
			NameImage: mimg, NameBase: image.IOff(di.Dynstr.Off),
			SymImage: mimg, SymBase: image.IOff(di.Dynsym.Off),
			SymCount: uint32(di.Dynsym.Len / symEntSize(mh)),
			Order:    mh.Order, Is64: mh.Class == elfident.Class64,
			Logger: logger, TraceSymtab: cfg.TraceSymtab,
		}
		attachOPD(ex, di, mimg)
		syms, err := runExtractor(ex, target, di.Sections.Got, di.Sections.Gotplt, di.Sections.Opd)
		if err != nil {
			di.warn(logger, fmt.Sprintf("dynamic symbol extraction: %v", err))
		} else {
			di.DynamicSymbols = syms
		}
	}

	if collab.CallFrame != nil {
		for i, eh := range di.Sections.EhFrame {
			slice := image.Slice{Img: mimg, Off: image.IOff(eh.Offset), Len: eh.Size}
			if err := collab.CallFrame(slice, eh.AVMA); err != nil {
				di.warn(logger, fmt.Sprintf("call-frame reader on eh_frame[%d]: %v", i, err))
			}
		}
		if di.DebugFrame.Present() {
			if err := collab.CallFrame(di.DebugFrame, 0); err != nil {
				di.warn(logger, fmt.Sprintf("call-frame reader on .debug_frame: %v", err))
			}
		}
	}

	if di.DebugInfoSec.Present() && di.DebugAbbrev.Present() && di.DebugLine.Present() {
		if collab.LineInfo != nil {
			if err := collab.LineInfo(di); err != nil {
				di.warn(logger, fmt.Sprintf("line-info reader: %v", err))
			}
		}
		if cfg.ReadVarInfo && collab.DIE != nil {
			if err := collab.DIE(di, di.GnuDebugAlt); err != nil {
				di.warn(logger, fmt.Sprintf("DIE reader: %v", err))
			}
		}
	}

	return true
}

var (
	errNotELF            = errors.New("debuginfo: not an ELF object")
	errHeaderOutOfRange  = errors.New("debuginfo: program or section header table extends past image")
)

// traceGotPltOpd logs the svma/bias of the sections the symbol
// extractor consults indirectly, matching the original's high-verbosity
// post-mortem triage dump of these tables.
func traceGotPltOpd(logger *elflog.Helper, secs sections.Sections) {
	trace := func(label string, s sections.Section) {
		if !s.Present {
			return
		}
		logger.Debugf("%s: svma=%#x avma=%#x size=%#x bias=%#x", label, s.SVMA, s.AVMA, s.Size, s.Bias)
	}
	trace(".got", secs.Got)
	trace(".got.plt", secs.Gotplt)
	trace(".plt", secs.Plt)
	trace(".opd", secs.Opd)
}

func symEntSize(h elfident.Header) uint64 {
	if h.Class == elfident.Class64 {
		return 24
	}
	return 16
}
