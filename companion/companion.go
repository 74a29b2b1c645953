// Package companion implements the Build-ID / Debug-Link Resolver: it
// extracts build-id notes, searches the filesystem (and an optional
// remote debuginfo server) for a companion debug image, and validates
// candidates by build-id or CRC-32. The note-walking and hex-encoding
// logic is grounded on Google pprof's internal/elfexec (parseNotes,
// GetBuildID), retrieved as other_examples/.../elfexec.go and reused
// here as algorithm, not as an imported package, since this module's
// byte access goes through its own Image abstraction rather than
// debug/elf.
package companion

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/saferwall/elfdebuginfo/image"
	"github.com/saferwall/elfdebuginfo/sections"
)

// ntGnuBuildID is the note type for a GNU build-id.
const ntGnuBuildID = 3

var ErrCompanionOpenFailed = errors.New("companion: no candidate debug file found")

func roundUp4(n uint32) uint32 { return (n + 3) &^ 3 }

// FindBuildID implements find_buildid: it walks a note payload (from a
// PT_NOTE segment or SHT_NOTE section) looking for a note named "GNU"
// of type NT_GNU_BUILD_ID, and returns its descriptor hex-encoded. Note
// padding follows ELF note conventions: namesz and descsz are each
// rounded up to a multiple of 4. Grounded on elfexec.go's parseNotes.
func FindBuildID(img image.Image, order binary.ByteOrder, off image.IOff, size uint64) (string, bool) {
	cur := off
	end := uint64(off) + size
	for uint64(cur)+12 <= end {
		namesz, err := img.GetU32(cur, order)
		if err != nil {
			break
		}
		descsz, err := img.GetU32(cur+4, order)
		if err != nil {
			break
		}
		typ, err := img.GetU32(cur+8, order)
		if err != nil {
			break
		}
		nameOff := cur + 12
		paddedName := roundUp4(namesz)
		descOff := nameOff + image.IOff(paddedName)
		paddedDesc := roundUp4(descsz)

		if uint64(descOff)+uint64(descsz) > end {
			break
		}

		name := make([]byte, namesz)
		if namesz > 0 {
			if err := img.Get(name, nameOff); err != nil {
				break
			}
			if len(name) > 0 && name[len(name)-1] == 0 {
				name = name[:len(name)-1]
			}
		}

		if string(name) == "GNU" && typ == ntGnuBuildID {
			desc := make([]byte, descsz)
			if err := img.Get(desc, descOff); err == nil {
				return hex.EncodeToString(desc), true
			}
		}

		cur = descOff + image.IOff(paddedDesc)
	}
	return "", false
}

// BuildIDPath computes the canonical /usr/lib/debug/.build-id/xx/yyyy.debug
// path for a hex build-id.
func BuildIDPath(buildIDHex string) (string, bool) {
	if len(buildIDHex) < 3 {
		return "", false
	}
	return fmt.Sprintf("/usr/lib/debug/.build-id/%s/%s.debug", buildIDHex[:2], buildIDHex[2:]), true
}

// DebuglinkCandidates computes, in search order, the filesystem
// candidates for a CRC-validated debuglink lookup.
func DebuglinkCandidates(objDir, debugName, extraPath string) []string {
	var out []string
	out = append(out, filepath.Join(objDir, debugName))
	out = append(out, filepath.Join(objDir, ".debug", debugName))
	out = append(out, path.Join("/usr/lib/debug", objDir, debugName))
	if extraPath != "" {
		out = append(out, filepath.Join(extraPath, objDir, debugName))
	}
	return out
}

// OpenLocal attempts path via the local image backend. A non-existent
// or unreadable path is not an error in the Resolver's contract: the
// caller moves on to the next candidate.
func OpenLocal(path string) (image.Image, error) {
	return image.OpenFile(path)
}

// VerifyByBuildID accepts a candidate image iff its own build-id note
// equals wantHex byte-for-byte (§8 invariant 4).
func VerifyByBuildID(candidate image.Image, order binary.ByteOrder, notesOff image.IOff, notesSize uint64, wantHex string) bool {
	got, ok := FindBuildID(candidate, order, notesOff, notesSize)
	return ok && got == wantHex
}

// VerifyByCRC accepts a candidate image iff its whole-image CRC-32
// equals want (§8 invariant 5).
func VerifyByCRC(candidate image.Image, want uint32) bool {
	got, err := candidate.CRC32()
	return err == nil && got == want
}

// ParseDebugAltLink parses a `.gnu_debugaltlink` section payload:
// <NUL-terminated path><raw build-id bytes>.
func ParseDebugAltLink(slice image.Slice) (altPath string, buildIDHex string, err error) {
	if !slice.Present() {
		return "", "", errors.New("companion: no .gnu_debugaltlink section")
	}
	raw, err := slice.Bytes()
	if err != nil {
		return "", "", err
	}
	nul := -1
	for i, b := range raw {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return "", "", errors.New("companion: .gnu_debugaltlink missing NUL terminator")
	}
	altPath = string(raw[:nul])
	buildIDHex = hex.EncodeToString(raw[nul+1:])
	return altPath, buildIDHex, nil
}

// ParseDebuglink parses a `.gnu_debuglink` section payload: a
// NUL-terminated name, padded to a 4-byte boundary, followed by a
// little-endian CRC-32.
func ParseDebuglink(slice image.Slice) (name string, crc uint32, err error) {
	if !slice.Present() {
		return "", 0, errors.New("companion: no .gnu_debuglink section")
	}
	raw, err := slice.Bytes()
	if err != nil {
		return "", 0, err
	}
	nul := -1
	for i, b := range raw {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return "", 0, errors.New("companion: .gnu_debuglink missing NUL terminator")
	}
	name = string(raw[:nul])
	crcOff := roundUp4(uint32(nul) + 1)
	if uint64(crcOff)+4 > uint64(len(raw)) {
		return "", 0, errors.New("companion: .gnu_debuglink truncated before CRC")
	}
	crc = uint32(raw[crcOff]) | uint32(raw[crcOff+1])<<8 | uint32(raw[crcOff+2])<<16 | uint32(raw[crcOff+3])<<24
	return name, crc, nil
}

// Resolve implements find_debug_file: the ordered, fallible,
// multi-strategy companion search of §4.5.
type Resolve struct {
	ObjDir    string
	ExtraPath string
	Server    image.RemoteEndpoint // empty if unconfigured
	Allow     bool                 // allow_mismatched_debuginfo
}

// FindDebugFile tries, in order: the build-id path (if buildIDHex is
// non-empty), then CRC-validated debugname candidates, then — if
// r.Allow — an unvalidated ad-hoc fallback. verifyBuildID validates a
// candidate's own build-id against buildIDHex.
func (r Resolve) FindDebugFile(
	buildIDHex string,
	debugName string,
	wantCRC uint32,
	verifyBuildID func(image.Image) bool,
) (image.Image, error) {
	if buildIDHex != "" {
		if p, ok := BuildIDPath(buildIDHex); ok {
			if im, err := OpenLocal(p); err == nil {
				if verifyBuildID == nil || verifyBuildID(im) {
					return im, nil
				}
				im.Close()
			}
		}
	}

	if debugName != "" {
		candidates := DebuglinkCandidates(r.ObjDir, debugName, r.ExtraPath)
		for _, c := range candidates {
			im, err := OpenLocal(c)
			if err != nil {
				continue
			}
			if VerifyByCRC(im, wantCRC) {
				return im, nil
			}
			im.Close()
		}
		if r.Server != "" {
			im, err := image.OpenRemote(r.Server, path.Base(debugName))
			if err == nil {
				if VerifyByCRC(im, wantCRC) {
					return im, nil
				}
				im.Close()
			}
		}
	}

	if r.Allow {
		if r.ExtraPath != "" && debugName != "" {
			if im, err := OpenLocal(filepath.Join(r.ExtraPath, r.ObjDir, debugName)); err == nil {
				return im, nil
			}
		}
		if r.Server != "" && debugName != "" {
			if im, err := image.OpenRemote(r.Server, path.Base(debugName)); err == nil {
				return im, nil
			}
		}
	}

	return nil, ErrCompanionOpenFailed
}

// SectionSlice is a convenience used by the Orchestrator to turn a
// recognised companion section into the payload FindBuildID/
// ParseDebuglink need.
func SectionSlice(img image.Image, s sections.Section) image.Slice {
	if !s.Present {
		return image.InvalidSlice
	}
	return image.Slice{Img: img, Off: image.IOff(s.SVMA), Len: s.Size}
}
