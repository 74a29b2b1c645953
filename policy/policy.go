// Package policy replaces the original C core's per-architecture
// preprocessor branches (VGP_ppc64_linux, VGPV_arm_linux_android, ...)
// with a single runtime-dispatched descriptor, as called for in the
// core's design notes: one record carrying the expected ELF
// class/machine, the .opd policy, the .plt mapping policy, the
// zero-size-symbol policy, and the symbol-merging strategy.
package policy

import "github.com/saferwall/elfdebuginfo/elfident"

// PltMapping describes where a target's .plt is expected to live.
type PltMapping int

const (
	PltInRX      PltMapping = iota // most architectures
	PltInRW                        // some architectures link .plt writable
	PltOptional                    // absent-but-present is allowed
)

// MergeStrategy selects the symbol extractor variant.
type MergeStrategy int

const (
	MergeLinear MergeStrategy = iota // every architecture except ppc64
	MergePPC64                       // function-descriptor merge pass
)

// Policy is the per-target descriptor consulted by section discovery
// and symbol extraction.
type Policy struct {
	Target elfident.Target

	// OpdIndirection enables .opd function-descriptor dereferencing
	// (ppc64 only): a NOTYPE symbol whose SVMA lies in .opd is
	// accepted and redirected through the descriptor.
	OpdIndirection bool

	PltMapping PltMapping

	// ZeroSizeOverride, when non-zero, is substituted for st_size == 0
	// instead of rejecting the symbol (observed on certain Android
	// targets, which assign 2048).
	ZeroSizeOverride uint64

	Merge MergeStrategy
}

// LinuxAMD64 is the common case: little-endian 64-bit, .plt in rx,
// linear symbol extraction, no .opd indirection.
func LinuxAMD64() Policy {
	return Policy{
		Target: elfident.Target{
			Class:   elfident.Class64,
			Data:    elfident.Data2LSB,
			Machine: elfident.MachineX86_64,
		},
		PltMapping: PltInRX,
		Merge:      MergeLinear,
	}
}

// LinuxI386 is the 32-bit little-endian x86 target.
func LinuxI386() Policy {
	return Policy{
		Target: elfident.Target{
			Class:   elfident.Class32,
			Data:    elfident.Data2LSB,
			Machine: elfident.Machine386,
		},
		PltMapping: PltInRX,
		Merge:      MergeLinear,
	}
}

// LinuxARM64 is the 64-bit little-endian ARM target.
func LinuxARM64() Policy {
	return Policy{
		Target: elfident.Target{
			Class:   elfident.Class64,
			Data:    elfident.Data2LSB,
			Machine: elfident.MachineAArch64,
		},
		PltMapping: PltInRX,
		Merge:      MergeLinear,
	}
}

// LinuxARM is the 32-bit little-endian ARM target. .plt is sometimes
// linked writable on this target by older toolchains.
func LinuxARM() Policy {
	return Policy{
		Target: elfident.Target{
			Class:   elfident.Class32,
			Data:    elfident.Data2LSB,
			Machine: elfident.MachineARM,
		},
		PltMapping: PltInRW,
		Merge:      MergeLinear,
	}
}

// AndroidARM matches LinuxARM's layout but assigns a fixed synthetic
// size to zero-sized symbols instead of rejecting them.
func AndroidARM() Policy {
	p := LinuxARM()
	p.ZeroSizeOverride = 2048
	return p
}

// LinuxPPC64 is the big-endian 64-bit PowerPC target: symbols are
// indirected through .opd function descriptors and extracted with the
// ordered-merge reader.
func LinuxPPC64() Policy {
	return Policy{
		Target: elfident.Target{
			Class:   elfident.Class64,
			Data:    elfident.Data2MSB,
			Machine: elfident.MachinePPC64,
		},
		OpdIndirection: true,
		PltMapping:     PltOptional,
		Merge:          MergePPC64,
	}
}

// LinuxRISCV64 is the 64-bit little-endian RISC-V target.
func LinuxRISCV64() Policy {
	return Policy{
		Target: elfident.Target{
			Class:   elfident.Class64,
			Data:    elfident.Data2LSB,
			Machine: elfident.MachineRISCV,
		},
		PltMapping: PltInRX,
		Merge:      MergeLinear,
	}
}
