package host

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// Profile describes the register file and features of the host the emitter targets
type Profile struct {
	Arch      string
	Registers int // general purpose registers available to the allocator

	HasBMI1   bool
	HasBMI2   bool
	HasPOPCNT bool
	HasAVX2   bool
	HasLSE    bool
}

// Detect returns the profile of the running host
func Detect() Profile {
	return ForArch(runtime.GOARCH)
}

// ForArch returns the profile for an architecture, with features detected
// only when arch is the running host's
func ForArch(arch string) Profile {
	p := Profile{Arch: arch}
	native := arch == runtime.GOARCH
	switch arch {
	case "amd64":
		// 16 GPRs minus stack pointer, context pointer, memory base and scratch
		p.Registers = 12
		if native {
			p.HasBMI1 = cpu.X86.HasBMI1
			p.HasBMI2 = cpu.X86.HasBMI2
			p.HasPOPCNT = cpu.X86.HasPOPCNT
			p.HasAVX2 = cpu.X86.HasAVX2
		}
	case "arm64":
		// x0-x30 minus platform, frame, link, context, memory base and scratch
		p.Registers = 24
		if native {
			p.HasLSE = cpu.ARM64.HasATOMICS
		}
	default:
		p.Registers = 8
	}
	return p
}
