package models

import "fmt"

// Platform identifies a build platform family in the matrix.
type Platform string

const (
	PlatformLinux     Platform = "linux"
	PlatformMuslLinux Platform = "musllinux"
	PlatformWindows   Platform = "windows"
	PlatformMacOS     Platform = "macos"
	PlatformAndroid   Platform = "android"
)

// KnownPlatforms lists every platform family the matrix may reference.
var KnownPlatforms = []Platform{
	PlatformLinux,
	PlatformMuslLinux,
	PlatformWindows,
	PlatformMacOS,
	PlatformAndroid,
}

// Valid reports whether p is a known platform family.
func (p Platform) Valid() bool {
	for _, known := range KnownPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// Target is one platform/architecture combination expanded from the build matrix.
type Target struct {
	Platform Platform `json:"platform"`
	// Arch is the processor architecture, e.g. "x86_64" or "aarch64".
	Arch string `json:"arch"`
	// Variant is an optional label distinguishing builds of the same
	// platform/arch pair, e.g. a libc flavor.
	Variant string `json:"variant,omitempty"`
	// Triple is the toolchain target triple the compiler is told to produce.
	Triple string `json:"triple"`
	// Linker is an optional cross-linker binary, exported to the toolchain
	// through target-specific environment variables.
	Linker string `json:"linker,omitempty"`
	// Env holds extra environment variables for the toolchain invocation.
	Env map[string]string `json:"env,omitempty"`
	// Packages are extra system packages the build host must install first.
	Packages []string `json:"packages,omitempty"`
	// ExtraFiles are additional files bundled into the archive next to the
	// binary (the android family ships a shared C++ runtime library).
	ExtraFiles []string `json:"extra_files,omitempty"`
}

// ArchiveName returns the archive name for this target following the
// <program>-<platform>[-<variant>]-<arch>.zip convention.
func (t Target) ArchiveName(program string) string {
	if t.Variant != "" {
		return fmt.Sprintf("%s-%s-%s-%s.zip", program, t.Platform, t.Variant, t.Arch)
	}
	return fmt.Sprintf("%s-%s-%s.zip", program, t.Platform, t.Arch)
}

// BinaryName returns the name the compiled binary carries inside the archive.
// Windows binaries keep their .exe suffix.
func (t Target) BinaryName(program string) string {
	if t.Platform == PlatformWindows {
		return program + ".exe"
	}
	return program
}
