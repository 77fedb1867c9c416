// Package platform describes the host a sync pass runs on.
//
// The description feeds the Lua configuration (so reconcile lists can differ
// per OS) and the disk-space preflight. Linux distribution details come from
// gopsutil and are optional: detection failures leave them empty.
package platform

import "context"

// Linux distribution families.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyGentoo  = "gentoo"
	FamilyUnknown = "unknown"
)

// Info contains platform detection information.
type Info struct {
	OS      string // "linux", "darwin", "windows"
	Arch    string // "amd64", "arm64", "386", or GOARCH as is
	ArchRaw string // GOARCH
	Distro  string // distro ID, Linux only
	Family  string // canonical distro family, Linux only
	Version string // distro version, Linux only
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// Is64Bit reports whether the architecture is a 64-bit one.
func (i *Info) Is64Bit() bool {
	switch i.Arch {
	case "amd64", "arm64", "ppc64le", "s390x", "riscv64", "loong64":
		return true
	}
	return false
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// Static is a Detector that always returns the same Info.
type Static Info

// Detect returns a copy of s.
func (s Static) Detect(ctx context.Context) (*Info, error) {
	info := Info(s)
	return &info, nil
}
