package oasis

import (
	"fmt"
	"strings"
)

// Platform identifies the os-arch pair an artifact or installer targets.
type Platform string

// Platforms the update resolver understands. Artifacts are keyed by these.
const (
	PlatformDarwinARM64  Platform = "darwin-aarch64"
	PlatformDarwinAMD64  Platform = "darwin-x86_64"
	PlatformLinuxAMD64   Platform = "linux-x86_64"
	PlatformLinuxARM64   Platform = "linux-aarch64"
	PlatformWindowsAMD64 Platform = "windows-x86_64"
	PlatformWindowsARM64 Platform = "windows-aarch64"
)

// Installer-only platforms. End-user downloads allow a broader set than
// in-app updates.
const (
	PlatformDarwinUniversal Platform = "darwin-universal"
	PlatformWindowsX86      Platform = "windows-x86"
	PlatformLinuxARMv7      Platform = "linux-armv7"
)

var artifactPlatforms = map[Platform]struct{}{
	PlatformDarwinARM64:  {},
	PlatformDarwinAMD64:  {},
	PlatformLinuxAMD64:   {},
	PlatformLinuxARM64:   {},
	PlatformWindowsAMD64: {},
	PlatformWindowsARM64: {},
}

var installerPlatforms = map[Platform]struct{}{
	PlatformDarwinARM64:     {},
	PlatformDarwinAMD64:     {},
	PlatformLinuxAMD64:      {},
	PlatformLinuxARM64:      {},
	PlatformWindowsAMD64:    {},
	PlatformWindowsARM64:    {},
	PlatformDarwinUniversal: {},
	PlatformWindowsX86:      {},
	PlatformLinuxARMv7:      {},
}

// Aliases seen from older SDK builds and hand-typed URLs. The table is
// closed: anything not listed here and not already a platform token is
// rejected.
var platformAliases = map[string]string{
	"macos":   "darwin",
	"osx":     "darwin",
	"win":     "windows",
	"win64":   "windows-x86_64",
	"win32":   "windows-x86_64",
	"linux64": "linux-x86_64",
}

// ValidForArtifact reports whether p may be attached to an Artifact.
func (p Platform) ValidForArtifact() bool {
	_, ok := artifactPlatforms[p]
	return ok
}

// ValidForInstaller reports whether p may be attached to an Installer.
func (p Platform) ValidForInstaller() bool {
	_, ok := installerPlatforms[p]
	return ok
}

// NormalizeTarget maps an incoming target string onto the Platform
// vocabulary.
//
// The target is lowercased, whole-string aliases are applied first, then the
// leading os token is aliased while any "-arch" suffix is preserved. The
// result must be a known platform token; anything else is an error.
func NormalizeTarget(target string) (Platform, error) {
	t := strings.ToLower(strings.TrimSpace(target))
	if full, ok := platformAliases[t]; ok {
		t = full
	}
	if os, arch, ok := strings.Cut(t, "-"); ok {
		if alias, aliased := platformAliases[os]; aliased && !strings.Contains(alias, "-") {
			t = alias + "-" + arch
		}
	}
	p := Platform(t)
	if !p.ValidForInstaller() {
		return "", fmt.Errorf("unknown target platform %q", target)
	}
	return p, nil
}

// InstallerFallbacks returns the platforms to try, in order, when resolving
// an installer download for p. A universal macOS build serves both Apple
// silicon and Intel requests; 64-bit and then 32-bit x86 builds serve
// Windows on ARM through emulation.
func InstallerFallbacks(p Platform) []Platform {
	switch p {
	case PlatformDarwinARM64, PlatformDarwinAMD64:
		return []Platform{p, PlatformDarwinUniversal}
	case PlatformWindowsARM64:
		return []Platform{p, PlatformWindowsAMD64, PlatformWindowsX86}
	}
	return []Platform{p}
}
