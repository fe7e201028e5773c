package render

import (
	"fmt"
	"runtime"
	"strings"
)

// ClientPlatform returns the "os/arch" (or "os/arch/variant") string for
// the machine tplbuild itself is running on, ignoring the local OS and
// always reporting "linux" since that is what almost every build client
// cares about.
func ClientPlatform() string {
	arch, variant := NormalizeArchitecture(runtime.GOARCH, "")
	if variant != "" {
		return "linux/" + arch + "/" + variant
	}
	return "linux/" + arch
}

// NormalizeArchitecture maps an arbitrary architecture/variant pair onto
// the canonical names OCI image platforms use, following the same rules
// containerd's platform matcher applies.
func NormalizeArchitecture(arch, variant string) (string, string) {
	arch = strings.ToLower(arch)
	variant = strings.ToLower(variant)

	switch arch {
	case "i386":
		return "386", ""
	case "x86_64", "x86-64", "amd64":
		return "amd64", ""
	case "aarch64", "arm64":
		if variant == "8" || variant == "v8" {
			variant = ""
		}
		return "arm64", variant
	case "armhf":
		return "arm", "v7"
	case "armel":
		return "arm", "v6"
	case "arm":
		switch variant {
		case "", "7":
			variant = "v7"
		case "5", "6", "8":
			variant = "v" + variant
		}
		return "arm", variant
	default:
		return arch, variant
	}
}

// PlatformArch splits a "os/arch" or "os/arch/variant" platform string
// into its normalized (arch, variant) pair, for the arch helper functions
// templates use to pick per-architecture URLs and package names.
func PlatformArch(platform string) (string, string, error) {
	parts := strings.Split(platform, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", fmt.Errorf("malformed platform %q", platform)
	}
	variant := ""
	if len(parts) == 3 {
		variant = parts[2]
	}
	arch, variant := NormalizeArchitecture(parts[1], variant)
	return arch, variant, nil
}

// dockerArchNames maps a normalized arch to the spelling Docker's own
// platform strings use, which is already tplbuild's canonical spelling,
// so this is an identity map kept for symmetry with DebianArch/GoArch.
var dockerArchNames = map[string]string{
	"386": "386", "amd64": "amd64", "arm64": "arm64", "arm": "arm",
}

// debianArchNames maps a normalized arch (+ variant, for arm) to the
// architecture name Debian/Ubuntu package repositories use.
var debianArchNames = map[string]string{
	"386":     "i386",
	"amd64":   "amd64",
	"arm64":   "arm64",
	"arm/v5":  "armel",
	"arm/v6":  "armhf",
	"arm/v7":  "armhf",
}

// goArchNames maps a normalized arch to the GOARCH spelling, used to pick
// a matching prebuilt binary release inside a Dockerfile template.
var goArchNames = map[string]string{
	"386": "386", "amd64": "amd64", "arm64": "arm64", "arm": "arm",
}

// DockerArch returns platform's architecture in Docker's own spelling.
func DockerArch(platform string) (string, error) {
	arch, _, err := PlatformArch(platform)
	if err != nil {
		return "", err
	}
	if name, ok := dockerArchNames[arch]; ok {
		return name, nil
	}
	return arch, nil
}

// DebianArch returns platform's architecture in Debian package-repository
// spelling, taking the ARM variant into account where it changes the name.
func DebianArch(platform string) (string, error) {
	arch, variant, err := PlatformArch(platform)
	if err != nil {
		return "", err
	}
	key := arch
	if variant != "" {
		key = arch + "/" + variant
	}
	if name, ok := debianArchNames[key]; ok {
		return name, nil
	}
	if name, ok := debianArchNames[arch]; ok {
		return name, nil
	}
	return arch, nil
}

// GoArch returns platform's architecture in Go's GOARCH spelling.
func GoArch(platform string) (string, error) {
	arch, _, err := PlatformArch(platform)
	if err != nil {
		return "", err
	}
	if name, ok := goArchNames[arch]; ok {
		return name, nil
	}
	return arch, nil
}
