// Package buildinfo holds application metadata set at build time.
//
// Release builds override the version with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/fvisticot/nfc-reader-bridge/buildinfo.Version=1.2.0 \
//	  -X github.com/fvisticot/nfc-reader-bridge/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the binary and config directory name.
	Name = "nfc-reader-bridge"

	// DisplayName is used for the tray title and the mDNS instance.
	DisplayName = "NFC Reader Bridge"

	Description = "Bridges NFC NDEF read sessions to WebSocket and HTTP clients"

	// EnvPrefix prefixes every environment variable read by the config layer.
	EnvPrefix = "NFC_BRIDGE"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// FullVersion returns the version with the commit appended when known,
// e.g. "1.2.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// Platform identifies the host the bridge runs on, e.g. "linux 1.2.0". It
// is the answer to requests the bridge does not recognize.
func Platform() string {
	return runtime.GOOS + " " + Version
}

// UserAgent returns the identifier CLI clients send in HTTP handshakes.
func UserAgent() string {
	return Name + "/" + Version
}

// BuildInfo returns a multi-line description of the build.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}

// IsDev reports whether this is an unversioned development build.
func IsDev() bool {
	return Version == "dev"
}
