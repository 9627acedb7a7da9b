package types

import "fmt"

// Platform identifies a target build platform.
type Platform string

const (
	Android Platform = "android"
	IOS     Platform = "ios"
	OSX     Platform = "osx"
	Windows Platform = "windows"
	Ubuntu  Platform = "ubuntu"
)

// ParsePlatform validates s against the known platforms.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case Android, IOS, OSX, Windows, Ubuntu:
		return Platform(s), nil
	default:
		return "", fmt.Errorf("unknown platform '%s'", s)
	}
}

// RunsInContainer reports whether this platform's build stage executes
// inside a Docker container (spec.md §4.4, SPEC_FULL.md §4). iOS, OSX and
// Windows toolchains cannot run on a Linux Docker host, so they shell out
// natively via pkg/utils.RunCmd instead.
func (p Platform) RunsInContainer() bool {
	return p == Android || p == Ubuntu
}

// IsApple reports whether p is one of the Apple platforms, which share
// keychain/provisioning-profile handling.
func (p Platform) IsApple() bool {
	return p == IOS || p == OSX
}
