package updater

import (
	"regexp"
	"runtime"

	"github.com/appfoundry/buildfleet/pkg/types"
)

var (
	platformsPattern = regexp.MustCompile(`^platforms/(.+)\.tar\.bz2$`)
	compilersPattern = regexp.MustCompile(`^compilers/compiler_cordova_(.+)\.tar\.bz2$`)
	pluginsPattern   = regexp.MustCompile(`^plugins/(.+)\.tar\.bz2$`)
	libsPattern      = regexp.MustCompile(`^libs/(.+)-(darwin|linux|win32)\.tar\.bz2$`)
	sdksPattern      = regexp.MustCompile(`^sdks/(.+)\.tar\.bz2$`)
)

// hostOSSuffix is the libs/ filename suffix matching the running
// host OS, e.g. "darwin", "linux" or "win32" (spec.md §4.2 step 3).
func hostOSSuffix() string {
	if runtime.GOOS == "windows" {
		return "win32"
	}
	return runtime.GOOS
}

// outputDir derives the cache output directory for a manifest key,
// following the table in spec.md §4.2. relevant is false for keys outside
// the five tracked folders, which are silently ignored, and for libs/ keys
// built for another host OS.
func outputDir(paths types.Paths, key string) (dir string, relevant bool) {
	if m := platformsPattern.FindStringSubmatch(key); m != nil {
		return paths.CacheDir(types.PlatformsDir, m[1]), true
	}
	if m := compilersPattern.FindStringSubmatch(key); m != nil {
		return paths.CacheDir(types.CompilersDir, m[1]), true
	}
	if m := pluginsPattern.FindStringSubmatch(key); m != nil {
		return paths.CacheDir(types.PluginsDir, m[1]), true
	}
	if m := libsPattern.FindStringSubmatch(key); m != nil {
		if m[2] != hostOSSuffix() {
			return "", false
		}
		return paths.CacheDir(types.LibsDir, m[1]), true
	}
	if m := sdksPattern.FindStringSubmatch(key); m != nil {
		return paths.CacheDir(types.SDKsDir, m[1]), true
	}
	return "", false
}

// extractCmd returns the archive-extraction command for path into dir,
// POSIX tar on Linux/macOS, bsdtar on Windows (spec.md §4.2 step 5).
func extractCmd(path, dir string) []string {
	if runtime.GOOS == "windows" {
		return []string{"bsdtar", "-xf", path, "-C", dir}
	}
	return []string{"tar", "-jxf", path, "-C", dir}
}
