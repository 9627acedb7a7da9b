package builder

import (
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	units "github.com/docker/go-units"
)

// lowSpaceThreshold and lowSpaceFraction are the disk-pressure triggers
// checked before every Builder iteration (spec.md §5).
var lowSpaceThreshold = mustRAMInBytes("1GiB")

const lowSpaceFraction = 0.25

func mustRAMInBytes(s string) int64 {
	n, err := units.RAMInBytes(s)
	if err != nil {
		panic(err)
	}
	return n
}

// purgeIfLowOnDisk purges host tmp dirs and the package-manager cache
// when either the root or home filesystem is under pressure
// (spec.md §5 "Disk pressure").
func purgeIfLowOnDisk(log interface{ Printf(string, ...any) }) error {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}

	rootLow, rootFree, err := isLowOnSpace("/")
	if err != nil {
		return err
	}
	homeLow, homeFree, err := isLowOnSpace(home)
	if err != nil {
		return err
	}
	if !rootLow && !homeLow {
		return nil
	}

	log.Printf("disk pressure detected (/ free: %s, %s free: %s) below %s, purging tmp dirs and package-manager cache",
		units.BytesSize(float64(rootFree)), home, units.BytesSize(float64(homeFree)), units.BytesSize(float64(lowSpaceThreshold)))
	if err := purgeTmpDirs(os.TempDir()); err != nil {
		return err
	}
	return purgePackageManagerCache()
}

func isLowOnSpace(path string) (low bool, free uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return false, 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	free = st.Bfree * uint64(st.Bsize)
	if total == 0 {
		return false, free, nil
	}
	if free < uint64(lowSpaceThreshold) {
		return true, free, nil
	}
	return float64(free)/float64(total) < lowSpaceFraction, free, nil
}

// purgeTmpDirs removes entries under dir named "npm-*" or "git*" and
// owned by the current user (spec.md §5).
func purgeTmpDirs(dir string) error {
	u, err := user.Current()
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "npm-") && !strings.HasPrefix(name, "git") {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			continue
		}
		if strconv.Itoa(int(st.Uid)) != u.Uid {
			continue
		}

		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func purgePackageManagerCache() error {
	cmd := exec.Command("npm", "cache", "clean", "--force")
	return cmd.Run()
}
