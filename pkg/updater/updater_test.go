package updater

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/appfoundry/buildfleet/pkg/filesystem/plainfs"
	"github.com/appfoundry/buildfleet/pkg/types"
)

func newTestUpdater(t *testing.T) *Updater {
	root := t.TempDir()
	return &Updater{
		Log:        log.New(os.Stderr, "[updater-test] ", 0),
		Paths:      types.NewPaths(root),
		FileSystem: plainfs.PlainFS{},
	}
}

func TestSaveAndLoadManifestRoundtrips(t *testing.T) {
	u := newTestUpdater(t)

	m := types.Manifest{
		"platforms/android-28.tar.bz2": {Key: "platforms/android-28.tar.bz2", LastModified: "t1", ETag: "e1", Size: 10},
	}
	failIfError(u.saveManifest(m), t)

	got, err := u.loadManifest()
	failIfError(err, t)
	assertEq(got, m, t)
}

func TestLoadManifestMissingFileReturnsEmpty(t *testing.T) {
	u := newTestUpdater(t)

	got, err := u.loadManifest()
	failIfError(err, t)
	assertEq(got, types.Manifest{}, t)
}

func TestResetSyncDirRecreatesEmpty(t *testing.T) {
	u := newTestUpdater(t)

	stray := filepath.Join(u.Paths.SyncDir(), "leftover.tar.bz2")
	failIfError(os.MkdirAll(u.Paths.SyncDir(), 0755), t)
	failIfError(os.WriteFile(stray, []byte("x"), 0644), t)

	failIfError(u.resetSyncDir(), t)

	entries, err := os.ReadDir(u.Paths.SyncDir())
	failIfError(err, t)
	assertEq(len(entries), 0, t)
}

func TestPurgeStaleRemovesDroppedEntries(t *testing.T) {
	u := newTestUpdater(t)

	dir := u.Paths.CacheDir(types.PlatformsDir, "android-28")
	failIfError(os.MkdirAll(dir, 0755), t)

	prev := types.Manifest{
		"platforms/android-28.tar.bz2": {Key: "platforms/android-28.tar.bz2"},
	}
	next := types.Manifest{}

	failIfError(u.purgeStale(prev, next), t)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected the stale output directory to be removed")
	}
}

func TestPurgeStaleKeepsStillPresentEntries(t *testing.T) {
	u := newTestUpdater(t)

	dir := u.Paths.CacheDir(types.PlatformsDir, "android-28")
	failIfError(os.MkdirAll(dir, 0755), t)

	entry := types.ManifestEntry{Key: "platforms/android-28.tar.bz2"}
	prev := types.Manifest{entry.Key: entry}
	next := types.Manifest{entry.Key: entry}

	failIfError(u.purgeStale(prev, next), t)

	if _, err := os.Stat(dir); err != nil {
		t.Fatal("expected the still-present output directory to survive")
	}
}

func TestPruneCacheRemovesMatchingEntries(t *testing.T) {
	u := newTestUpdater(t)

	androidDir := u.Paths.CacheDir(types.PlatformsDir, "android-28")
	pluginDir := u.Paths.CacheDir(types.PluginsDir, "cordova-plugin-camera")
	failIfError(os.MkdirAll(androidDir, 0755), t)
	failIfError(os.MkdirAll(pluginDir, 0755), t)

	m := types.Manifest{
		"platforms/android-28.tar.bz2":           {Key: "platforms/android-28.tar.bz2", LastModified: "t1"},
		"plugins/cordova-plugin-camera.tar.bz2":  {Key: "plugins/cordova-plugin-camera.tar.bz2", LastModified: "t1"},
	}
	failIfError(u.saveManifest(m), t)

	failIfError(u.PruneCache([]string{"platforms/"}), t)

	if _, err := os.Stat(androidDir); !os.IsNotExist(err) {
		t.Fatal("expected the matching platforms/ output directory to be pruned")
	}
	if _, err := os.Stat(pluginDir); err != nil {
		t.Fatal("expected the non-matching plugins/ output directory to survive")
	}

	got, err := u.loadManifest()
	failIfError(err, t)
	if _, present := got["platforms/android-28.tar.bz2"]; present {
		t.Fatal("expected the pruned entry to be dropped from the manifest")
	}
	if _, present := got["plugins/cordova-plugin-camera.tar.bz2"]; !present {
		t.Fatal("expected the non-matching entry to remain in the manifest")
	}
}

func TestPruneCacheEmptyNamesPrunesEverything(t *testing.T) {
	u := newTestUpdater(t)

	dir := u.Paths.CacheDir(types.PlatformsDir, "android-28")
	failIfError(os.MkdirAll(dir, 0755), t)

	m := types.Manifest{
		"platforms/android-28.tar.bz2": {Key: "platforms/android-28.tar.bz2", LastModified: "t1"},
	}
	failIfError(u.saveManifest(m), t)

	failIfError(u.PruneCache(nil), t)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected prune-cache with no names to remove every entry")
	}
}

func failIfError(err error, t *testing.T) {
	if err != nil {
		t.Fatal(err)
	}
}
