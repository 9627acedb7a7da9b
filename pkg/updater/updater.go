// Package updater reconciles the local dependency cache with a remote
// object store on a fixed interval (spec.md §4.2).
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/appfoundry/buildfleet/pkg/filesystem"
	"github.com/appfoundry/buildfleet/pkg/metrics"
	"github.com/appfoundry/buildfleet/pkg/objectstore"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// Updater owns the sync/ scratch directory and the persisted manifest
// exclusively; no other service writes either (spec.md §5).
type Updater struct {
	Log        *log.Logger
	Paths      types.Paths
	Store      *objectstore.Store
	FileSystem filesystem.FileSystem

	// Metrics is optional; nil disables the cache-readiness gauge.
	Metrics *metrics.Recorder
}

// Iterate runs a single reconciliation pass and is wired as the
// lifecycle.Service's Iterate callback at a fixed 60s interval
// (spec.md §4.2, §4.1).
func (u *Updater) Iterate(ctx context.Context) error {
	if err := utils.EnsureDirExists(u.Paths.DataDir()); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	if err := u.resetSyncDir(); err != nil {
		return fmt.Errorf("reset sync dir: %w", err)
	}
	defer os.RemoveAll(u.Paths.SyncDir())

	listing, err := u.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("list bucket: %w", err)
	}

	prev, err := u.loadManifest()
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	next := types.Manifest{}
	for key, entry := range listing {
		dir, relevant := outputDir(u.Paths, key)
		if !relevant {
			continue
		}
		next[key] = entry

		_, statErr := os.Stat(dir)
		outputDirExists := statErr == nil
		if prev.Status(entry, outputDirExists) == types.Ignore {
			continue
		}

		if err := u.download(ctx, key, dir); err != nil {
			return fmt.Errorf("sync %s: %w", key, err)
		}
		u.Log.Printf("synced %s -> %s", key, dir)
	}

	if err := u.purgeStale(prev, next); err != nil {
		return fmt.Errorf("purge stale entries: %w", err)
	}

	if err := u.saveManifest(next); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}

	ready := len(next) > 0
	if ready {
		if err := utils.EnsureDirExists(u.Paths.DataDir()); err != nil {
			return err
		}
		if err := os.WriteFile(u.Paths.ReadyLock(), nil, 0644); err != nil {
			return fmt.Errorf("touch ready.lock: %w", err)
		}
	}
	if u.Metrics != nil {
		if ready {
			u.Metrics.CacheReady.Set(1)
		} else {
			u.Metrics.CacheReady.Set(0)
		}
	}

	return nil
}

func (u *Updater) resetSyncDir() error {
	if err := os.RemoveAll(u.Paths.SyncDir()); err != nil {
		return err
	}
	return utils.EnsureDirExists(u.Paths.SyncDir())
}

func (u *Updater) loadManifest() (types.Manifest, error) {
	data, err := os.ReadFile(u.Paths.ManifestFile())
	if os.IsNotExist(err) {
		return types.Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := types.Manifest{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (u *Updater) saveManifest(m types.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return utils.AtomicWriteFile(u.Paths.ManifestFile(), data, 0644)
}

// download streams key into sync/, then extracts it into a freshly
// emptied dir (spec.md §4.2 step 5). A failure here aborts the
// iteration; a partially-written dir is left for the next iteration to
// re-detect and redo.
func (u *Updater) download(ctx context.Context, key, dir string) error {
	archive, err := os.CreateTemp(u.Paths.SyncDir(), "sync-*.tar.bz2")
	if err != nil {
		return err
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	if err := u.Store.Download(ctx, key, archive); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	if err := u.FileSystem.Remove(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("empty output dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return fmt.Errorf("create output parent dir: %w", err)
	}
	if err := u.FileSystem.Create(dir); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if _, err := utils.RunCmd(extractCmd(archive.Name(), dir)); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	return nil
}

// PruneCache forces a redownload of every manifest entry whose key has
// one of names as a path prefix (or every entry, if names is empty) on
// the next regular Iterate: it deletes the cached output directory and
// drops the entry from the persisted manifest, supplementing the
// reconciliation loop with an operator-triggered equivalent of the
// teacher's `mistry build --rebuild` (spec.md §10).
func (u *Updater) PruneCache(names []string) error {
	prev, err := u.loadManifest()
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	next := types.Manifest{}
	for key, entry := range prev {
		if !matchesAny(key, names) {
			next[key] = entry
			continue
		}
		dir, relevant := outputDir(u.Paths, key)
		if relevant {
			if err := u.FileSystem.Remove(dir); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("prune %s: %w", dir, err)
			}
			u.Log.Printf("pruned %s", dir)
		}
	}

	return u.saveManifest(next)
}

func matchesAny(key string, names []string) bool {
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if strings.HasPrefix(key, n) {
			return true
		}
	}
	return false
}

// purgeStale removes the output directory of every entry present in
// prev but absent from next (spec.md §4.2 step 6).
func (u *Updater) purgeStale(prev, next types.Manifest) error {
	for key, entry := range prev {
		if _, stillPresent := next[key]; stillPresent {
			continue
		}
		dir, relevant := outputDir(u.Paths, entry.Key)
		if !relevant {
			continue
		}
		if err := u.FileSystem.Remove(dir); err != nil && !os.IsNotExist(err) {
			return err
		}
		u.Log.Printf("purged stale %s", dir)
	}
	return nil
}
