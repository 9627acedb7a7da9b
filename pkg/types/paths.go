package types

import "path/filepath"

// Cache subtree names under data/ (spec.md §3, §4.2).
const (
	PlatformsDir = "platforms"
	PluginsDir   = "plugins"
	CompilersDir = "compilers"
	LibsDir      = "libs"
	SDKsDir      = "sdks"
)

// ReadyLockFname gates the Builder: its presence means the Updater has
// populated the cache at least once (spec.md §3, §4.1).
const ReadyLockFname = "ready.lock"

// ManifestFname is the persisted mirror of the last-seen object-store
// listing (spec.md §3).
const ManifestFname = "s3_structure.json"

// SyncDir is the Updater's transient scratch directory, recreated at the
// start of every iteration and owned exclusively by the Updater
// (spec.md §5).
const SyncDir = "sync"

// DataDir is the root of the dependency cache.
const DataDir = "data"

// ProjectsDir is the root of all per-job workspaces.
const ProjectsDir = "projects"

// ServiceID names one of the four sibling services (updater, builder,
// notifier, adminapi). Typed rather than a bare string so the Admin
// API's service registry, the lockfile/pidfile/logfile path helpers
// below, and the SSE broker that streams a service's log all key off
// the same identifier type instead of ad-hoc strings (spec.md §4.1,
// §4.6).
type ServiceID string

// Paths resolves the fixed filesystem layout under a single workspace
// root, shared by all four services (spec.md §6 "Persisted state layout").
type Paths struct {
	Root string
}

func NewPaths(root string) Paths { return Paths{Root: root} }

func (p Paths) DataDir() string      { return filepath.Join(p.Root, DataDir) }
func (p Paths) SyncDir() string      { return filepath.Join(p.Root, SyncDir) }
func (p Paths) ProjectsDir() string  { return filepath.Join(p.Root, ProjectsDir) }
func (p Paths) ReadyLock() string    { return filepath.Join(p.DataDir(), ReadyLockFname) }
func (p Paths) ManifestFile() string { return filepath.Join(p.Root, ManifestFname) }

// WorkingLock is the zero-byte file advertising that serviceID is
// currently inside a job iteration (spec.md §3, §4.1).
func (p Paths) WorkingLock(serviceID ServiceID) string {
	return filepath.Join(p.Root, string(serviceID)+".lock")
}

// PidFile holds serviceID's OS process id, the concrete substitute the
// Admin API's /proc introspection (pkg/adminapi.procStats) reads for
// Started/CPU/Memory in place of the external process supervisor spec.md
// §4.6 assumes (spec.md §4.6).
func (p Paths) PidFile(serviceID ServiceID) string {
	return filepath.Join(p.Root, string(serviceID)+".pid")
}

// LogFile is serviceID's captured stdout/stderr, tailed by the Admin
// API's GET /api/services/{id}/log (spec.md §4.6).
func (p Paths) LogFile(serviceID ServiceID) string {
	return filepath.Join(p.Root, string(serviceID)+".log")
}

// CacheDir returns the on-disk directory for a single cache subtree
// (folder, name) pair, e.g. CacheDir(PlatformsDir, "android-28") ->
// data/platforms/android-28 (spec.md §4.2 derivation table).
func (p Paths) CacheDir(folder, name string) string {
	return filepath.Join(p.DataDir(), folder, name)
}

// ProjectRoot returns the per-job workspace root for (code, startTime)
// (spec.md §3: "projects/{code}_{starttime}/").
func (p Paths) ProjectRoot(code string, startTime int64) string {
	return filepath.Join(p.ProjectsDir(), dirName(code, startTime))
}
