package types

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Workspace subpaths, fixed relative to a job's workspace root
// (spec.md §3).
const (
	WorkspaceDir = "workspace"
	TmpDir       = "tmp"
	CertsDir     = "certs"
	IconsDir     = "icons"
	SplashesDir  = "splashes"
	OutDir       = "out"

	ConfigJSONFname = "config.json"
	ConfigXMLFname  = "config.xml"
	SourceZipFname  = "source.zip"
	CordovaLogFname = "cordova.log"
	StdoutLogFname  = "stdout.log"
)

// JobRequest is the wire shape fetched from the backend
// (POST /api/v1/compilation, spec.md §6).
type JobRequest struct {
	Code       string          `json:"code"`
	Platforms  []string        `json:"platforms"`
	Config     string          `json:"config"`
	Source     string          `json:"source"`
	LibVersion string          `json:"libVersion"`
	Key        json.RawMessage `json:"key,omitempty"`
	IconURL    string          `json:"iconUrl,omitempty"`
	SplashURL  string          `json:"splashUrl,omitempty"`
}

// Validate checks the fields the core consumes are present
// (spec.md §4.3 step 3).
func (jr *JobRequest) Validate() error {
	if jr.Code == "" {
		return fmt.Errorf("job request missing code")
	}
	if len(jr.Platforms) == 0 {
		return fmt.Errorf("job request missing platforms")
	}
	if jr.Config == "" {
		return fmt.Errorf("job request missing config")
	}
	if jr.Source == "" {
		return fmt.Errorf("job request missing source")
	}
	if jr.LibVersion == "" {
		return fmt.Errorf("job request missing libVersion")
	}
	return nil
}

// Job is the resolved, path-bearing runtime object handed to the build
// child. It precomputes every workspace path at construction time, the way
// the teacher's Job precomputes PendingBuildPath/ReadyBuildPath/etc.
type Job struct {
	Code       string
	Platform   Platform
	StartTime  int64 // milliseconds since epoch; (Code, StartTime) names the workspace
	Config     string
	Source     string
	LibVersion string
	Key        *SigningKey
	IconURL    string
	SplashURL  string

	// ProjectName is the Cordova project's display name (config.xml's
	// <name> element), populated by the prepare stage once config.xml
	// has been parsed. Empty until then.
	ProjectName string

	// Signed reports whether the resolved Key carries signing material.
	// Android unsigned jobs produce debug+release-unsigned artifacts;
	// signed jobs produce only release (spec.md §3, §4.4).
	Signed bool

	RootPath      string
	WorkspacePath string
	TmpPath       string
	CertsPath     string
	IconsPath     string
	SplashesPath  string
	OutPath       string

	ConfigJSONPath string
	ConfigXMLPath  string
	SourceZipPath  string
	CordovaLogPath string
	StdoutLogPath  string
}

// dirName derives the fixed-shape workspace directory name from Code and
// StartTime (spec.md §3: "projects/{code}_{starttime}/").
func dirName(code string, startTime int64) string {
	return fmt.Sprintf("%s_%d", code, startTime)
}

// NewJob resolves a JobRequest plus an acquisition timestamp into a Job,
// computing every workspace subpath under projectsPath. platform is the
// first element of jr.Platforms (spec.md §4.3 step 3).
func NewJob(jr JobRequest, platform Platform, startTime int64, projectsPath string) (*Job, error) {
	key, err := ResolveSigningKey(jr.Key, platform)
	if err != nil {
		return nil, fmt.Errorf("resolve signing key: %w", err)
	}

	j := &Job{
		Code:       jr.Code,
		Platform:   platform,
		StartTime:  startTime,
		Config:     jr.Config,
		Source:     jr.Source,
		LibVersion: jr.LibVersion,
		Key:        key,
		IconURL:    jr.IconURL,
		SplashURL:  jr.SplashURL,
		Signed:     key.Signed(),
	}

	j.setPaths(filepath.Join(projectsPath, dirName(j.Code, j.StartTime)))
	return j, nil
}

// NewJobAt is NewJob for the build child: it already knows its
// workspace root (derived from the --path config.json it was handed)
// and doesn't need to re-derive it from a projects root.
func NewJobAt(jr JobRequest, platform Platform, startTime int64, rootPath string) (*Job, error) {
	key, err := ResolveSigningKey(jr.Key, platform)
	if err != nil {
		return nil, fmt.Errorf("resolve signing key: %w", err)
	}

	j := &Job{
		Code:       jr.Code,
		Platform:   platform,
		StartTime:  startTime,
		Config:     jr.Config,
		Source:     jr.Source,
		LibVersion: jr.LibVersion,
		Key:        key,
		IconURL:    jr.IconURL,
		SplashURL:  jr.SplashURL,
		Signed:     key.Signed(),
	}
	j.setPaths(rootPath)
	return j, nil
}

// setPaths derives every workspace subpath from an already-known
// RootPath.
func (j *Job) setPaths(rootPath string) {
	j.RootPath = rootPath
	j.WorkspacePath = filepath.Join(j.RootPath, WorkspaceDir)
	j.TmpPath = filepath.Join(j.RootPath, TmpDir)
	j.CertsPath = filepath.Join(j.RootPath, CertsDir)
	j.IconsPath = filepath.Join(j.RootPath, IconsDir)
	j.SplashesPath = filepath.Join(j.RootPath, SplashesDir)
	j.OutPath = filepath.Join(j.RootPath, OutDir)

	j.ConfigJSONPath = filepath.Join(j.RootPath, ConfigJSONFname)
	j.ConfigXMLPath = filepath.Join(j.RootPath, ConfigXMLFname)
	j.SourceZipPath = filepath.Join(j.RootPath, SourceZipFname)
	j.CordovaLogPath = filepath.Join(j.RootPath, CordovaLogFname)
	j.StdoutLogPath = filepath.Join(j.RootPath, StdoutLogFname)
}

// ParseDirName recovers (code, startTime) from a workspace directory
// name built by dirName, used by the build child to reconstruct its Job
// from the config.json path it was handed.
func ParseDirName(name string) (code string, startTime int64, err error) {
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed workspace directory name %q", name)
	}
	startTime, err = strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed workspace directory name %q: %w", name, err)
	}
	return name[:idx], startTime, nil
}

// NowMillis returns the current time as milliseconds since epoch, the
// resolution spec.md §3 uses for StartTime.
func NowMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// ArtifactName is the fixed-shape output archive name written by pack()
// (spec.md §4.4): out/{code}_{platform}_{epochmillis}.zip.
func (j *Job) ArtifactName(epochMillis int64) string {
	return fmt.Sprintf("%s_%s_%d.zip", j.Code, j.Platform, epochMillis)
}
