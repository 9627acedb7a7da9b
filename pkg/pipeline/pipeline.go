// Package pipeline implements the five-stage build pipeline run by the
// build child (spec.md §4.4): init, create, prepare, build, pack. Each
// stage returns a *types.StageError on failure, terminating the pipeline;
// the Run caller augments the final error with the tail of cordova.log
// (spec.md §4.3 step 6).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// PlatformBackend is the capability set a target platform implements
// (spec.md §9 "Class hierarchy -> variants + shared helper"): the
// Builder base with per-platform subclasses becomes this interface, with
// four concrete implementations under pkg/pipeline/platform covering the
// five target platforms (Apple serves both iOS and OSX).
type PlatformBackend interface {
	// Platform returns the types.Platform this backend implements.
	Platform() types.Platform

	// BuildJSON emits the signing descriptor file consumable by the
	// native tool (spec.md §4.4 "build").
	BuildJSON(j *types.Job) ([]byte, error)

	// Build runs the platform-specific build sequence. out/outErr
	// receive the native tool's combined and separate stderr output.
	Build(ctx context.Context, j *types.Job, out, outErr *os.File) error

	// Pack locates produced artifacts and zips them into
	// out/{code}_{platform}_{epochmillis}.zip, returning the path of
	// the single produced archive.
	Pack(j *types.Job) (string, error)
}

// CacheRoot locates the host package-manager cache consulted/maintained
// by the init stage; exposed as a var so tests can point it elsewhere.
var CacheRoot = "libs"

// Init fetches config.xml and source.zip from the job's embedded URLs
// and ensures the cordova-lib@{LibVersion} directory under CacheRoot
// exists (spec.md §4.4 "init"). It does not check whether the library
// is installed there and does not invoke a package manager.
func Init(ctx context.Context, j *types.Job, configRoot string) *types.StageError {
	if err := utils.EnsureDirExists(j.RootPath); err != nil {
		return types.NewStageError("init: ensure workspace root: "+err.Error(), "Could not create the job workspace.")
	}

	if err := fetchInto(ctx, j.Config, j.ConfigXMLPath, configRoot); err != nil {
		return types.NewStageError("init: fetch config.xml: "+err.Error(), "Could not download the project manifest.")
	}
	if err := fetchInto(ctx, j.Source, j.SourceZipPath, configRoot); err != nil {
		return types.NewStageError("init: fetch source.zip: "+err.Error(), "Could not download the project sources.")
	}

	libDir := fmt.Sprintf("%s/cordova-lib@%s", CacheRoot, j.LibVersion)
	if err := utils.EnsureDirExists(libDir); err != nil {
		return types.NewStageError("init: ensure lib dir: "+err.Error(), "Could not prepare the build library.")
	}

	return nil
}

// Create materializes the project workspace: invokes the native-lib
// project creator, copies config.xml in, extracts source.zip, locates
// the web root and copies icons/splashes (spec.md §4.4 "create").
func Create(ctx context.Context, j *types.Job) *types.StageError {
	for _, dir := range []string{j.TmpPath, j.CertsPath, j.IconsPath, j.SplashesPath, j.OutPath} {
		if err := utils.EnsureDirExists(dir); err != nil {
			return types.NewStageError("create: "+err.Error(), "Could not create the job workspace.")
		}
	}

	if out, err := utils.RunCmd([]string{"cordova", "create", j.WorkspacePath}); err != nil {
		return types.NewStageError("create: invoke project creator: "+err.Error()+": "+out, "Could not create the native project.")
	}

	if err := copyFile(j.ConfigXMLPath, filepath.Join(j.WorkspacePath, types.ConfigXMLFname)); err != nil {
		return types.NewStageError("create: copy config.xml: "+err.Error(), "Could not assemble the project workspace.")
	}

	if err := extractZip(j.SourceZipPath, j.TmpPath); err != nil {
		return types.NewStageError("create: extract source.zip: "+err.Error(), "The project sources archive could not be extracted.")
	}

	webRoot, err := findWebRoot(j.TmpPath)
	if err != nil {
		return types.NewStageError("create: locate web root: "+err.Error(), "Could not locate index.html in the project sources.")
	}
	if err := copyTree(webRoot, j.WorkspacePath); err != nil {
		return types.NewStageError("create: copy web root: "+err.Error(), "Could not assemble the project workspace.")
	}

	doc, err := parseConfigXML(j.ConfigXMLPath)
	if err != nil {
		return types.NewStageError("create: parse config.xml: "+err.Error(), "The project manifest could not be parsed.")
	}
	if err := copyConfigAssets(doc, webRoot, j.WorkspacePath); err != nil {
		return types.NewStageError("create: copy config assets: "+err.Error(), "Could not assemble the project workspace.")
	}

	for _, sub := range []string{"hooks", "node_modules"} {
		src := filepath.Join(j.TmpPath, sub)
		if _, err := os.Stat(src); err != nil {
			continue // optional subtree, not present in every project
		}
		if err := copyTree(src, filepath.Join(j.WorkspacePath, sub)); err != nil {
			return types.NewStageError("create: copy "+sub+": "+err.Error(), "Could not assemble the project workspace.")
		}
	}

	if err := fetchIfPresent(ctx, j.IconURL, j.IconsPath); err != nil {
		return types.NewStageError("create: fetch icon: "+err.Error(), "Could not download the app icon.")
	}
	if err := fetchIfPresent(ctx, j.SplashURL, j.SplashesPath); err != nil {
		return types.NewStageError("create: fetch splash: "+err.Error(), "Could not download the splash screen.")
	}

	return nil
}

// Prepare parses config.xml, migrates legacy cocoon:* elements, installs
// engines/plugins, and appends the installers' and the native prepare's
// output to cordova.log (spec.md §4.4 "prepare"). The build stage's
// native-tool output goes to stdout.log, not cordova.log.
func Prepare(ctx context.Context, j *types.Job) *types.StageError {
	doc, err := parseConfigXML(j.ConfigXMLPath)
	if err != nil {
		return types.NewStageError("prepare: parse config.xml: "+err.Error(), "The project manifest could not be parsed.")
	}
	migrateCocoonElements(doc)
	j.ProjectName = doc.Name

	logFile, err := os.OpenFile(j.CordovaLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return types.NewStageError("prepare: open cordova.log: "+err.Error(), "Could not open the build log.")
	}
	defer logFile.Close()

	if err := installEngines(ctx, doc, j.Platform, j.WorkspacePath, logFile); err != nil {
		return types.NewStageError("prepare: install engines: "+err.Error(), "Could not install the required build engine.")
	}
	if err := installPlugins(ctx, doc, j.WorkspacePath, logFile); err != nil {
		return types.NewStageError("prepare: install plugins: "+err.Error(), "Could not install the required plugins.")
	}

	out, err := utils.RunCmdIn(j.WorkspacePath, []string{"cordova", "prepare", string(j.Platform)})
	fmt.Fprint(logFile, out)
	if err != nil {
		return types.NewStageError("prepare: invoke native prepare: "+err.Error(), "Could not prepare the native project.")
	}

	return nil
}

// Build invokes backend.Build, the platform-specific build sequence
// (spec.md §4.4 "build").
func Build(ctx context.Context, j *types.Job, backend PlatformBackend) *types.StageError {
	buildJSON, err := backend.BuildJSON(j)
	if err != nil {
		return types.NewStageError("build: buildJson: "+err.Error(), "Could not prepare the signing configuration.")
	}
	if err := os.WriteFile(j.RootPath+"/build.json", buildJSON, 0644); err != nil {
		return types.NewStageError("build: write build.json: "+err.Error(), "Could not write the signing configuration.")
	}

	out, err := os.OpenFile(j.StdoutLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return types.NewStageError("build: open stdout.log: "+err.Error(), "Could not open the build log.")
	}
	defer out.Close()

	outErrPath := j.StdoutLogPath + ".err"
	outErr, err := os.OpenFile(outErrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return types.NewStageError("build: open stderr log: "+err.Error(), "Could not open the build log.")
	}
	defer outErr.Close()

	if err := backend.Build(ctx, j, out, outErr); err != nil {
		var se *types.StageError
		if errors.As(err, &se) {
			return se
		}
		return types.NewStageError("build: "+err.Error(), "The native build tool reported an error.")
	}

	return nil
}

// Pack invokes backend.Pack, producing exactly one artifact ZIP in out/
// (spec.md §4.4 "pack").
func Pack(j *types.Job, backend PlatformBackend) *types.StageError {
	path, err := backend.Pack(j)
	if err != nil {
		return types.NewStageError("pack: "+err.Error(), "Could not produce the build artifact.")
	}
	if _, err := os.Stat(path); err != nil {
		return types.NewStageError("pack: missing artifact: "+err.Error(), "No build artifacts were produced.")
	}
	return nil
}

// Run executes all five stages in sequence against backend, stopping at
// the first failing stage. The caller (the builder service's runChild,
// spec.md §4.3 step 6) augments the failure's MsgPublic with the tail of
// cordova.log; Run itself leaves MsgPublic untouched so that single
// augmentation happens exactly once, covering this path as well as the
// child-exit and watchdog paths that never reach Run at all.
func Run(ctx context.Context, j *types.Job, backend PlatformBackend, configRoot string) *types.StageError {
	if se := Init(ctx, j, configRoot); se != nil {
		return se
	}
	if se := Create(ctx, j); se != nil {
		return se
	}
	if se := Prepare(ctx, j); se != nil {
		return se
	}
	if se := Build(ctx, j, backend); se != nil {
		return se
	}
	if se := Pack(j, backend); se != nil {
		return se
	}
	return nil
}
