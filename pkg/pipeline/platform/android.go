// Package platform holds the four concrete pipeline.PlatformBackend
// implementations covering the five target platforms; Apple serves both
// iOS and OSX (spec.md §4.4).
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/appfoundry/buildfleet/pkg/pipeline"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// Android runs inside a Docker container (RunsInContainer==true): it
// downloads the keystore when signed, and runs two native builds
// (debug+release-unsigned) when unsigned or one (release) when signed
// (spec.md §4.4 "Android"). It runs no SDK license-acceptance step itself.
type Android struct {
	// ImageTar is the build context for the per-(platform,libVersion)
	// Docker image, built once and cached by pipeline.ContainerRun.
	ImageTar []byte

	// CacheDir is the Updater-populated SDK/platform/libs cache,
	// bind-mounted into the container as /data.
	CacheDir string
}

var apkPathPattern = regexp.MustCompile(`(?i)(app|platforms/android)/build/outputs/apk/.*\.apk$`)

func (a *Android) Platform() types.Platform { return types.Android }

// BuildJSON emits the android.json signing descriptor: present only when
// the job is signed, pointing at the j.CertsPath location Build then
// downloads the keystore to (pipeline.Build calls BuildJSON before
// Build) (spec.md §4.4 "build").
func (a *Android) BuildJSON(j *types.Job) ([]byte, error) {
	doc := map[string]any{}
	if j.Signed && j.Key != nil && j.Key.Android != nil {
		doc["android"] = map[string]string{
			"keystore":         a.keystorePath(j),
			"alias":            j.Key.Android.Alias,
			"keystorePassword": j.Key.Android.KeystorePassword,
			"keyPassword":      j.Key.Android.KeyPassword,
		}
	}
	return json.Marshal(doc)
}

// buildVariants returns the native build invocations Build makes: one
// ("release") when signed, two ("debug" then "release-unsigned") when
// not — exactly the invocation count spec.md §8's boundary behaviors
// require.
func buildVariants(signed bool) []string {
	if signed {
		return []string{"release"}
	}
	return []string{"debug", "release-unsigned"}
}

// Build downloads the keystore when signed and runs the native build for
// each of buildVariants. It does not accept SDK licenses.
func (a *Android) Build(ctx context.Context, j *types.Job, out, outErr *os.File) error {
	if j.Signed {
		if err := a.downloadKeystore(ctx, j); err != nil {
			return fmt.Errorf("download keystore: %w", err)
		}
	}

	for _, variant := range buildVariants(j.Signed) {
		if err := a.runBuild(ctx, j, out, outErr, variant); err != nil {
			return err
		}
	}
	return nil
}

func (a *Android) runBuild(ctx context.Context, j *types.Job, out, outErr *os.File, variant string) error {
	fmt.Fprintf(out, "android: building %s variant\n", variant)
	exitCode, err := pipeline.ContainerRun(ctx, j, a.ImageTar, a.CacheDir, out, outErr)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("android build (%s) exited with code %d", variant, exitCode)
	}
	return nil
}

func (a *Android) keystorePath(j *types.Job) string {
	return filepath.Join(j.CertsPath, "release.keystore")
}

func (a *Android) downloadKeystore(ctx context.Context, j *types.Job) error {
	if j.Key == nil || j.Key.Android == nil || j.Key.Android.Keystore == "" {
		return nil
	}
	if err := utils.EnsureDirExists(j.CertsPath); err != nil {
		return err
	}
	return pipeline.FetchInto(ctx, j.Key.Android.Keystore, a.keystorePath(j))
}

// Pack zips every produced APK into a single output archive, matching
// "output ZIP contains both APKs" for unsigned jobs and "only the
// release APK" for signed jobs (spec.md §8).
func (a *Android) Pack(j *types.Job) (string, error) {
	var apks []string
	err := filepath.Walk(j.WorkspacePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && apkPathPattern.MatchString(path) {
			apks = append(apks, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(apks) == 0 {
		return "", fmt.Errorf("no APKs found under %s", j.WorkspacePath)
	}

	dest := filepath.Join(j.OutPath, j.ArtifactName(epochMillisNow()))
	if err := zipFiles(dest, apks, j.WorkspacePath); err != nil {
		return "", err
	}
	return dest, nil
}
