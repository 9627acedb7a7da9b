package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/appfoundry/buildfleet/pkg/pipeline"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// windowsArchitectures lists the architectures built for every Windows
// job, signed or not (spec.md §4.4 "Windows").
var windowsArchitectures = []string{"x86", "x64", "arm"}

// maxProjectNameLen is the limit imposed by the Windows packaging
// tooling on the app display name (spec.md §8 scenario 3).
const maxProjectNameLen = 40

// Windows rejects overlong project names before touching the
// toolchain, imports the signing certificate via certutil when signed,
// builds all three architectures, then always removes the imported
// certificate.
type Windows struct{}

func (w *Windows) Platform() types.Platform { return types.Windows }

func (w *Windows) BuildJSON(j *types.Job) ([]byte, error) {
	doc := map[string]any{}
	if j.Signed && j.Key != nil && j.Key.Windows != nil {
		doc["windows"] = map[string]string{
			"pfx":        w.pfxPath(j),
			"thumbprint": j.Key.Windows.Thumbprint,
			"publisher":  j.Key.Windows.Publisher,
		}
	}
	return json.Marshal(doc)
}

func (w *Windows) pfxPath(j *types.Job) string {
	return filepath.Join(j.CertsPath, "release.pfx")
}

// validateProjectName fails fast on overlong names before anything else
// in the build runs (spec.md §8 scenario 3). It returns a *types.StageError
// directly, not a plain error, so pipeline.Build's unwrap recognizes it and
// this exact message reaches the user instead of a generic one.
func validateProjectName(name string) error {
	if len(name) > maxProjectNameLen {
		msg := "Windows compilations can't have names longer than 40 characters. Choose a shorter name."
		return types.NewStageError(msg, msg)
	}
	return nil
}

func (w *Windows) Build(ctx context.Context, j *types.Job, out, outErr *os.File) error {
	if err := validateProjectName(j.ProjectName); err != nil {
		return err
	}

	if !j.Signed {
		return w.buildArchitectures(ctx, j, out, outErr)
	}

	if err := w.importCertificate(ctx, j, out); err != nil {
		return fmt.Errorf("import certificate: %w", err)
	}
	defer w.removeCertificate(j, out)

	return w.buildArchitectures(ctx, j, out, outErr)
}

func (w *Windows) buildArchitectures(ctx context.Context, j *types.Job, out, outErr *os.File) error {
	for _, arch := range windowsArchitectures {
		fmt.Fprintf(out, "windows: building release (%s)\n", arch)
		if _, err := utils.RunCmd([]string{"cordova", "build", "windows", "--release", "--archs=" + arch}); err != nil {
			return fmt.Errorf("build %s: %w", arch, err)
		}
	}
	return nil
}

func (w *Windows) importCertificate(ctx context.Context, j *types.Job, out *os.File) error {
	if j.Key == nil || j.Key.Windows == nil {
		return nil
	}
	if err := utils.EnsureDirExists(j.CertsPath); err != nil {
		return err
	}
	if err := pipeline.FetchInto(ctx, j.Key.Windows.PFX, w.pfxPath(j)); err != nil {
		return fmt.Errorf("download pfx: %w", err)
	}
	_, err := utils.RunCmd([]string{"certutil", "-f", "-p", "", "-importpfx", w.pfxPath(j)})
	return err
}

// removeCertificate removes the imported signing certificate by its
// thumbprint, logging rather than propagating a sub-error since it
// runs as cleanup (spec.md §4.4 "Windows").
func (w *Windows) removeCertificate(j *types.Job, out *os.File) {
	if j.Key == nil || j.Key.Windows == nil {
		return
	}
	if _, err := utils.RunCmd([]string{"certutil", "-delstore", "My", j.Key.Windows.Thumbprint}); err != nil {
		fmt.Fprintf(out, "windows: cleanup: delstore: %s\n", err)
	}
}

func (w *Windows) Pack(j *types.Job) (string, error) {
	var artifacts []string
	err := filepath.Walk(j.WorkspacePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".appx" || ext == ".appxbundle" || ext == ".msix" {
			artifacts = append(artifacts, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(artifacts) == 0 {
		return "", fmt.Errorf("no build artifacts found under %s", j.WorkspacePath)
	}

	dest := filepath.Join(j.OutPath, j.ArtifactName(epochMillisNow()))
	if err := zipFiles(dest, artifacts, j.WorkspacePath); err != nil {
		return "", err
	}
	return dest, nil
}
