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
)

var debPattern = regexp.MustCompile(`\.deb$`)

// Ubuntu runs inside a Docker container, same as Android, and is always
// unsigned: it only ever produces a debuild package (spec.md §4.4
// "Ubuntu").
type Ubuntu struct {
	ImageTar []byte
	CacheDir string
}

func (u *Ubuntu) Platform() types.Platform { return types.Ubuntu }

func (u *Ubuntu) BuildJSON(j *types.Job) ([]byte, error) {
	return json.Marshal(map[string]any{})
}

func (u *Ubuntu) Build(ctx context.Context, j *types.Job, out, outErr *os.File) error {
	fmt.Fprintln(out, "ubuntu: building debuild package")
	exitCode, err := pipeline.ContainerRun(ctx, j, u.ImageTar, u.CacheDir, out, outErr)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("ubuntu build exited with code %d", exitCode)
	}
	return nil
}

func (u *Ubuntu) Pack(j *types.Job) (string, error) {
	var debs []string
	err := filepath.Walk(j.WorkspacePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && debPattern.MatchString(path) {
			debs = append(debs, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(debs) == 0 {
		return "", fmt.Errorf("no .deb packages found under %s", j.WorkspacePath)
	}

	dest := filepath.Join(j.OutPath, j.ArtifactName(epochMillisNow()))
	if err := zipFiles(dest, debs, j.WorkspacePath); err != nil {
		return "", err
	}
	return dest, nil
}
