package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/appfoundry/buildfleet/pkg/types"
)

// fakeBackend is a minimal PlatformBackend whose Build/Pack behavior is
// set per test, used to drive pipeline.Build/Pack without any real
// native toolchain.
type fakeBackend struct {
	buildErr error
	packPath string
	packErr  error
}

func (f *fakeBackend) Platform() types.Platform           { return types.Windows }
func (f *fakeBackend) BuildJSON(j *types.Job) ([]byte, error) { return []byte("{}"), nil }
func (f *fakeBackend) Build(ctx context.Context, j *types.Job, out, outErr *os.File) error {
	return f.buildErr
}
func (f *fakeBackend) Pack(j *types.Job) (string, error) { return f.packPath, f.packErr }

func testJobForBuild(t *testing.T) *types.Job {
	t.Helper()
	jr := types.JobRequest{
		Code:       "A1",
		Platforms:  []string{"windows"},
		Config:     "config.xml",
		Source:     "source.zip",
		LibVersion: "1.0.0",
	}
	j, err := types.NewJob(jr, types.Windows, 1000, t.TempDir())
	failIfError(err, t)
	if err := os.MkdirAll(j.RootPath, 0755); err != nil {
		t.Fatal(err)
	}
	return j
}

// TestBuildPreservesBackendStageError is the regression test for losing
// a platform backend's specific public message (e.g. Windows' overlong
// project name error) behind the generic "The native build tool
// reported an error." wrap.
func TestBuildPreservesBackendStageError(t *testing.T) {
	j := testJobForBuild(t)
	want := types.NewStageError("overlong project name", "Windows compilations can't have names longer than 40 characters. Choose a shorter name.")
	backend := &fakeBackend{buildErr: want}

	se := Build(context.Background(), j, backend)
	if se == nil {
		t.Fatal("expected a StageError")
	}
	assertEq(se.MsgPublic, want.MsgPublic, t)
	assertEq(se.Message, want.Message, t)
}

func TestBuildWrapsGenericBackendError(t *testing.T) {
	j := testJobForBuild(t)
	backend := &fakeBackend{buildErr: fmt.Errorf("exit status 65")}

	se := Build(context.Background(), j, backend)
	if se == nil {
		t.Fatal("expected a StageError")
	}
	assertEq(se.MsgPublic, "The native build tool reported an error.", t)
}

func TestPackMissingArtifactIsAnError(t *testing.T) {
	j := testJobForBuild(t)
	backend := &fakeBackend{packPath: filepath.Join(j.OutPath, "missing.zip")}

	se := Pack(j, backend)
	if se == nil {
		t.Fatal("expected a StageError when Pack's reported artifact doesn't exist")
	}
}
