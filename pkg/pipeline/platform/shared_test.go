package platform

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/appfoundry/buildfleet/pkg/types"
)

func assertEq(a, b interface{}, t *testing.T) {
	if a != b {
		t.Fatalf("Expected %#v and %#v to be equal", a, b)
	}
}

func failIfError(err error, t *testing.T) {
	if err != nil {
		t.Fatal(err)
	}
}

// writeFile creates path with contents, making parent directories as
// needed, and fails the test on any error.
func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

func testJob(t *testing.T, platform types.Platform) *types.Job {
	t.Helper()
	jr := types.JobRequest{
		Code:       "A1",
		Platforms:  []string{string(platform)},
		Config:     "config.xml",
		Source:     "source.zip",
		LibVersion: "1.0.0",
	}
	j, err := types.NewJob(jr, platform, 1000, t.TempDir())
	failIfError(err, t)
	return j
}

// zipEntryNames opens the zip at path and returns the names of its
// entries, for asserting Pack produced exactly the expected archive.
func zipEntryNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	failIfError(err, t)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}
