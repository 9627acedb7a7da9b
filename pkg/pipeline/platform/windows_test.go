package platform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/appfoundry/buildfleet/pkg/types"
)

// TestValidateProjectNameBoundary exercises spec.md §8 scenario 3: a
// project name of exactly 40 characters is accepted, 41 is rejected.
func TestValidateProjectNameBoundary(t *testing.T) {
	name40 := strings.Repeat("a", 40)
	name41 := strings.Repeat("a", 41)

	failIfError(validateProjectName(name40), t)

	if err := validateProjectName(name41); err == nil {
		t.Fatal("expected a 41-character project name to be rejected")
	}
}

// TestWindowsBuildRejectsOverlongName checks the rejection happens
// before Build touches the toolchain at all: Code (an opaque job ID)
// must not be what's checked, only the parsed ProjectName.
func TestWindowsBuildRejectsOverlongName(t *testing.T) {
	j := testJob(t, types.Windows)
	j.Code = "A1" // short opaque ID: must not satisfy the length check itself
	j.ProjectName = strings.Repeat("a", 41)

	w := &Windows{}
	err := w.Build(context.Background(), j, os.Stdout, os.Stderr)
	if err == nil {
		t.Fatal("expected an error for an overlong project name")
	}
	if !strings.Contains(err.Error(), "40 characters") {
		t.Fatalf("expected the overlong-name error, got %v", err)
	}
}

func TestWindowsBuildJSONUnsigned(t *testing.T) {
	j := testJob(t, types.Windows)
	w := &Windows{}

	out, err := w.BuildJSON(j)
	failIfError(err, t)
	assertEq(string(out), "{}", t)
}

func TestWindowsBuildJSONSigned(t *testing.T) {
	j := testJob(t, types.Windows)
	j.Signed = true
	j.Key = &types.SigningKey{Windows: &types.WindowsKey{Thumbprint: "abc123", Publisher: "CN=Me"}}
	w := &Windows{}

	out, err := w.BuildJSON(j)
	failIfError(err, t)

	want := `{"windows":{"pfx":"` + w.pfxPath(j) + `","publisher":"CN=Me","thumbprint":"abc123"}}`
	assertEq(string(out), want, t)
}

func TestWindowsPackSelectsKnownExtensions(t *testing.T) {
	j := testJob(t, types.Windows)
	writeFile(t, filepath.Join(j.WorkspacePath, "platforms", "windows", "AppPackages", "MyApp_x86.appx"), "x86-bytes")
	writeFile(t, filepath.Join(j.WorkspacePath, "platforms", "windows", "AppPackages", "MyApp_x64.appx"), "x64-bytes")
	writeFile(t, filepath.Join(j.WorkspacePath, "platforms", "windows", "AppPackages", "MyApp.msix"), "msix-bytes")
	writeFile(t, filepath.Join(j.WorkspacePath, "platforms", "windows", "notes.txt"), "irrelevant")

	w := &Windows{}
	dest, err := w.Pack(j)
	failIfError(err, t)

	names := zipEntryNames(t, dest)
	assertEq(len(names), 3, t)
}

func TestWindowsPackNoArtifacts(t *testing.T) {
	j := testJob(t, types.Windows)
	if err := os.MkdirAll(j.WorkspacePath, 0755); err != nil {
		t.Fatal(err)
	}
	w := &Windows{}
	if _, err := w.Pack(j); err == nil {
		t.Fatal("expected an error when no appx/appxbundle/msix artifacts were produced")
	}
}
