package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/appfoundry/buildfleet/pkg/types"
)

func TestUbuntuBuildJSONAlwaysEmpty(t *testing.T) {
	j := testJob(t, types.Ubuntu)
	u := &Ubuntu{}

	out, err := u.BuildJSON(j)
	failIfError(err, t)
	assertEq(string(out), "{}", t)
}

func TestUbuntuPackSelectsDebPackages(t *testing.T) {
	j := testJob(t, types.Ubuntu)
	writeFile(t, filepath.Join(j.WorkspacePath, "platforms", "ubuntu", "build", "myapp_1.0_amd64.deb"), "deb-bytes")
	writeFile(t, filepath.Join(j.WorkspacePath, "platforms", "ubuntu", "build", "notes.txt"), "irrelevant")

	u := &Ubuntu{}
	dest, err := u.Pack(j)
	failIfError(err, t)

	names := zipEntryNames(t, dest)
	assertEq(len(names), 1, t)
}

func TestUbuntuPackNoArtifacts(t *testing.T) {
	j := testJob(t, types.Ubuntu)
	if err := os.MkdirAll(j.WorkspacePath, 0755); err != nil {
		t.Fatal(err)
	}
	u := &Ubuntu{}
	if _, err := u.Pack(j); err == nil {
		t.Fatal("expected an error when no .deb packages were produced")
	}
}
