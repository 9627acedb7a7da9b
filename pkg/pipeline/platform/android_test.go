package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/appfoundry/buildfleet/pkg/types"
)

// TestBuildVariantsInvocationCount exercises spec.md §8's boundary
// behaviors directly: a signed Android job makes exactly one native
// build invocation, an unsigned one makes exactly two.
func TestBuildVariantsInvocationCount(t *testing.T) {
	assertEq(len(buildVariants(true)), 1, t)
	assertEq(buildVariants(true)[0], "release", t)

	unsigned := buildVariants(false)
	assertEq(len(unsigned), 2, t)
	assertEq(unsigned[0], "debug", t)
	assertEq(unsigned[1], "release-unsigned", t)
}

func TestAndroidBuildJSONUnsigned(t *testing.T) {
	j := testJob(t, types.Android)
	a := &Android{}

	out, err := a.BuildJSON(j)
	failIfError(err, t)
	assertEq(string(out), "{}", t)
}

func TestAndroidBuildJSONSigned(t *testing.T) {
	j := testJob(t, types.Android)
	j.Signed = true
	j.Key = &types.SigningKey{Android: &types.AndroidKey{
		Alias:            "release",
		KeystorePassword: "kspass",
		KeyPassword:      "keypass",
	}}
	a := &Android{}

	out, err := a.BuildJSON(j)
	failIfError(err, t)

	wantKeystore := filepath.Join(j.CertsPath, "release.keystore")
	want := `{"android":{"alias":"release","keyPassword":"keypass","keystore":"` + wantKeystore + `","keystorePassword":"kspass"}}`
	assertEq(string(out), want, t)
}

// TestAndroidPackUnsigned exercises "output ZIP contains both APKs"
// (spec.md §8): when both a debug and a release-unsigned APK exist
// under the workspace, Pack zips both into the single output archive.
func TestAndroidPackUnsigned(t *testing.T) {
	j := testJob(t, types.Android)
	debug := filepath.Join(j.WorkspacePath, "app", "build", "outputs", "apk", "debug", "app-debug.apk")
	release := filepath.Join(j.WorkspacePath, "app", "build", "outputs", "apk", "release", "app-release-unsigned.apk")
	writeFile(t, debug, "debug-apk-bytes")
	writeFile(t, release, "release-unsigned-apk-bytes")
	writeFile(t, filepath.Join(j.WorkspacePath, "app", "build", "outputs", "apk", "debug", "output.json"), "{}")

	a := &Android{}
	dest, err := a.Pack(j)
	failIfError(err, t)

	names := zipEntryNames(t, dest)
	assertEq(len(names), 2, t)
}

// TestAndroidPackSigned exercises "only the release APK" (spec.md §8):
// a signed job produces exactly one release APK and Pack zips only it.
func TestAndroidPackSigned(t *testing.T) {
	j := testJob(t, types.Android)
	release := filepath.Join(j.WorkspacePath, "platforms", "android", "build", "outputs", "apk", "release", "app-release.apk")
	writeFile(t, release, "release-apk-bytes")

	a := &Android{}
	dest, err := a.Pack(j)
	failIfError(err, t)

	names := zipEntryNames(t, dest)
	assertEq(len(names), 1, t)
}

func TestAndroidPackNoArtifacts(t *testing.T) {
	j := testJob(t, types.Android)
	if err := os.MkdirAll(j.WorkspacePath, 0755); err != nil {
		t.Fatal(err)
	}
	a := &Android{}
	if _, err := a.Pack(j); err == nil {
		t.Fatal("expected an error when no APKs were produced")
	}
}
