package platform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/appfoundry/buildfleet/pkg/types"
)

func TestAppleBuildJSONUnsigned(t *testing.T) {
	j := testJob(t, types.IOS)
	a := &Apple{TargetPlatform: types.IOS}

	out, err := a.BuildJSON(j)
	failIfError(err, t)
	assertEq(string(out), "{}", t)
}

func TestAppleBuildJSONSigned(t *testing.T) {
	j := testJob(t, types.IOS)
	j.Signed = true
	j.Key = &types.SigningKey{Apple: &types.AppleKey{Password: "p"}}
	a := &Apple{TargetPlatform: types.IOS}

	out, err := a.BuildJSON(j)
	failIfError(err, t)

	want := `{"ios":{"p12":"` + a.p12Path(j) + `","provisioning":"` + a.provisioningPath(j) + `"}}`
	assertEq(string(out), want, t)
}

func TestApplePackSelectsKnownExtensions(t *testing.T) {
	j := testJob(t, types.IOS)
	writeFile(t, filepath.Join(j.OutPath, "build", "MyApp.ipa"), "ipa-bytes")
	writeFile(t, filepath.Join(j.OutPath, "build", "MyApp.pkg"), "pkg-bytes")
	writeFile(t, filepath.Join(j.OutPath, "build", "MyApp.app", "Info.plist"), "plist-bytes")
	writeFile(t, filepath.Join(j.OutPath, "build", "notes.txt"), "irrelevant")

	a := &Apple{TargetPlatform: types.IOS}
	dest, err := a.Pack(j)
	failIfError(err, t)

	names := zipEntryNames(t, dest)
	assertEq(len(names), 2, t)
}

func TestApplePackNoArtifacts(t *testing.T) {
	j := testJob(t, types.OSX)
	if err := os.MkdirAll(j.OutPath, 0755); err != nil {
		t.Fatal(err)
	}
	a := &Apple{TargetPlatform: types.OSX}
	if _, err := a.Pack(j); err == nil {
		t.Fatal("expected an error when no .ipa/.pkg/.app artifacts were produced")
	}
}

func TestWriteSchemeFile(t *testing.T) {
	j := testJob(t, types.IOS)
	if err := os.MkdirAll(j.WorkspacePath, 0755); err != nil {
		t.Fatal(err)
	}
	a := &Apple{TargetPlatform: types.IOS}

	failIfError(a.writeSchemeFile(j), t)

	got, err := os.ReadFile(filepath.Join(j.WorkspacePath, j.Code+".xcscheme"))
	failIfError(err, t)
	if !strings.Contains(string(got), "<Scheme") {
		t.Fatalf("expected a scheme file, got %q", got)
	}
}

func TestDisableSigningInXCConfigs(t *testing.T) {
	j := testJob(t, types.IOS)
	xcconfig := filepath.Join(j.WorkspacePath, "config", "Release.xcconfig")
	other := filepath.Join(j.WorkspacePath, "config", "README.md")
	writeFile(t, xcconfig, "PRODUCT_NAME = MyApp\n")
	writeFile(t, other, "unrelated\n")

	a := &Apple{TargetPlatform: types.IOS}
	failIfError(a.disableSigningInXCConfigs(j), t)

	got, err := os.ReadFile(xcconfig)
	failIfError(err, t)
	if !strings.Contains(string(got), "CODE_SIGNING_ALLOWED = NO") {
		t.Fatalf("expected CODE_SIGNING_ALLOWED to be appended, got %q", got)
	}

	untouched, err := os.ReadFile(other)
	failIfError(err, t)
	assertEq(string(untouched), "unrelated\n", t)
}

// stubBinary puts a fake, always-succeeding executable named name on
// PATH for the duration of the test, so archiveAndExport's xcodebuild/
// productbuild invocations can be driven without the real toolchain.
func stubBinary(t *testing.T, name string) {
	t.Helper()
	bin := t.TempDir()
	script := filepath.Join(bin, name)
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// TestArchiveAndExportWritesExportOptionsPlist is the regression test
// for the missing `-exportOptionsPlist` file: with xcodebuild stubbed
// to always succeed, archiveAndExport must have written the plist to
// disk before its second (export) invocation, not just referenced it.
func TestArchiveAndExportWritesExportOptionsPlist(t *testing.T) {
	stubBinary(t, "xcodebuild")
	j := testJob(t, types.IOS)
	if err := os.MkdirAll(j.RootPath, 0755); err != nil {
		t.Fatal(err)
	}
	a := &Apple{TargetPlatform: types.IOS}

	failIfError(a.archiveAndExport(context.Background(), j, os.Stdout, os.Stderr), t)

	got, err := os.ReadFile(a.exportOptionsPlistPath(j))
	failIfError(err, t)
	if !strings.Contains(string(got), "<key>method</key>") {
		t.Fatalf("expected an export options plist, got %q", got)
	}
}

func TestArchiveAndExportOSXSkipsExportOptionsPlist(t *testing.T) {
	stubBinary(t, "xcodebuild")
	stubBinary(t, "productbuild")
	j := testJob(t, types.OSX)
	if err := os.MkdirAll(j.RootPath, 0755); err != nil {
		t.Fatal(err)
	}
	a := &Apple{TargetPlatform: types.OSX}

	failIfError(a.archiveAndExport(context.Background(), j, os.Stdout, os.Stderr), t)

	if _, err := os.Stat(a.exportOptionsPlistPath(j)); err == nil {
		t.Fatal("OSX exports via productbuild, not -exportOptionsPlist; expected no plist to be written")
	}
}

func TestInstalledProfilePath(t *testing.T) {
	got := installedProfilePath("ABCD-1234")
	if !strings.HasSuffix(got, filepath.Join("Provisioning Profiles", "ABCD-1234.mobileprovision")) {
		t.Fatalf("expected path to end in the UUID-named profile, got %q", got)
	}
}

func TestProvisioningUUIDPattern(t *testing.T) {
	sample := "UUID\n1234ABCD-12AB-34CD-56EF-1234567890AB\n"
	got := provisioningUUIDPattern.FindString(sample)
	assertEq(got, "1234ABCD-12AB-34CD-56EF-1234567890AB", t)
}
