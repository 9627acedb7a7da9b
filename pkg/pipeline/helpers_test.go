package pipeline

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
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

func writeFile(t *testing.T, path, contents string) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

const sampleConfigXML = `<?xml version="1.0" encoding="UTF-8"?>
<widget xmlns:cocoon="http://cocoon.io/ns/1.0">
  <name>MyApp</name>
  <icon src="res/icon.png"/>
  <splash src="res/splash.png"/>
  <engine name="android" spec="~7.0.0"/>
  <plugin name="cordova-plugin-camera" spec="~4.0.0">
    <param name="ANDROID_SUPPORT_V4_VERSION" value="27.+"/>
  </plugin>
  <cocoon:platform name="ios"/>
  <cocoon:plugin name="cordova-plugin-splashscreen"/>
</widget>
`

func TestParseConfigXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.xml")
	writeFile(t, path, sampleConfigXML)

	doc, err := parseConfigXML(path)
	failIfError(err, t)
	assertEq(doc.Name, "MyApp", t)
	assertEq(len(doc.Engines), 1, t)
	assertEq(len(doc.Plugins), 1, t)
	assertEq(len(doc.Cocoon), 1, t)
	assertEq(len(doc.CPlugin), 1, t)
	assertEq(len(doc.Icons), 1, t)
	assertEq(doc.Icons[0].Src, "res/icon.png", t)
	assertEq(len(doc.Splashes), 1, t)
}

func TestParseConfigXMLMissingFile(t *testing.T) {
	if _, err := parseConfigXML(filepath.Join(t.TempDir(), "missing.xml")); err == nil {
		t.Fatal("expected an error for a missing config.xml")
	}
}

func TestMigrateCocoonElements(t *testing.T) {
	doc := &configXML{
		Engines: []configEntry{{Name: "android", Spec: "~7.0.0"}},
		Cocoon:  []configEntry{{Name: "ios"}},
		CPlugin: []configEntry{{Name: "cordova-plugin-splashscreen", Params: []configParam{{Name: "k", Value: "v"}}}},
	}

	migrateCocoonElements(doc)

	if doc.Cocoon != nil {
		t.Fatal("expected Cocoon to be cleared after migration")
	}
	if doc.CPlugin != nil {
		t.Fatal("expected CPlugin to be cleared after migration")
	}
	assertEq(len(doc.Engines), 2, t)
	assertEq(doc.Engines[1].Name, "ios", t)
	assertEq(doc.Engines[1].Spec, "*", t)

	assertEq(len(doc.Plugins), 1, t)
	assertEq(doc.Plugins[0].Name, "cordova-plugin-splashscreen", t)
	assertEq(len(doc.Plugins[0].Params), 1, t)

	// pre-existing engines/plugins with no spec also default to "*"
	doc2 := &configXML{Plugins: []configEntry{{Name: "cordova-plugin-camera"}}}
	migrateCocoonElements(doc2)
	assertEq(doc2.Plugins[0].Spec, "*", t)
}

func TestEngineSpec(t *testing.T) {
	assertEq(engineSpec(configEntry{Spec: ""}), "latest", t)
	assertEq(engineSpec(configEntry{Spec: "*"}), "latest", t)
	assertEq(engineSpec(configEntry{Spec: "~7.0.0"}), "~7.0.0", t)
}

func TestFindWebRoot(t *testing.T) {
	dir := t.TempDir()
	webRoot := filepath.Join(dir, "extracted", "www")
	writeFile(t, filepath.Join(webRoot, "index.html"), "<html></html>")
	writeFile(t, filepath.Join(webRoot, "js", "app.js"), "console.log(1)")

	found, err := findWebRoot(dir)
	failIfError(err, t)
	assertEq(found, webRoot, t)
}

func TestFindWebRootMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "readme.txt"), "nothing here")

	if _, err := findWebRoot(dir); err == nil {
		t.Fatal("expected an error when no index.html is present")
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	writeFile(t, src, "hello")

	failIfError(copyFile(src, dst), t)

	got, err := os.ReadFile(dst)
	failIfError(err, t)
	assertEq(string(got), "hello", t)
}

func TestCopyTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	writeFile(t, filepath.Join(src, "nested", "b.txt"), "b")

	failIfError(copyTree(src, dst), t)

	a, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	failIfError(err, t)
	assertEq(string(a), "a", t)

	b, err := os.ReadFile(filepath.Join(dst, "nested", "b.txt"))
	failIfError(err, t)
	assertEq(string(b), "b", t)
}

func TestCopyConfigAssets(t *testing.T) {
	dir := t.TempDir()
	webRoot := filepath.Join(dir, "www")
	workspace := filepath.Join(dir, "workspace")
	writeFile(t, filepath.Join(webRoot, "res", "icon.png"), "fake-png")

	doc := &configXML{
		Icons:    []assetEntry{{Src: "res/icon.png"}},
		Splashes: []assetEntry{{Src: "res/splash.png"}}, // absent, must be skipped
	}

	failIfError(copyConfigAssets(doc, webRoot, workspace), t)

	got, err := os.ReadFile(filepath.Join(workspace, "res", "icon.png"))
	failIfError(err, t)
	assertEq(string(got), "fake-png", t)

	if _, err := os.Stat(filepath.Join(workspace, "res", "splash.png")); err == nil {
		t.Fatal("expected the missing splash asset to be skipped, not copied")
	}
}

func makeZip(t *testing.T, path string, entries map[string]string) {
	f, err := os.Create(path)
	failIfError(err, t)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, contents := range entries {
		fw, err := w.Create(name)
		failIfError(err, t)
		if _, err := fw.Write([]byte(contents)); err != nil {
			t.Fatal(err)
		}
	}
	failIfError(w.Close(), t)
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "source.zip")
	makeZip(t, archive, map[string]string{
		"www/index.html": "<html></html>",
		"www/js/app.js":  "console.log(1)",
	})

	dest := filepath.Join(dir, "extracted")
	failIfError(extractZip(archive, dest), t)

	got, err := os.ReadFile(filepath.Join(dest, "www", "index.html"))
	failIfError(err, t)
	assertEq(string(got), "<html></html>", t)
}

func TestExtractZipRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	makeZip(t, archive, map[string]string{"../escape.txt": "gotcha"})

	dest := filepath.Join(dir, "extracted")
	if err := extractZip(archive, dest); err == nil {
		t.Fatal("expected an error extracting an archive entry that escapes the destination")
	}
}

func TestFetchIfPresentEmptySrcIsNotAnError(t *testing.T) {
	failIfError(fetchIfPresent(nil, "", t.TempDir()), t)
}

func TestFetchIntoLocalFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.zip")
	writeFile(t, src, "zip-bytes")
	dst := filepath.Join(dir, "out", "dest.zip")

	failIfError(fetchInto(nil, src, dst, ""), t)

	got, err := os.ReadFile(dst)
	failIfError(err, t)
	assertEq(string(got), "zip-bytes", t)
}

func TestFetchIntoRelativeToConfigRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "configs", "a.xml"), "<widget/>")
	dst := filepath.Join(dir, "dest.xml")

	failIfError(fetchInto(nil, "a.xml", dst, filepath.Join(dir, "configs")), t)

	got, err := os.ReadFile(dst)
	failIfError(err, t)
	assertEq(string(got), "<widget/>", t)
}
