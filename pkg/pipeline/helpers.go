package pipeline

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// FetchInto copies src into dst, an absolute URL fetched over HTTP or a
// path resolved relative to the current directory otherwise. Exported so
// platform backends can fetch signing material (keystores, PFX files)
// the same way the init/create stages fetch config.xml/source.zip/icons
// (spec.md §4.4 "build").
func FetchInto(ctx context.Context, src, dst string) error {
	return fetchInto(ctx, src, dst, "")
}

// fetchInto copies src into dst. src is fetched over HTTP when it's an
// absolute URL, otherwise it's treated as a path relative to configRoot
// (spec.md §4.4 "init").
func fetchInto(ctx context.Context, src, dst, configRoot string) error {
	r, err := open(ctx, src, configRoot)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, r)
	return err
}

// fetchIfPresent is fetchInto for the job's optional icon/splash URLs:
// an empty src is not an error.
func fetchIfPresent(ctx context.Context, src, destDir string) error {
	if src == "" {
		return nil
	}
	name := filepath.Base(src)
	if name == "" || name == "." || name == "/" {
		name = "asset"
	}
	return fetchInto(ctx, src, filepath.Join(destDir, name), "")
}

func open(ctx context.Context, src, configRoot string) (io.ReadCloser, error) {
	if u, err := url.Parse(src); err == nil && u.IsAbs() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: unexpected status %d", src, resp.StatusCode)
		}
		return resp.Body, nil
	}

	path := src
	if configRoot != "" && !filepath.IsAbs(src) {
		path = filepath.Join(configRoot, src)
	}
	return os.Open(path)
}

// extractZip extracts the zip archive at path into dir.
func extractZip(path, dir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) && dest != filepath.Clean(dir) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}

		src, err := f.Open()
		if err != nil {
			return err
		}

		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			src.Close()
			return err
		}

		_, err = io.Copy(out, src)
		src.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// findWebRoot locates the entry containing any index.html* under root
// and returns that entry's parent directory, the application's web root
// (spec.md §4.4 "create").
func findWebRoot(root string) (string, error) {
	var found string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if found != "" {
			return filepath.SkipDir
		}
		if !info.IsDir() && strings.HasPrefix(info.Name(), "index.html") {
			found = filepath.Dir(path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no index.html found under %s", root)
	}
	return found, nil
}

// copyFile copies src into dst, overwriting dst if it already exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// copyTree recursively copies the contents of src into dst, creating
// dst if necessary.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	})
}

// configXML is a minimal parse of the fields the pipeline needs:
// the project's display name, engine/plugin elements (including their
// legacy cocoon:* variants), and icon/splash references.
type configXML struct {
	XMLName  xml.Name      `xml:"widget"`
	Name     string        `xml:"name"`
	Engines  []configEntry `xml:"engine"`
	Cocoon   []configEntry `xml:"http://cocoon.io/ns/1.0 platform"`
	CPlugin  []configEntry `xml:"http://cocoon.io/ns/1.0 plugin"`
	Plugins  []configEntry `xml:"plugin"`
	Icons    []assetEntry  `xml:"icon"`
	Splashes []assetEntry  `xml:"splash"`
}

type configEntry struct {
	Name   string        `xml:"name,attr"`
	Spec   string        `xml:"spec,attr"`
	Params []configParam `xml:"param"`
}

type configParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type assetEntry struct {
	Src string `xml:"src,attr"`
}

func parseConfigXML(path string) (*configXML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := &configXML{}
	if err := xml.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// migrateCocoonElements migrates legacy cocoon:platform/cocoon:plugin
// elements into standard engine/plugin elements, preserving nested param
// children, and defaults any missing spec attribute to "*" (spec.md
// §4.4 "prepare").
func migrateCocoonElements(doc *configXML) {
	for _, c := range doc.Cocoon {
		doc.Engines = append(doc.Engines, c)
	}
	doc.Cocoon = nil

	for _, c := range doc.CPlugin {
		doc.Plugins = append(doc.Plugins, c)
	}
	doc.CPlugin = nil

	for i := range doc.Engines {
		if doc.Engines[i].Spec == "" {
			doc.Engines[i].Spec = "*"
		}
	}
	for i := range doc.Plugins {
		if doc.Plugins[i].Spec == "" {
			doc.Plugins[i].Spec = "*"
		}
	}
}

// engineSpec returns the installer spec to use for an engine: "latest"
// when no spec was given, the parsed spec otherwise (spec.md §4.4
// "prepare").
func engineSpec(e configEntry) string {
	if e.Spec == "" || e.Spec == "*" {
		return "latest"
	}
	return e.Spec
}

// copyConfigAssets copies every file referenced by an <icon>/<splash>
// element in config.xml, resolved relative to srcRoot (the extracted
// web root), into the same relative path under the workspace — an
// asset a platform merely references is not otherwise copied by the
// web-root tree copy (spec.md §4.4 "create").
func copyConfigAssets(doc *configXML, srcRoot, workspacePath string) error {
	for _, entries := range [][]assetEntry{doc.Icons, doc.Splashes} {
		for _, e := range entries {
			if e.Src == "" {
				continue
			}
			src := filepath.Join(srcRoot, e.Src)
			if _, err := os.Stat(src); err != nil {
				continue // referenced asset absent from this source tree
			}
			dst := filepath.Join(workspacePath, e.Src)
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return err
			}
			if err := copyFile(src, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// installEngines runs the native-lib platform installer for every
// engine matching this job's platform (spec.md §4.4 "prepare": "Install
// engines for this job's platform only").
func installEngines(ctx context.Context, doc *configXML, platform types.Platform, workspacePath string, log io.Writer) error {
	for _, e := range doc.Engines {
		if e.Name != "" && !strings.Contains(strings.ToLower(e.Name), strings.ToLower(string(platform))) {
			continue
		}
		fmt.Fprintf(log, "installing engine %s@%s\n", e.Name, engineSpec(e))
		out, err := utils.RunCmdIn(workspacePath, []string{"cordova", "platform", "add", e.Name + "@" + engineSpec(e)})
		fmt.Fprint(log, out)
		if err != nil {
			return fmt.Errorf("add platform %s: %w", e.Name, err)
		}
	}
	return nil
}

// installPlugins runs the native-lib plugin installer for every plugin
// (spec.md §4.4 "prepare": "install every plugin"), passing each
// migrated param as a `--variable` to the installer.
func installPlugins(ctx context.Context, doc *configXML, workspacePath string, log io.Writer) error {
	for _, p := range doc.Plugins {
		fmt.Fprintf(log, "installing plugin %s@%s\n", p.Name, engineSpec(p))
		args := []string{"cordova", "plugin", "add", p.Name + "@" + engineSpec(p)}
		for _, param := range p.Params {
			args = append(args, "--variable", param.Name+"="+param.Value)
		}
		out, err := utils.RunCmdIn(workspacePath, args)
		fmt.Fprint(log, out)
		if err != nil {
			return fmt.Errorf("add plugin %s: %w", p.Name, err)
		}
	}
	return nil
}
