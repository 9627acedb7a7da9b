package platform

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"time"
)

// zipFiles writes a zip archive at dest containing every path in files,
// named relative to root (spec.md §4.4 "pack": "produces exactly one
// artifact ZIP in out/").
func zipFiles(dest string, files []string, root string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	defer w.Close()

	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = filepath.Base(path)
		}

		f, err := w.Create(rel)
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(f, src)
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// epochMillisNow returns the current time as milliseconds since epoch,
// used to name pack() output archives (spec.md §4.4: "out/{code}_{
// platform}_{epochmillis}.zip").
func epochMillisNow() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
