package utils

import (
	"bufio"
	"os"
)

// TailBytes returns the last n bytes of the file at path. Used to surface
// the tail of cordova.log (10,000 bytes, spec.md §4.3 step 6) alongside a
// build failure.
func TailBytes(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", err
	}

	size := fi.Size()
	offset := int64(0)
	if size > n {
		offset = size - n
	}

	if _, err := f.Seek(offset, 0); err != nil {
		return "", err
	}

	buf := make([]byte, size-offset)
	if _, err := f.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// TailLines returns the last n lines of the file at path, used by the
// Admin API's GET /api/services/{id}/log endpoint (spec.md §4.6).
func TailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
