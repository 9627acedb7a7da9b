package utils

import (
	"io"
	"os"
	"strings"
)

// Redact strips workspace-root and home-directory absolute paths from s,
// the way stdout/stderr captured from the build child is sanitized before
// it's logged or written to stdout.log (spec.md §4.3 step 4).
func Redact(s string, workspaceRoot string) string {
	if workspaceRoot != "" {
		s = strings.ReplaceAll(s, workspaceRoot, "")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		s = strings.ReplaceAll(s, home, "~")
	}
	return s
}

// redactingWriter wraps an io.Writer, redacting every write through
// Redact before forwarding it, used to sanitize the build child's
// captured stdout/stderr as it streams (spec.md §4.3 step 4).
type redactingWriter struct {
	w             io.Writer
	workspaceRoot string
}

// NewRedactingWriter returns a writer that redacts workspaceRoot and the
// home directory out of everything written through it before forwarding
// to w.
func NewRedactingWriter(w io.Writer, workspaceRoot string) io.Writer {
	return &redactingWriter{w: w, workspaceRoot: workspaceRoot}
}

func (r *redactingWriter) Write(p []byte) (int, error) {
	_, err := r.w.Write([]byte(Redact(string(p), r.workspaceRoot)))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}
