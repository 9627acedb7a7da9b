package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
)

// WritePIDFile writes the current process's PID to path, the concrete
// source pkg/adminapi's /proc introspection reads (spec.md §4.6).
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// RemovePIDFile removes path, ignoring a missing file. Called from the
// service's teardown path so a restarted process doesn't race a stale
// PID belonging to a different process.
func RemovePIDFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "remove pid file %s: %s\n", path, err)
	}
}

// ServiceLogger opens logPath for append and returns a *log.Logger that
// writes prefix-tagged lines to both os.Stderr and logPath, the way the
// external supervisor would capture a service's stdout in production but
// which this repo also persists directly so pkg/adminapi's
// GET /api/services/{id}/log has something to tail (spec.md §4.6).
// The returned io.Closer must be closed by the caller at shutdown.
func ServiceLogger(prefix, logPath string) (*log.Logger, io.Closer, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open service log %s: %w", logPath, err)
	}
	return log.New(io.MultiWriter(os.Stderr, f), prefix, log.LstdFlags), f, nil
}
