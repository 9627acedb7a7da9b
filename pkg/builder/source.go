package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/appfoundry/buildfleet/pkg/types"
)

// BackendFetcher is the subset of pkg/backend.Client the Builder needs
// to fetch a job in daemon mode.
type BackendFetcher interface {
	FetchJob(ctx context.Context, platforms []string) (*types.JobRequest, error)
}

// DaemonSource fetches jobs from the backend, advertising the
// platforms this host can build (spec.md §4.3 step 3).
type DaemonSource struct {
	Backend   BackendFetcher
	Platforms []string
}

func (s *DaemonSource) FetchJob(ctx context.Context) (*types.JobRequest, error) {
	return s.Backend.FetchJob(ctx, s.Platforms)
}

// FileSource reads a single job request from a CLI-supplied config.json
// path, for one-shot mode (spec.md §4.3 "One-shot mode"). It yields the
// job exactly once; subsequent calls return nil.
type FileSource struct {
	Path string
	done bool
}

func (s *FileSource) FetchJob(ctx context.Context) (*types.JobRequest, error) {
	if s.done {
		return nil, nil
	}
	s.done = true

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	jr := &types.JobRequest{}
	if err := json.Unmarshal(data, jr); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return jr, nil
}
