package builder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/appfoundry/buildfleet/pkg/types"
)

func failIfError(err error, t *testing.T) {
	if err != nil {
		t.Fatal(err)
	}
}

type fakeBackendFetcher struct {
	jr   *types.JobRequest
	err  error
	seen []string
}

func (f *fakeBackendFetcher) FetchJob(ctx context.Context, platforms []string) (*types.JobRequest, error) {
	f.seen = platforms
	return f.jr, f.err
}

func TestDaemonSourceForwardsPlatforms(t *testing.T) {
	jr := &types.JobRequest{Code: "abc", Platforms: []string{"android"}}
	backend := &fakeBackendFetcher{jr: jr}
	s := &DaemonSource{Backend: backend, Platforms: []string{"android", "ios"}}

	got, err := s.FetchJob(context.Background())
	failIfError(err, t)
	assertEq(got, jr, t)
	assertEq(backend.seen, []string{"android", "ios"}, t)
}

func TestFileSourceYieldsOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	jr := types.JobRequest{Code: "def", Platforms: []string{"ubuntu"}}
	data, err := json.Marshal(jr)
	failIfError(err, t)
	failIfError(os.WriteFile(path, data, 0644), t)

	s := &FileSource{Path: path}

	got, err := s.FetchJob(context.Background())
	failIfError(err, t)
	if got == nil {
		t.Fatal("expected a job request on the first call")
	}
	assertEq(got.Code, "def", t)

	got2, err := s.FetchJob(context.Background())
	failIfError(err, t)
	if got2 != nil {
		t.Fatal("expected nil on the second call")
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	s := &FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}
	if _, err := s.FetchJob(context.Background()); err == nil {
		t.Fatal("expected an error for a missing config.json")
	}
}
