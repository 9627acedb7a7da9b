package plainfs

import (
	"os"

	"github.com/appfoundry/buildfleet/pkg/filesystem"
)

// PlainFS implements the FileSystem interface using plain `mkdir`/`rm`.
// It works on any filesystem, unlike Btrfs's copy-on-write subvolumes.
type PlainFS struct{}

func init() {
	filesystem.Registry["plain"] = PlainFS{}
}

// Create creates a new directory at path, used to seed an empty dependency
// cache entry.
func (fs PlainFS) Create(path string) error {
	return os.Mkdir(path, 0755)
}

// Remove deletes the path and all its contents
func (fs PlainFS) Remove(path string) error {
	return os.RemoveAll(path)
}
