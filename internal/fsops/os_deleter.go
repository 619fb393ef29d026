package fsops

import "os"

// OSDeleter removes entries with os.Remove: files, symlinks (never their
// targets) and empty directories.
type OSDeleter struct{}

func (OSDeleter) Remove(path string) error {
	return os.Remove(path)
}
