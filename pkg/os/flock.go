package os

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Flock is a file-based lock that keeps a single relay instance per host.
type Flock struct {
	f *flock.Flock
}

func NewFileLock(path string) (*Flock, error) {
	if path == "" {
		path = os.TempDir() + string(os.PathSeparator) + "lanclass_relay.lock"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	return &Flock{f: flock.New(path)}, nil
}

func (f *Flock) Lock() error   { return f.f.Lock() }
func (f *Flock) Unlock() error { return f.f.Unlock() }
