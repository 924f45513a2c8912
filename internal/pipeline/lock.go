package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/datapipe-pro/datapipe/internal/errors"
)

// LockFileName is the file in the data directory held for the duration of a run.
const LockFileName = ".datapipe.lock"

// DataDirLockedError is returned when another run holds the data directory.
type DataDirLockedError struct {
	Path string
}

func (err DataDirLockedError) Error() string {
	return fmt.Sprintf("another datapipe run holds %s", err.Path)
}

func lockDataDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, errors.New(err)
	}

	lock := flock.New(filepath.Join(dir, LockFileName))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Errorf("failed to lock %s: %w", lock.Path(), err)
	}

	if !locked {
		return nil, errors.New(DataDirLockedError{Path: lock.Path()})
	}

	return lock, nil
}
