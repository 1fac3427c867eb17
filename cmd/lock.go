package cmd

import (
	"fmt"
	"sync"

	"github.com/gofrs/flock"

	"github.com/godlp/godlp/internal/config"
)

var (
	instanceLock *flock.Flock
	lockMu       sync.Mutex
)

// AcquireLock takes the single-instance lock. It reports false when another
// instance already holds it.
func AcquireLock() (bool, error) {
	lockMu.Lock()
	defer lockMu.Unlock()

	if err := config.EnsureDirs(); err != nil {
		return false, fmt.Errorf("failed to create app dir: %w", err)
	}
	lock := flock.New(config.GetLockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", config.GetLockPath(), err)
	}
	if !locked {
		return false, nil
	}
	instanceLock = lock
	return true, nil
}

// ReleaseLock drops the lock taken by AcquireLock.
func ReleaseLock() error {
	lockMu.Lock()
	defer lockMu.Unlock()

	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}
