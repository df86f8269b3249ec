package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// lockFileName is the sentinel file used to exclude concurrent cache
// instances from the same repository root when lock metadata is enabled.
const lockFileName = ".metadata.lock"

// acquireLock creates the lock sentinel file exclusively, failing if another
// instance already holds it. This mirrors the teacher's O_EXCL-based
// temporary-file idiom (used elsewhere for atomic writes) rather than a
// platform-specific flock syscall, since the only property this needs is
// "exactly one owner at a time", not blocking acquisition or lock recovery
// across a process crash.
func (c *Cache) acquireLock() error {
	path := filepath.Join(c.localRepositoryRoot, lockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("metadata is already locked by another cache instance (%s exists)", path)
		}
		return fmt.Errorf("unable to create metadata lock file: %w", err)
	}
	defer file.Close()
	c.lockHeld = true
	return nil
}

// releaseLock removes the lock sentinel file, tolerating its prior absence.
func (c *Cache) releaseLock() {
	if !c.lockHeld {
		return
	}
	path := filepath.Join(c.localRepositoryRoot, lockFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// Unlike the per-object bypass failures logged with Warn elsewhere,
		// a lock left behind here will wrongly fail every subsequent Prepare
		// against this repository root until removed by hand.
		c.logger.Error(fmt.Errorf("unable to remove metadata lock file: %w", err))
	}
	c.lockHeld = false
}
