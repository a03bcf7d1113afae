package locking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is a Group backed by advisory file locks, giving mutual exclusion
// across processes that share a lock directory. Lock files are named by a
// digest of the key so arbitrary keys map to legal file names.
type FileLock struct {
	dir string
}

// NewFileLock creates a file-lock group rooted at dir. The directory must
// exist and be writable.
func NewFileLock(dir string) *FileLock {
	return &FileLock{dir: dir}
}

func (f *FileLock) DoWithLock(key string, fn func() (any, error)) (v any, err error) {
	sum := sha256.Sum256([]byte(key))
	lockPath := filepath.Join(f.dir, hex.EncodeToString(sum[:8])+".lock")

	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("locking: failed to acquire lock for key %q: %w", key, err)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("locking: failed to release lock for key %q: %w", key, unlockErr)
		}
	}()

	return fn()
}
