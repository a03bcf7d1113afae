// Package locking provides mutual exclusion over sets of string keys.
package locking

// Group runs functions with mutual exclusion over individual keys. The local
// cache provider uses a Group to serialize concurrent saves of the same cache
// key on a shared filesystem.
type Group interface {
	// DoWithLock runs fn while holding the lock for key.
	DoWithLock(key string, fn func() (any, error)) (v any, err error)
}
