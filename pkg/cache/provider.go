// Package cache implements key-addressed archive caching for build pipelines.
//
// A provider stores a compressed archive of filesystem paths under a
// caller-supplied key and retrieves the best-matching archive for a
// requesting key, falling back from exact matches to ordered key prefixes.
// Caching is an optimization, never a correctness dependency: provider
// operations downgrade backend and tool failures to miss/skip results and a
// warning instead of failing the surrounding pipeline.
package cache

import "context"

// SaveSkipped is returned by Save when no new object was stored, either
// because an object already exists under the key (idempotent skip) or
// because the save failed and was downgraded.
const SaveSkipped int64 = -1

// RestoreOptions controls a single Restore call.
type RestoreOptions struct {
	// LookupOnly reports the matched key without downloading or extracting
	// its archive.
	LookupOnly bool
}

// Provider is the capability shared by the remote and local cache backends.
type Provider interface {
	// IsAvailable reports whether the provider can serve requests.
	IsAvailable(ctx context.Context) bool

	// Restore fetches the best-matching archive for primaryKey/restoreKeys
	// and unpacks it. It returns the matched cache key, or "" when nothing
	// matched or the backend failed.
	Restore(ctx context.Context, paths []string, primaryKey string, restoreKeys []string, opts RestoreOptions) (string, error)

	// Save archives paths under key. It returns a positive call id on
	// success and SaveSkipped when the key already exists or the save
	// failed.
	Save(ctx context.Context, paths []string, key string) int64
}
