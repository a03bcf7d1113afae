// Package blob abstracts the object store holding cache archives.
// Implementations can be swapped to use different storage backends.
package blob

import (
	"context"
	"errors"
	"time"
)

// Metadata field names attached to every uploaded archive.
const (
	// MetaCacheKey holds the caller's original cache key, verbatim. The
	// stored object name may differ from it after sanitization, so this is
	// the only way to report the logical key back to the caller.
	MetaCacheKey = "cachekey"

	// MetaCreatedAt holds the upload time in RFC 3339 format.
	MetaCreatedAt = "createdat"
)

// ErrNotFound is returned when a named object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Entry describes one object returned by a prefix listing.
type Entry struct {
	Name         string
	LastModified time.Time
}

// Properties holds metadata for a single object.
type Properties struct {
	Metadata     map[string]string
	LastModified time.Time
}

// Store is the object-store capability consumed by the cache providers.
// Implementations must be safe for use from a single provider instance;
// no method mutates an existing object.
type Store interface {
	// EnsureContainer creates the backing container if it does not exist.
	// Implementations return nil when the container already exists.
	EnsureContainer(ctx context.Context) error

	// Exists reports whether the named object exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Properties returns metadata for the named object, or ErrNotFound.
	Properties(ctx context.Context, name string) (Properties, error)

	// ListPrefix returns all objects whose name starts with prefix.
	ListPrefix(ctx context.Context, prefix string) ([]Entry, error)

	// Download writes the named object's bytes to destPath.
	Download(ctx context.Context, name, destPath string) error

	// Upload stores the file at srcPath under name with the given metadata.
	// The object becomes visible only once fully written.
	Upload(ctx context.Context, name, srcPath string, metadata map[string]string) error
}
