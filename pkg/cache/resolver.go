package cache

import (
	"context"
	"fmt"
	"sort"

	"github.com/weavr-io/azure-cache/pkg/blob"
	"github.com/weavr-io/azure-cache/pkg/objname"
)

// Resolution identifies the stored object chosen for a restore request.
type Resolution struct {
	// CacheKey is the logical key reported to the caller: the original key
	// recovered from object metadata, or the object name for legacy objects
	// stored without metadata.
	CacheKey string

	// ObjectName is the backend object holding the archive.
	ObjectName string
}

// Resolver picks the single best stored object for a primary key plus an
// ordered list of fallback prefixes.
type Resolver struct {
	store blob.Store
}

// NewResolver returns a resolver reading from store.
func NewResolver(store blob.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the best match for primaryKey, or nil when nothing matches.
//
// An exact match on primaryKey always wins, regardless of restoreKeys.
// Otherwise restoreKeys are scanned in caller order (most specific first);
// the first prefix with any stored object under it wins, and within that
// prefix the most recently modified object is chosen. Objects sharing a
// last-modified timestamp are ordered by object name ascending so the result
// is repeatable.
func (r *Resolver) Resolve(ctx context.Context, primaryKey string, restoreKeys []string) (*Resolution, error) {
	exactName := objname.Sanitize(primaryKey)
	exists, err := r.store.Exists(ctx, exactName)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to check for exact match: %w", err)
	}
	if exists {
		return &Resolution{CacheKey: primaryKey, ObjectName: exactName}, nil
	}

	for _, restoreKey := range restoreKeys {
		prefix := objname.Sanitize(restoreKey)
		entries, err := r.store.ListPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("cache: failed to list prefix %q: %w", prefix, err)
		}
		if len(entries) == 0 {
			continue
		}

		best := pickMostRecent(entries)
		cacheKey, err := r.recoverKey(ctx, best.Name)
		if err != nil {
			return nil, err
		}
		return &Resolution{CacheKey: cacheKey, ObjectName: best.Name}, nil
	}

	return nil, nil
}

// pickMostRecent returns the entry with the latest last-modified timestamp,
// breaking ties by name ascending.
func pickMostRecent(entries []blob.Entry) blob.Entry {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastModified.Equal(entries[j].LastModified) {
			return entries[i].LastModified.After(entries[j].LastModified)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries[0]
}

// recoverKey reads the original cache key from object metadata. Objects
// uploaded by older tooling carry no metadata; for those the object name
// itself is the best available key.
func (r *Resolver) recoverKey(ctx context.Context, objectName string) (string, error) {
	props, err := r.store.Properties(ctx, objectName)
	if err != nil {
		return "", fmt.Errorf("cache: failed to read metadata of %q: %w", objectName, err)
	}
	if key := props.Metadata[blob.MetaCacheKey]; key != "" {
		return key, nil
	}
	return objectName, nil
}
