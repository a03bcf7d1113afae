package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/weavr-io/azure-cache/pkg/blob"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedObject(store *blob.Memory, key string, lastModified time.Time) {
	store.Put(key, []byte("archive"), map[string]string{
		blob.MetaCacheKey:  key,
		blob.MetaCreatedAt: lastModified.Format(time.RFC3339),
	}, lastModified)
}

func TestResolveExactMatchWins(t *testing.T) {
	store := blob.NewMemory()
	seedObject(store, "linux-v1", baseTime)
	seedObject(store, "linux-v2", baseTime.Add(time.Hour)) // newer, but not exact

	res, err := NewResolver(store).Resolve(context.Background(), "linux-v1", []string{"linux-"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res == nil {
		t.Fatal("expected a match")
	}
	if res.CacheKey != "linux-v1" || res.ObjectName != "linux-v1" {
		t.Errorf("got %+v, want exact match linux-v1", res)
	}
}

func TestResolvePrefixFallbackPicksMostRecent(t *testing.T) {
	store := blob.NewMemory()
	seedObject(store, "linux-old", baseTime)
	seedObject(store, "linux-new", baseTime.Add(2*time.Hour))

	res, err := NewResolver(store).Resolve(context.Background(), "linux-v9", []string{"darwin-", "linux-"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res == nil {
		t.Fatal("expected a prefix match")
	}
	if res.CacheKey != "linux-new" {
		t.Errorf("CacheKey = %q, want linux-new", res.CacheKey)
	}
}

func TestResolveFirstPrefixWithMatchesWins(t *testing.T) {
	// The second prefix holds a newer object, but precedence follows caller
	// order, not global recency.
	store := blob.NewMemory()
	seedObject(store, "linux-x64-v1", baseTime)
	seedObject(store, "linux-arm-v9", baseTime.Add(24*time.Hour))

	res, err := NewResolver(store).Resolve(context.Background(), "linux-x64-v2", []string{"linux-x64-", "linux-"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res == nil || res.CacheKey != "linux-x64-v1" {
		t.Errorf("got %+v, want linux-x64-v1 from the first matching prefix", res)
	}
}

func TestResolveIdenticalTimestampsTieBreakByName(t *testing.T) {
	store := blob.NewMemory()
	seedObject(store, "linux-bbb", baseTime)
	seedObject(store, "linux-aaa", baseTime)

	res, err := NewResolver(store).Resolve(context.Background(), "missing", []string{"linux-"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res == nil || res.ObjectName != "linux-aaa" {
		t.Errorf("got %+v, want linux-aaa (name ascending tie-break)", res)
	}
}

func TestResolveNoMatchReturnsNil(t *testing.T) {
	store := blob.NewMemory()
	seedObject(store, "darwin-v1", baseTime)

	res, err := NewResolver(store).Resolve(context.Background(), "linux-v1", []string{"linux-", "windows-"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res != nil {
		t.Errorf("expected no match, got %+v", res)
	}
}

func TestResolveSanitizesKeyAndPrefix(t *testing.T) {
	store := blob.NewMemory()
	// Object stored under the sanitized form of a messy key.
	store.Put("linux_build_v1", []byte("archive"), map[string]string{
		blob.MetaCacheKey: `linux\build v1`,
	}, baseTime)

	res, err := NewResolver(store).Resolve(context.Background(), `linux\build v1`, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res == nil {
		t.Fatal("expected exact match through sanitization")
	}
	if res.CacheKey != `linux\build v1` {
		t.Errorf("CacheKey = %q, want the verbatim original key", res.CacheKey)
	}
	if res.ObjectName != "linux_build_v1" {
		t.Errorf("ObjectName = %q, want sanitized name", res.ObjectName)
	}
}

func TestResolveLegacyObjectWithoutMetadata(t *testing.T) {
	store := blob.NewMemory()
	store.Put("linux-legacy", []byte("archive"), nil, baseTime)

	res, err := NewResolver(store).Resolve(context.Background(), "linux-v5", []string{"linux-"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res == nil || res.CacheKey != "linux-legacy" {
		t.Errorf("got %+v, want object name as fallback key", res)
	}
}

func TestResolvePropagatesBackendErrors(t *testing.T) {
	store := blob.NewMemory()
	store.Err = errors.New("backend unavailable")

	_, err := NewResolver(store).Resolve(context.Background(), "linux-v1", nil)
	if err == nil {
		t.Fatal("expected backend error to propagate from the resolver")
	}
}
