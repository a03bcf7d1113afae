package cache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/weavr-io/azure-cache/pkg/archive"
	"github.com/weavr-io/azure-cache/pkg/blob"
	"github.com/weavr-io/azure-cache/pkg/metrics"
	"github.com/weavr-io/azure-cache/pkg/objname"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func requireTar(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestRemote(t *testing.T, store blob.Store, root string) *RemoteProvider {
	t.Helper()
	codec, err := archive.NewCodec(root, testLogger())
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return NewRemoteProvider(store, codec, testLogger(), metrics.NewLatencyTracker(0.01), RemoteConfig{
		Method: archive.MethodGzip,
	})
}

// countingStore wraps a Store and counts downloads, so tests can prove that
// lookup-only restores never transfer archive bytes.
type countingStore struct {
	blob.Store
	downloads int
}

func (c *countingStore) Download(ctx context.Context, name, destPath string) error {
	c.downloads++
	return c.Store.Download(ctx, name, destPath)
}

func TestSaveThenRestoreEndToEnd(t *testing.T) {
	requireTar(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "build", "app.bin"), "compiled output")

	store := blob.NewMemory()
	provider := newTestRemote(t, store, root)
	ctx := context.Background()

	id := provider.Save(ctx, []string{"build"}, "linux-v1")
	if id <= 0 {
		t.Fatalf("Save returned %d, want a positive id", id)
	}
	if store.Len() != 1 {
		t.Fatalf("store holds %d objects, want 1", store.Len())
	}

	props, err := store.Properties(ctx, objname.Sanitize("linux-v1"))
	if err != nil {
		t.Fatalf("stored object not found under sanitized name: %v", err)
	}
	if props.Metadata[blob.MetaCacheKey] != "linux-v1" {
		t.Errorf("cachekey metadata = %q, want linux-v1", props.Metadata[blob.MetaCacheKey])
	}
	if _, err := time.Parse(time.RFC3339, props.Metadata[blob.MetaCreatedAt]); err != nil {
		t.Errorf("createdat metadata %q is not RFC3339: %v", props.Metadata[blob.MetaCreatedAt], err)
	}

	// Restore into a fresh root and verify file contents come back.
	newRoot := t.TempDir()
	restoring := newTestRemote(t, store, newRoot)
	matched, err := restoring.Restore(ctx, []string{"build"}, "linux-v1", nil, RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if matched != "linux-v1" {
		t.Errorf("Restore matched %q, want linux-v1", matched)
	}
	got, err := os.ReadFile(filepath.Join(newRoot, "build", "app.bin"))
	if err != nil || string(got) != "compiled output" {
		t.Errorf("restored file = %q, %v", got, err)
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	requireTar(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "build", "a"), "a")

	store := blob.NewMemory()
	provider := newTestRemote(t, store, root)
	ctx := context.Background()

	first := provider.Save(ctx, []string{"build"}, "linux-v1")
	if first <= 0 {
		t.Fatalf("first Save returned %d", first)
	}
	second := provider.Save(ctx, []string{"build"}, "linux-v1")
	if second != SaveSkipped {
		t.Errorf("second Save returned %d, want SaveSkipped", second)
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d objects after double save, want 1", store.Len())
	}
}

func TestRestorePrefixFallback(t *testing.T) {
	requireTar(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "build", "a"), "a")

	store := blob.NewMemory()
	saver := newTestRemote(t, store, root)
	ctx := context.Background()

	if id := saver.Save(ctx, []string{"build"}, "linux-v1"); id <= 0 {
		t.Fatalf("Save returned %d", id)
	}

	newRoot := t.TempDir()
	restoring := newTestRemote(t, store, newRoot)
	matched, err := restoring.Restore(ctx, []string{"build"}, "linux-v2", []string{"linux-"}, RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if matched != "linux-v1" {
		t.Errorf("Restore matched %q, want linux-v1 via prefix fallback", matched)
	}
}

func TestRestoreLookupOnlySkipsDownload(t *testing.T) {
	requireTar(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "build", "a"), "a")

	mem := blob.NewMemory()
	saver := newTestRemote(t, mem, root)
	ctx := context.Background()
	if id := saver.Save(ctx, []string{"build"}, "linux-v1"); id <= 0 {
		t.Fatalf("Save returned %d", id)
	}

	counting := &countingStore{Store: mem}
	probe := newTestRemote(t, counting, t.TempDir())

	matched, err := probe.Restore(ctx, []string{"build"}, "linux-v1", nil, RestoreOptions{LookupOnly: true})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if matched != "linux-v1" {
		t.Errorf("lookup-only matched %q, want linux-v1", matched)
	}
	if counting.downloads != 0 {
		t.Errorf("lookup-only performed %d downloads, want 0", counting.downloads)
	}

	// A full restore of the same request resolves the same key.
	full, err := probe.Restore(ctx, []string{"build"}, "linux-v1", nil, RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if full != matched {
		t.Errorf("full restore matched %q, lookup-only matched %q", full, matched)
	}
}

func TestRestoreMissReturnsEmpty(t *testing.T) {
	requireTar(t)

	provider := newTestRemote(t, blob.NewMemory(), t.TempDir())
	matched, err := provider.Restore(context.Background(), []string{"build"}, "linux-v1", []string{"linux-"}, RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if matched != "" {
		t.Errorf("Restore matched %q on an empty backend", matched)
	}
}

func TestRestoreDowngradesBackendFailure(t *testing.T) {
	requireTar(t)

	store := blob.NewMemory()
	store.Err = errors.New("backend unavailable")
	provider := newTestRemote(t, store, t.TempDir())

	// The internal layer surfaces the failure...
	if _, err := provider.restore(context.Background(), "linux-v1", nil, RestoreOptions{}); err == nil {
		t.Error("internal restore should report the backend failure")
	}

	// ...and the provider boundary downgrades it to a miss.
	matched, err := provider.Restore(context.Background(), []string{"build"}, "linux-v1", nil, RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore returned error despite downgrade policy: %v", err)
	}
	if matched != "" {
		t.Errorf("Restore matched %q against a failing backend", matched)
	}
}

func TestSaveDowngradesBackendFailure(t *testing.T) {
	requireTar(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "build", "a"), "a")

	store := blob.NewMemory()
	store.Err = errors.New("backend unavailable")
	provider := newTestRemote(t, store, root)

	if _, err := provider.save(context.Background(), []string{"build"}, "linux-v1"); err == nil {
		t.Error("internal save should report the backend failure")
	}

	if id := provider.Save(context.Background(), []string{"build"}, "linux-v1"); id != SaveSkipped {
		t.Errorf("Save returned %d against a failing backend, want SaveSkipped", id)
	}
}

func TestSaveRequiresKeyAndPaths(t *testing.T) {
	requireTar(t)

	provider := newTestRemote(t, blob.NewMemory(), t.TempDir())
	if id := provider.Save(context.Background(), nil, "linux-v1"); id != SaveSkipped {
		t.Errorf("Save without paths returned %d", id)
	}
	if id := provider.Save(context.Background(), []string{"build"}, ""); id != SaveSkipped {
		t.Errorf("Save without key returned %d", id)
	}
}

func TestRestoreRequiresPrimaryKey(t *testing.T) {
	requireTar(t)

	provider := newTestRemote(t, blob.NewMemory(), t.TempDir())
	if _, err := provider.Restore(context.Background(), []string{"build"}, "", nil, RestoreOptions{}); err == nil {
		t.Error("Restore without a primary key should fail")
	}
}
