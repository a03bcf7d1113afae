package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/weavr-io/azure-cache/pkg/archive"
	"github.com/weavr-io/azure-cache/pkg/locking"
	"github.com/weavr-io/azure-cache/pkg/metrics"
	"github.com/weavr-io/azure-cache/pkg/objname"
)

const (
	localEntriesDir = "entries"
	localLocksDir   = "locks"
	localMetaFile   = "entry.meta"
)

// LocalProvider is the fallback cache used when no remote backend is
// configured. Archives live in a directory tree on the local filesystem:
// one subdirectory per sanitized key, holding the archive plus a small
// sidecar metadata file. Entries become visible atomically via rename, and
// a lock group serializes concurrent saves of the same key.
type LocalProvider struct {
	root    string // absolute path to the cache directory
	codec   *archive.Codec
	logger  *slog.Logger
	tracker *metrics.LatencyTracker
	locks   locking.Group
	method  archive.Method

	now func() time.Time
}

// localMetadata is the sidecar metadata for one cached entry.
type localMetadata struct {
	Key       string
	CreatedAt time.Time
}

// NewLocalProvider creates a local cache rooted at dir. When locks is nil a
// cross-process file lock group inside the cache directory is used.
func NewLocalProvider(dir string, codec *archive.Codec, logger *slog.Logger, tracker *metrics.LatencyTracker, locks locking.Group, method archive.Method) (*LocalProvider, error) {
	absRoot, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to resolve cache directory: %w", err)
	}
	for _, sub := range []string{localEntriesDir, localLocksDir} {
		if err := os.MkdirAll(filepath.Join(absRoot, sub), 0755); err != nil {
			return nil, fmt.Errorf("cache: failed to create cache directory: %w", err)
		}
	}
	if locks == nil {
		locks = locking.NewFileLock(filepath.Join(absRoot, localLocksDir))
	}
	if method == "" {
		method = archive.MethodGzip
	}

	return &LocalProvider{
		root:    absRoot,
		codec:   codec,
		logger:  logger,
		tracker: tracker,
		locks:   locks,
		method:  method,
		now:     time.Now,
	}, nil
}

// IsAvailable reports whether the cache directory is usable.
func (p *LocalProvider) IsAvailable(ctx context.Context) bool {
	err := os.MkdirAll(filepath.Join(p.root, localEntriesDir), 0755)
	return err == nil
}

// Restore mirrors RemoteProvider.Restore against the local directory tree,
// with the same boundary policy: failures downgrade to a miss plus warning.
func (p *LocalProvider) Restore(ctx context.Context, paths []string, primaryKey string, restoreKeys []string, opts RestoreOptions) (string, error) {
	if primaryKey == "" {
		return "", errors.New("cache: primary key is required")
	}

	var matched string
	err := p.tracker.RecordFunc(metrics.OpRestore, func() error {
		var err error
		matched, err = p.restore(ctx, primaryKey, restoreKeys, opts)
		return err
	})
	if err != nil {
		p.logger.Warn("local cache restore failed, treating as miss", "key", primaryKey, "error", err)
		return "", nil
	}

	if matched == "" {
		p.logger.Info("local cache miss", "key", primaryKey, "restoreKeys", restoreKeys)
	} else {
		p.logger.Info("local cache hit", "key", matched, "lookupOnly", opts.LookupOnly)
	}
	return matched, nil
}

func (p *LocalProvider) restore(ctx context.Context, primaryKey string, restoreKeys []string, opts RestoreOptions) (string, error) {
	name, meta := p.lookup(primaryKey, restoreKeys)
	if name == "" {
		return "", nil
	}

	cacheKey := meta.Key
	if cacheKey == "" {
		cacheKey = name
	}
	if opts.LookupOnly {
		return cacheKey, nil
	}

	archivePath, err := p.entryArchive(name)
	if err != nil {
		return "", err
	}
	err = p.tracker.RecordFunc(metrics.OpArchiveExtract, func() error {
		return p.codec.Extract(ctx, archivePath, archive.MethodForName(archivePath))
	})
	if err != nil {
		return "", err
	}
	return cacheKey, nil
}

// lookup finds the entry for an exact key, then scans restore key prefixes
// in caller order with the same recency and name tie-break rules as the
// remote resolver.
func (p *LocalProvider) lookup(primaryKey string, restoreKeys []string) (string, localMetadata) {
	exact := p.entryName(primaryKey)
	if meta, ok := p.readEntry(exact); ok {
		return exact, meta
	}

	for _, restoreKey := range restoreKeys {
		prefix := p.entryName(restoreKey)
		name, meta, ok := p.bestUnderPrefix(prefix)
		if ok {
			return name, meta
		}
	}
	return "", localMetadata{}
}

func (p *LocalProvider) bestUnderPrefix(prefix string) (string, localMetadata, bool) {
	dirents, err := os.ReadDir(filepath.Join(p.root, localEntriesDir))
	if err != nil {
		p.logger.Warn("failed to scan local cache entries", "error", err)
		return "", localMetadata{}, false
	}

	type candidate struct {
		name string
		meta localMetadata
	}
	var candidates []candidate
	for _, d := range dirents {
		if !d.IsDir() || !strings.HasPrefix(d.Name(), prefix) {
			continue
		}
		meta, ok := p.readEntry(d.Name())
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{name: d.Name(), meta: meta})
	}
	if len(candidates) == 0 {
		return "", localMetadata{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].meta.CreatedAt.Equal(candidates[j].meta.CreatedAt) {
			return candidates[i].meta.CreatedAt.After(candidates[j].meta.CreatedAt)
		}
		return candidates[i].name < candidates[j].name
	})
	return candidates[0].name, candidates[0].meta, true
}

// Save mirrors RemoteProvider.Save; the lock group closes the
// check-then-create race between concurrent local savers of the same key.
func (p *LocalProvider) Save(ctx context.Context, paths []string, key string) int64 {
	if key == "" || len(paths) == 0 {
		p.logger.Warn("local cache save skipped: key and paths are required", "key", key)
		return SaveSkipped
	}

	var id int64
	err := p.tracker.RecordFunc(metrics.OpSave, func() error {
		v, err := p.locks.DoWithLock(p.entryName(key), func() (any, error) {
			id, err := p.save(ctx, paths, key)
			return id, err
		})
		if err != nil {
			return err
		}
		id = v.(int64)
		return nil
	})
	if err != nil {
		p.logger.Warn("local cache save failed, skipping", "key", key, "error", err)
		return SaveSkipped
	}

	if id == SaveSkipped {
		p.logger.Info("local cache already exists, save skipped", "key", key)
	} else {
		p.logger.Info("local cache saved", "key", key, "id", id)
	}
	return id
}

func (p *LocalProvider) save(ctx context.Context, paths []string, key string) (int64, error) {
	name := p.entryName(key)
	entryDir := filepath.Join(p.root, localEntriesDir, name)
	if _, err := os.Stat(entryDir); err == nil {
		return SaveSkipped, nil
	}

	// Stage the entry inside the cache root so the final rename stays on
	// one filesystem and the entry appears atomically.
	stageDir, err := os.MkdirTemp(p.root, ".stage-*")
	if err != nil {
		return SaveSkipped, fmt.Errorf("cache: failed to create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(stageDir); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove staging directory", "dir", stageDir, "error", err)
		}
	}()

	err = p.tracker.RecordFunc(metrics.OpArchiveCreate, func() error {
		_, err := p.codec.Create(ctx, stageDir, paths, p.method)
		return err
	})
	if err != nil {
		return SaveSkipped, err
	}

	createdAt := p.now().UTC()
	if err := p.writeMetadata(stageDir, localMetadata{Key: key, CreatedAt: createdAt}); err != nil {
		return SaveSkipped, err
	}

	if err := os.Rename(stageDir, entryDir); err != nil {
		// A concurrent saver without our lock group may have won; treat an
		// existing entry as a skip, anything else as a failure.
		if _, statErr := os.Stat(entryDir); statErr == nil {
			return SaveSkipped, nil
		}
		return SaveSkipped, fmt.Errorf("cache: failed to publish entry: %w", err)
	}

	return createdAt.Unix(), nil
}

// entryName maps a cache key to a directory name. On top of the backend
// sanitization rules, slashes are replaced so every entry stays a single
// directory level.
func (p *LocalProvider) entryName(key string) string {
	return strings.ReplaceAll(objname.Sanitize(key), "/", "_")
}

// entryArchive locates the archive file inside an entry directory.
func (p *LocalProvider) entryArchive(name string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(p.root, localEntriesDir, name, "cache.*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("cache: entry %q has no archive file", name)
	}
	return matches[0], nil
}

// readEntry loads an entry's metadata. Missing directories are a plain miss;
// corrupted metadata is logged and the entry falls back to directory mtime
// so one bad sidecar file does not hide a usable archive.
func (p *LocalProvider) readEntry(name string) (localMetadata, bool) {
	entryDir := filepath.Join(p.root, localEntriesDir, name)
	info, err := os.Stat(entryDir)
	if err != nil {
		return localMetadata{}, false
	}

	data, err := os.ReadFile(filepath.Join(entryDir, localMetaFile))
	if err != nil {
		p.logger.Warn("local cache entry missing metadata, using directory mtime", "entry", name, "error", err)
		return localMetadata{CreatedAt: info.ModTime()}, true
	}

	meta := localMetadata{CreatedAt: info.ModTime()}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "key:"):
			meta.Key = strings.TrimPrefix(line, "key:")
		case strings.HasPrefix(line, "createdat:"):
			if unix, err := strconv.ParseInt(strings.TrimPrefix(line, "createdat:"), 10, 64); err == nil {
				meta.CreatedAt = time.Unix(unix, 0)
			}
		}
	}
	return meta, true
}

// writeMetadata writes the sidecar file via temp file plus rename so a
// partial metadata file never exists.
func (p *LocalProvider) writeMetadata(dir string, meta localMetadata) error {
	content := fmt.Sprintf("key:%s\ncreatedat:%d\n", meta.Key, meta.CreatedAt.Unix())
	metaPath := filepath.Join(dir, localMetaFile)

	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("cache: failed to write metadata: %w", err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: failed to rename metadata: %w", err)
	}
	return nil
}
