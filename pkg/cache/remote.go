package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/weavr-io/azure-cache/pkg/archive"
	"github.com/weavr-io/azure-cache/pkg/blob"
	"github.com/weavr-io/azure-cache/pkg/metrics"
	"github.com/weavr-io/azure-cache/pkg/objname"
)

// DefaultTransferTimeout bounds a single archive download or upload.
const DefaultTransferTimeout = 10 * time.Minute

// RemoteConfig tunes a RemoteProvider.
type RemoteConfig struct {
	// Method is the compression applied to created archives. Save and
	// restore must agree on it; there is no negotiation.
	Method archive.Method

	// TransferTimeout bounds each download and upload. Zero means
	// DefaultTransferTimeout.
	TransferTimeout time.Duration
}

// RemoteProvider composes the resolver, archive codec, and a blob store into
// the restore and save operations. One provider instance owns one long-lived
// store client; nothing here is a process-wide singleton.
type RemoteProvider struct {
	store    blob.Store
	resolver *Resolver
	codec    *archive.Codec
	logger   *slog.Logger
	tracker  *metrics.LatencyTracker

	method          archive.Method
	transferTimeout time.Duration

	now func() time.Time
}

// NewRemoteProvider builds a provider over the given store and codec.
func NewRemoteProvider(store blob.Store, codec *archive.Codec, logger *slog.Logger, tracker *metrics.LatencyTracker, cfg RemoteConfig) *RemoteProvider {
	method := cfg.Method
	if method == "" {
		method = archive.MethodGzip
	}
	timeout := cfg.TransferTimeout
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	return &RemoteProvider{
		store:           store,
		resolver:        NewResolver(store),
		codec:           codec,
		logger:          logger,
		tracker:         tracker,
		method:          method,
		transferTimeout: timeout,
		now:             time.Now,
	}
}

// IsAvailable reports whether the provider was constructed with a store.
func (p *RemoteProvider) IsAvailable(ctx context.Context) bool {
	return p.store != nil
}

// Restore resolves and unpacks the best match for primaryKey/restoreKeys.
// Backend and tool failures are downgraded here, at the provider boundary:
// the caller sees a miss plus a warning, never an error, because a failing
// cache must not fail the build it serves. The returned error is reserved
// for invalid arguments.
func (p *RemoteProvider) Restore(ctx context.Context, paths []string, primaryKey string, restoreKeys []string, opts RestoreOptions) (string, error) {
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
		p.logger.Warn("cache restore failed, treating as miss", "key", primaryKey, "error", err)
		return "", nil
	}

	if matched == "" {
		p.logger.Info("cache miss", "key", primaryKey, "restoreKeys", restoreKeys)
	} else {
		p.logger.Info("cache hit", "key", matched, "lookupOnly", opts.LookupOnly)
	}
	return matched, nil
}

// restore is the failure-transparent implementation behind Restore. It
// returns "" for a clean miss and an error for any backend or tool failure.
func (p *RemoteProvider) restore(ctx context.Context, primaryKey string, restoreKeys []string, opts RestoreOptions) (string, error) {
	p.ensureContainer(ctx)

	var res *Resolution
	err := p.tracker.RecordFunc(metrics.OpResolve, func() error {
		var err error
		res, err = p.resolver.Resolve(ctx, primaryKey, restoreKeys)
		return err
	})
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	if opts.LookupOnly {
		return res.CacheKey, nil
	}

	tmpDir, err := p.tempDir("restore")
	if err != nil {
		return "", err
	}
	defer p.removeTempDir(tmpDir)

	archivePath := filepath.Join(tmpDir, "cache"+p.method.Extension())

	err = p.tracker.RecordFunc(metrics.OpDownload, func() error {
		downloadCtx, cancel := context.WithTimeout(ctx, p.transferTimeout)
		defer cancel()
		return p.store.Download(downloadCtx, res.ObjectName, archivePath)
	})
	if err != nil {
		return "", err
	}

	err = p.tracker.RecordFunc(metrics.OpArchiveExtract, func() error {
		return p.codec.Extract(ctx, archivePath, p.method)
	})
	if err != nil {
		return "", err
	}

	return res.CacheKey, nil
}

// Save archives paths under key. Save is idempotent: when an object already
// exists under the sanitized key, nothing is uploaded and SaveSkipped is
// returned. Failures are downgraded to SaveSkipped plus a warning, matching
// the restore policy.
func (p *RemoteProvider) Save(ctx context.Context, paths []string, key string) int64 {
	if key == "" || len(paths) == 0 {
		p.logger.Warn("cache save skipped: key and paths are required", "key", key)
		return SaveSkipped
	}

	var id int64
	err := p.tracker.RecordFunc(metrics.OpSave, func() error {
		var err error
		id, err = p.save(ctx, paths, key)
		return err
	})
	if err != nil {
		p.logger.Warn("cache save failed, skipping", "key", key, "error", err)
		return SaveSkipped
	}

	if id == SaveSkipped {
		p.logger.Info("cache already exists, save skipped", "key", key)
	} else {
		p.logger.Info("cache saved", "key", key, "id", id)
	}
	return id
}

func (p *RemoteProvider) save(ctx context.Context, paths []string, key string) (int64, error) {
	p.ensureContainer(ctx)

	name := objname.Sanitize(key)

	exists, err := p.store.Exists(ctx, name)
	if err != nil {
		return SaveSkipped, fmt.Errorf("cache: failed to check for existing object: %w", err)
	}
	if exists {
		return SaveSkipped, nil
	}

	tmpDir, err := p.tempDir("save")
	if err != nil {
		return SaveSkipped, err
	}
	defer p.removeTempDir(tmpDir)

	var archivePath string
	err = p.tracker.RecordFunc(metrics.OpArchiveCreate, func() error {
		var err error
		archivePath, err = p.codec.Create(ctx, tmpDir, paths, p.method)
		return err
	})
	if err != nil {
		return SaveSkipped, err
	}

	metadata := map[string]string{
		blob.MetaCacheKey:  key,
		blob.MetaCreatedAt: p.now().UTC().Format(time.RFC3339),
	}

	err = p.tracker.RecordFunc(metrics.OpUpload, func() error {
		uploadCtx, cancel := context.WithTimeout(ctx, p.transferTimeout)
		defer cancel()
		return p.store.Upload(uploadCtx, name, archivePath, metadata)
	})
	if err != nil {
		return SaveSkipped, err
	}

	return p.now().Unix(), nil
}

// ensureContainer opportunistically creates the backing container. Failure
// is only logged: the container commonly already exists, and a permission
// error here will resurface on the operation that follows.
func (p *RemoteProvider) ensureContainer(ctx context.Context) {
	if err := p.store.EnsureContainer(ctx); err != nil {
		p.logger.Warn("failed to ensure cache container", "error", err)
	}
}

// tempDir creates a unique working directory for one restore or save call.
// The timestamp plus MkdirTemp's random suffix keeps concurrent invocations
// in the same environment from colliding.
func (p *RemoteProvider) tempDir(op string) (string, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("cache-%s-%d-*", op, p.now().UnixMilli()))
	if err != nil {
		return "", fmt.Errorf("cache: failed to create temp directory: %w", err)
	}
	return dir, nil
}

func (p *RemoteProvider) removeTempDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("failed to remove temp directory", "dir", dir, "error", err)
	}
}
