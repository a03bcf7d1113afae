package blob

import (
	"context"
	"log/slog"
)

// Debug wraps any Store and logs every call at debug level. This keeps
// tracing out of the individual backend implementations.
type Debug struct {
	store  Store
	logger *slog.Logger
}

// NewDebug creates a debug wrapper around an existing store.
func NewDebug(store Store, logger *slog.Logger) *Debug {
	return &Debug{store: store, logger: logger}
}

func (d *Debug) EnsureContainer(ctx context.Context) error {
	err := d.store.EnsureContainer(ctx)
	d.logger.Debug("blob.EnsureContainer", "error", err)
	return err
}

func (d *Debug) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := d.store.Exists(ctx, name)
	d.logger.Debug("blob.Exists", "name", name, "exists", ok, "error", err)
	return ok, err
}

func (d *Debug) Properties(ctx context.Context, name string) (Properties, error) {
	props, err := d.store.Properties(ctx, name)
	d.logger.Debug("blob.Properties", "name", name, "metadata", props.Metadata, "error", err)
	return props, err
}

func (d *Debug) ListPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	entries, err := d.store.ListPrefix(ctx, prefix)
	d.logger.Debug("blob.ListPrefix", "prefix", prefix, "count", len(entries), "error", err)
	return entries, err
}

func (d *Debug) Download(ctx context.Context, name, destPath string) error {
	err := d.store.Download(ctx, name, destPath)
	d.logger.Debug("blob.Download", "name", name, "dest", destPath, "error", err)
	return err
}

func (d *Debug) Upload(ctx context.Context, name, srcPath string, metadata map[string]string) error {
	err := d.store.Upload(ctx, name, srcPath, metadata)
	d.logger.Debug("blob.Upload", "name", name, "src", srcPath, "error", err)
	return err
}
