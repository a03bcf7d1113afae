package cache

import (
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/weavr-io/azure-cache/pkg/archive"
	"github.com/weavr-io/azure-cache/pkg/blob"
	"github.com/weavr-io/azure-cache/pkg/metrics"
)

// Config selects and tunes a cache provider. Provider choice is a pure
// function of which backend fields are set, evaluated once at startup.
type Config struct {
	// AzureConnectionString plus AzureContainer select the Azure remote
	// backend when non-empty.
	AzureConnectionString string
	AzureContainer        string

	// S3Bucket selects the S3 remote backend when non-empty and no Azure
	// connection string is present.
	S3Bucket string

	// LocalDir is the directory used by the local fallback provider when no
	// remote backend is configured.
	LocalDir string

	// Method is the archive compression method for all providers.
	Method archive.Method

	// TransferTimeout bounds remote downloads and uploads.
	TransferTimeout time.Duration

	// DebugStore wraps the chosen blob store with call tracing.
	DebugStore bool
}

// Deps carries the collaborators a provider is built from.
type Deps struct {
	Codec   *archive.Codec
	Logger  *slog.Logger
	Tracker *metrics.LatencyTracker

	// S3Client must be set when Config.S3Bucket is used.
	S3Client *s3.Client
}

// Select builds the provider the configuration calls for: Azure when a
// connection string is present, S3 when a bucket is, the local fallback
// otherwise.
func Select(cfg Config, deps Deps) (Provider, error) {
	switch {
	case cfg.AzureConnectionString != "":
		if cfg.AzureContainer == "" {
			return nil, errors.New("cache: azure backend requires a container name")
		}
		store, err := blob.NewAzureStore(cfg.AzureConnectionString, cfg.AzureContainer, deps.Logger)
		if err != nil {
			return nil, err
		}
		return newRemote(store, cfg, deps), nil

	case cfg.S3Bucket != "":
		if deps.S3Client == nil {
			return nil, errors.New("cache: s3 backend requires a client")
		}
		store := blob.NewS3Store(deps.S3Client, cfg.S3Bucket, deps.Logger)
		return newRemote(store, cfg, deps), nil

	default:
		local, err := NewLocalProvider(cfg.LocalDir, deps.Codec, deps.Logger, deps.Tracker, nil, cfg.Method)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
}

func newRemote(store blob.Store, cfg Config, deps Deps) *RemoteProvider {
	var s blob.Store = store
	if cfg.DebugStore {
		s = blob.NewDebug(s, deps.Logger)
	}
	return NewRemoteProvider(s, deps.Codec, deps.Logger, deps.Tracker, RemoteConfig{
		Method:          cfg.Method,
		TransferTimeout: cfg.TransferTimeout,
	})
}
