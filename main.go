// Command azure-cache stores and restores build artifacts through a
// key-addressed archive cache. The remote backend is selected from
// configuration: an Azure storage connection string wins, then an S3 bucket,
// then a local directory cache.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	flag "github.com/spf13/pflag"

	"github.com/weavr-io/azure-cache/pkg/archive"
	"github.com/weavr-io/azure-cache/pkg/cache"
	"github.com/weavr-io/azure-cache/pkg/metrics"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "azure-cache: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: azure-cache <restore|save> [flags]")
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "restore":
		return runRestore(args)
	case "save":
		return runSave(args)
	default:
		return fmt.Errorf("unknown command %q (want restore or save)", cmd)
	}
}

// commonFlags holds the flags shared by the restore and save subcommands.
type commonFlags struct {
	paths            []string
	key              string
	compression      string
	workspaceRoot    string
	connectionString string
	container        string
	s3Bucket         string
	localDir         string
	timeout          time.Duration
	debug            bool
}

func registerCommon(fs *flag.FlagSet, cf *commonFlags) {
	fs.StringArrayVar(&cf.paths, "path", nil, "path to cache (repeatable)")
	fs.StringVar(&cf.key, "key", "", "cache key")
	fs.StringVar(&cf.compression, "compression", string(archive.MethodGzip), "archive compression: gzip, zstd, or none")
	fs.StringVar(&cf.workspaceRoot, "workspace-root", envOr("CACHE_WORKSPACE_ROOT", ""), "directory cached paths are relative to (default: working directory)")
	fs.StringVar(&cf.connectionString, "connection-string", os.Getenv("AZURE_STORAGE_CONNECTION_STRING"), "Azure storage connection string")
	fs.StringVar(&cf.container, "container", envOr("CACHE_CONTAINER", "build-cache"), "Azure blob container name")
	fs.StringVar(&cf.s3Bucket, "s3-bucket", os.Getenv("CACHE_S3_BUCKET"), "S3 bucket name")
	fs.StringVar(&cf.localDir, "local-dir", os.Getenv("CACHE_LOCAL_DIR"), "local cache directory for the fallback provider")
	fs.DurationVar(&cf.timeout, "timeout", cache.DefaultTransferTimeout, "download/upload timeout")
	fs.BoolVar(&cf.debug, "debug", false, "verbose logging plus a latency summary on exit")
}

func runRestore(args []string) error {
	var cf commonFlags
	var restoreKeys []string
	var lookupOnly bool

	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	registerCommon(fs, &cf)
	fs.StringSliceVar(&restoreKeys, "restore-keys", nil, "fallback key prefixes, most specific first")
	fs.BoolVar(&lookupOnly, "lookup-only", false, "report the matched key without downloading")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := setup(&cf)
	if err != nil {
		return err
	}
	defer env.finish()

	matched, err := env.provider.Restore(context.Background(), cf.paths, cf.key, restoreKeys, cache.RestoreOptions{
		LookupOnly: lookupOnly,
	})
	if err != nil {
		return err
	}
	if matched != "" {
		fmt.Println(matched)
	}
	return nil
}

func runSave(args []string) error {
	var cf commonFlags

	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	registerCommon(fs, &cf)
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := setup(&cf)
	if err != nil {
		return err
	}
	defer env.finish()

	id := env.provider.Save(context.Background(), cf.paths, cf.key)
	if id != cache.SaveSkipped {
		fmt.Println(id)
	}
	return nil
}

// environment is the wired-up provider plus the pieces reported on exit.
type environment struct {
	provider cache.Provider
	tracker  *metrics.LatencyTracker
	debug    bool
}

func (e *environment) finish() {
	if e.debug {
		fmt.Fprintln(os.Stderr, "latency summary:")
		fmt.Fprintln(os.Stderr, e.tracker.Summary())
	}
}

func setup(cf *commonFlags) (*environment, error) {
	if cf.key == "" {
		return nil, fmt.Errorf("--key is required")
	}
	if len(cf.paths) == 0 {
		return nil, fmt.Errorf("at least one --path is required")
	}

	method := archive.Method(cf.compression)
	if !method.Valid() {
		return nil, fmt.Errorf("unknown compression method %q", cf.compression)
	}

	level := slog.LevelInfo
	if cf.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	root := cf.workspaceRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		root = wd
	}

	codec, err := archive.NewCodec(root, logger)
	if err != nil {
		return nil, err
	}

	localDir := cf.localDir
	if localDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		localDir = filepath.Join(base, "azure-cache")
	}

	tracker := metrics.NewLatencyTracker(0.01)
	deps := cache.Deps{
		Codec:   codec,
		Logger:  logger,
		Tracker: tracker,
	}

	// The S3 client is only built when the configuration selects it, so a
	// machine without AWS credentials can still use the other backends.
	if cf.connectionString == "" && cf.s3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		deps.S3Client = s3.NewFromConfig(awsCfg)
	}

	provider, err := cache.Select(cache.Config{
		AzureConnectionString: cf.connectionString,
		AzureContainer:        cf.container,
		S3Bucket:              cf.s3Bucket,
		LocalDir:              localDir,
		Method:                method,
		TransferTimeout:       cf.timeout,
		DebugStore:            cf.debug,
	}, deps)
	if err != nil {
		return nil, err
	}

	return &environment{
		provider: provider,
		tracker:  tracker,
		debug:    cf.debug,
	}, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
