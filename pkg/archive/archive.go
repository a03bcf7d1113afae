// Package archive packs filesystem paths into a single compressed tarball and
// unpacks them again, by driving an external tar binary. Entries are stored
// relative to a workspace root so archives are portable between machines that
// share the same root layout.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Method selects the compression applied to an archive.
type Method string

const (
	MethodGzip Method = "gzip"
	MethodZstd Method = "zstd"
	MethodNone Method = "none"
)

// Extension returns the file extension for archives using this method.
func (m Method) Extension() string {
	switch m {
	case MethodGzip:
		return ".tar.gz"
	case MethodZstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// Valid reports whether m is a known compression method.
func (m Method) Valid() bool {
	switch m {
	case MethodGzip, MethodZstd, MethodNone:
		return true
	}
	return false
}

// MethodForName guesses the compression method from an archive file name.
// This is a convenience for labeling already-named archives only; creation
// and extraction always take the method explicitly.
func MethodForName(name string) Method {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return MethodGzip
	case strings.HasSuffix(name, ".tar.zst"):
		return MethodZstd
	default:
		return MethodNone
	}
}

// ErrToolNotFound indicates no usable tar binary is on the PATH.
var ErrToolNotFound = errors.New("archive: no tar binary found in PATH")

// ExitError reports a nonzero exit from the tar binary.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("archive: tar exited with code %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

// archiveBaseName is the file name (before extension) used for created archives.
const archiveBaseName = "cache"

// manifestName is the transient file listing archive members, passed to tar
// via --files-from to avoid command-line length limits for large path sets.
const manifestName = "manifest.txt"

// Codec creates and extracts archives under a fixed workspace root.
type Codec struct {
	tarPath string
	root    string
	logger  *slog.Logger

	// Injected for tests.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewCodec resolves the tar binary once and returns a codec rooted at root.
// GNU tar ("gtar") is preferred over the platform default when both are
// discoverable, since its archive semantics are the most POSIX-compatible.
// Returns ErrToolNotFound if neither binary exists.
func NewCodec(root string, logger *slog.Logger) (*Codec, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to resolve workspace root: %w", err)
	}

	tarPath, err := exec.LookPath("gtar")
	if err != nil {
		tarPath, err = exec.LookPath("tar")
		if err != nil {
			return nil, ErrToolNotFound
		}
	}

	return &Codec{
		tarPath:     tarPath,
		root:        absRoot,
		logger:      logger,
		execCommand: exec.CommandContext,
	}, nil
}

// Root returns the workspace root paths are archived relative to.
func (c *Codec) Root() string { return c.root }

// Create archives the given paths into destDir and returns the archive path.
// Paths are stored relative to the codec's root. A transient manifest file is
// written next to the archive and removed afterward on a best-effort basis.
func (c *Codec) Create(ctx context.Context, destDir string, paths []string, method Method) (string, error) {
	if len(paths) == 0 {
		return "", errors.New("archive: no paths to archive")
	}
	if !method.Valid() {
		return "", fmt.Errorf("archive: unknown compression method %q", method)
	}

	relPaths, err := c.relativize(paths)
	if err != nil {
		return "", err
	}

	manifestPath := filepath.Join(destDir, manifestName)
	manifest := strings.Join(relPaths, "\n") + "\n"
	if err := os.WriteFile(manifestPath, []byte(manifest), 0644); err != nil {
		return "", fmt.Errorf("archive: failed to write manifest: %w", err)
	}
	defer func() {
		// The manifest only matters for this one invocation; a failed
		// removal is worth a log line, nothing more.
		if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove archive manifest", "path", manifestPath, "error", err)
		}
	}()

	archivePath := filepath.Join(destDir, archiveBaseName+method.Extension())
	args := []string{"-cf", archivePath, "-C", c.root, "--files-from", manifestPath}
	args = append(args, compressionArgs(method)...)

	if err := c.run(ctx, args); err != nil {
		return "", err
	}
	return archivePath, nil
}

// Extract unpacks archivePath under the codec's root.
func (c *Codec) Extract(ctx context.Context, archivePath string, method Method) error {
	if !method.Valid() {
		return fmt.Errorf("archive: unknown compression method %q", method)
	}

	args := []string{"-xf", archivePath, "-C", c.root}
	args = append(args, compressionArgs(method)...)
	return c.run(ctx, args)
}

// relativize normalizes each path to absolute and re-expresses it relative to
// the workspace root.
func (c *Codec) relativize(paths []string) ([]string, error) {
	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(c.root, p)
		}
		r, err := filepath.Rel(c.root, abs)
		if err != nil {
			return nil, fmt.Errorf("archive: path %q is not relative to root %q: %w", p, c.root, err)
		}
		rel = append(rel, r)
	}
	return rel, nil
}

func compressionArgs(method Method) []string {
	switch method {
	case MethodGzip:
		return []string{"-z"}
	case MethodZstd:
		return []string{"--use-compress-program", "zstd"}
	default:
		return nil
	}
}

func (c *Codec) run(ctx context.Context, args []string) error {
	cmd := c.execCommand(ctx, c.tarPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return fmt.Errorf("archive: failed to run tar: %w", err)
	}
	return nil
}
