package modloader

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nfrund/modhost/internal/dynlib"
	"github.com/spf13/afero"
)

// libraryCache stages private copies of module binaries. The OS hands back
// the already mapped library when a path is opened twice, so every reload
// has to load from a fresh file name.
type libraryCache struct {
	fs     afero.Fs
	dir    string
	naming dynlib.Naming
}

// prepare creates the cache directory and removes copies left by a previous run.
func (c *libraryCache) prepare() error {
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create module cache directory %s: %w", c.dir, err)
	}

	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return fmt.Errorf("failed to read module cache directory %s: %w", c.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := c.fs.Remove(path); err != nil {
			logSystem(slog.LevelDebug, "Failed to remove stale cached module",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return nil
}

// stage copies source into the cache under a unique name and returns the copy's path.
func (c *libraryCache) stage(source, moduleContext string) (string, error) {
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	dst := filepath.Join(c.dir, c.naming.CacheFileName(moduleContext, tag))

	in, err := c.fs.Open(source)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", source, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", source, err)
	}

	out, err := c.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm()|0o500)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = c.fs.Remove(dst)
		return "", fmt.Errorf("copy %s to %s: %w", source, dst, err)
	}
	if err := out.Close(); err != nil {
		_ = c.fs.Remove(dst)
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	return dst, nil
}

// owns reports whether path is a staged copy inside the cache directory.
func (c *libraryCache) owns(path string) bool {
	rel, err := filepath.Rel(c.dir, path)
	return err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel) && filepath.Dir(rel) == "."
}

// remove deletes a staged copy; paths outside the cache are left alone.
func (c *libraryCache) remove(path string) {
	if !c.owns(path) {
		return
	}
	if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		logSystem(slog.LevelWarn, "Failed to remove cached module", slog.String("path", path), slog.String("error", err.Error()))
	}
}
