package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/mirrord/internal/logctx"
	"github.com/italolelis/mirrord/internal/transfer"
)

// Sweep deletes mirrored files older than keepFor and drops their registry
// records. Files that belong to an in-flight transfer are never touched.
func Sweep(ctx context.Context, reg *transfer.Registry, dir string, keepFor time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := time.Now().Add(-keepFor)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read downloads dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if reg.IsActiveFile(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // already deleted
			}

			logger.Error("failed to stat file", "file", name, "err", err)

			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete expired file", "file", path, "err", err)

			continue
		}

		reg.DropByFilename(name)
		logger.Info("deleted expired file", "file", path)
	}

	// Records for files published remotely have no local file left, so the
	// directory walk above never reaches them.
	for _, dropped := range reg.PruneCompletedBefore(cutoff) {
		logger.Info("pruned expired record", "download_id", dropped.ID, "file", dropped.Filename)
	}

	return nil
}
