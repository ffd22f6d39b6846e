// Package importer feeds externally produced events into the local store.
// It watches a drop directory for .ics files and ingests each one as
// locally created events (source "import", eligible for the next push).
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/stevetools/calsync/internal/ics"
	"github.com/stevetools/calsync/internal/store"
)

// sourceTag marks imported events; the deletion sweep never touches them.
const sourceTag = "import"

// Importer ingests .ics files from a drop directory.
type Importer struct {
	store  store.Store
	dir    string
	logger *slog.Logger
}

func New(st store.Store, dir string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Importer{store: st, dir: dir, logger: logger}
}

// IngestFile decodes one .ics file into events and stores them. Imported
// events get fresh ids: they are local-origin, so the remote-derived id rule
// does not apply. The file is renamed with a .imported suffix on success so
// it is never ingested twice.
func (imp *Importer) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("importer: reading %s: %w", path, err)
	}

	records, err := ics.Decode(string(data))
	if err != nil {
		return 0, fmt.Errorf("importer: decoding %s: %w", path, err)
	}

	count := 0

	for _, rec := range records {
		ev := ics.ToEvent(rec, sourceTag, time.Now())
		ev.ID = uuid.NewString()
		ev.RemoteUID = ""
		ev.NeedsPush = true

		if err := imp.store.Put(ctx, ev); err != nil {
			return count, fmt.Errorf("importer: storing event from %s: %w", path, err)
		}

		count++
	}

	if err := imp.store.Persist(ctx); err != nil {
		return count, fmt.Errorf("importer: persisting store: %w", err)
	}

	if err := os.Rename(path, path+".imported"); err != nil {
		return count, fmt.Errorf("importer: marking %s done: %w", path, err)
	}

	imp.logger.Info("imported events from file", "path", path, "events", count)

	return count, nil
}

// ScanOnce ingests every .ics file currently in the drop directory.
func (imp *Importer) ScanOnce(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(imp.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("importer: reading drop dir %s: %w", imp.dir, err)
	}

	total := 0

	for _, entry := range entries {
		if entry.IsDir() || !isCandidate(entry.Name()) {
			continue
		}

		n, err := imp.IngestFile(ctx, filepath.Join(imp.dir, entry.Name()))
		if err != nil {
			// One bad file never blocks the rest of the directory.
			imp.logger.Warn("import failed", "file", entry.Name(), "error", err)
			continue
		}

		total += n
	}

	return total, nil
}

// Watch ingests existing files, then blocks watching the drop directory
// until the context is canceled.
func (imp *Importer) Watch(ctx context.Context) error {
	if _, err := imp.ScanOnce(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("importer: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(imp.dir); err != nil {
		return fmt.Errorf("importer: watching %s: %w", imp.dir, err)
	}

	imp.logger.Info("watching import directory", "dir", imp.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			if !isCandidate(filepath.Base(event.Name)) {
				continue
			}

			if _, err := imp.IngestFile(ctx, event.Name); err != nil {
				imp.logger.Warn("import failed", "file", event.Name, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			imp.logger.Warn("watcher error", "error", err)
		}
	}
}

func isCandidate(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".ics")
}
