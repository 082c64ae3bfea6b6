package document

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps a TextCache consistent with the upload directory: when a
// stored file is removed, renamed or rewritten behind our back (by the
// janitor or an operator), its cached text is evicted.
type Watcher struct {
	fw     *fsnotify.Watcher
	cache  *TextCache
	logger *slog.Logger
}

// NewWatcher starts watching dir. The watch is registered before
// NewWatcher returns, so no change made afterwards is missed.
func NewWatcher(cache *TextCache, dir string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{fw: fw, cache: cache, logger: logger}, nil
}

// Run processes events until ctx is cancelled or the watcher fails, then
// releases the underlying watch.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			if !ValidName(name) {
				continue
			}
			w.cache.Evict(name)
			w.logger.Debug("evicted cached text", "stored_name", name, "op", event.Op.String())

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("upload watcher error", "err", err)
		}
	}
}
