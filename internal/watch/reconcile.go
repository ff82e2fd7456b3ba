package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"
)

// DefaultReconcileInterval is how often the periodic reconciliation walk
// runs as a safety net against missed fsnotify events, grounded on
// onedrive-go's own safety-scan cadence (internal/sync/observer_local.go's
// safetyScanInterval).
const DefaultReconcileInterval = 5 * time.Minute

// KnownPaths reports which relative paths the caller already believes are
// synced, so ReconcileLoop only enqueues genuinely new or changed entries.
type KnownPaths interface {
	// Seen returns true if relPath is already tracked with the given mtime.
	Seen(relPath string, modTime time.Time) bool
	// Observe records relPath as tracked as of modTime.
	Observe(relPath string, modTime time.Time)
}

// ReconcileLoop periodically walks the sync root and enqueues a MODIFY
// intent for any file fsnotify may have missed — the supplemented
// periodic-reconciliation pass (see DESIGN.md's open-question decisions).
// It blocks until ctx is canceled.
func (w *Watcher) ReconcileLoop(ctx context.Context, interval time.Duration, known KnownPaths) {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reconcileOnce(known)
		}
	}
}

func (w *Watcher) reconcileOnce(known KnownPaths) {
	w.logger.Debug("running periodic reconciliation scan", slog.String("root", w.root))

	count := 0

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return skipDir(d)
		}

		if d.IsDir() {
			if path != w.root && filepath.Base(path)[0] == '.' {
				return filepath.SkipDir
			}

			return nil
		}

		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}

		relPath = NormalizePath(relPath)
		if isIgnoredPath(relPath) || w.tombstones.IsTombstoned(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if known.Seen(relPath, info.ModTime()) {
			return nil
		}

		known.Observe(relPath, info.ModTime())

		if w.queue.Enqueue(relPath, IntentModify) {
			count++
		}

		return nil
	})
	if err != nil {
		w.logger.Warn("reconciliation scan failed", slog.String("error", err.Error()))
		return
	}

	if count > 0 {
		w.logger.Info("reconciliation scan enqueued stale paths", slog.Int("count", count))
	}
}
