package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/filesync-core/internal/transport"
	"github.com/tonimelisma/filesync-core/internal/watch"
)

// syncWorkerCount is the number of goroutines draining the upload queue,
// grounded on onedrive-go's fixed-size transfer worker pool
// (internal/sync/executor.go's concurrency cap).
const syncWorkerCount = 4

func newSyncCmd() *cobra.Command {
	var watchMode bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local folder with the server",
		Long: `Walks the local sync folder once, submitting every file that is not
tombstoned. With --watch, stays resident: a filesystem watcher, a periodic
reconciliation sweep, and a live push connection keep the folder in sync
until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watchMode {
				return runWatchSync(cmd)
			}

			return runOneShotSync(cmd)
		},
	}

	cmd.Flags().BoolVar(&watchMode, "watch", false, "stay resident and sync continuously")

	return cmd
}

func runOneShotSync(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if err := requireSession(cc); err != nil {
		return err
	}

	tombstones, err := loadTombstones(cc.Cfg)
	if err != nil {
		return fmt.Errorf("loading tombstone map: %w", err)
	}

	vs, err := loadVectorStore(cc.Cfg)
	if err != nil {
		return fmt.Errorf("loading version vector store: %w", err)
	}

	queue := watch.NewUploadQueue(watch.DefaultQueueCapacity, func(path string) {
		cc.Logger.Warn("upload queue full, dropping path", "path", path)
	})

	count, err := enqueueAllLocalFiles(cc.Cfg.SyncPath, tombstones, queue)
	if err != nil {
		return fmt.Errorf("walking sync folder: %w", err)
	}

	cc.Logger.Info("one-shot sync starting", "queued", count)

	w := &uploadWorker{cc: cc, vectors: vs, tombstones: tombstones}

	return drainQueue(ctx, queue, w, syncWorkerCount)
}

func runWatchSync(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())

	if err := requireSession(cc); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cc.Cfg.SyncPath, 0o755); err != nil {
		return fmt.Errorf("creating sync folder: %w", err)
	}

	tombstones, err := loadTombstones(cc.Cfg)
	if err != nil {
		return fmt.Errorf("loading tombstone map: %w", err)
	}

	vs, err := loadVectorStore(cc.Cfg)
	if err != nil {
		return fmt.Errorf("loading version vector store: %w", err)
	}

	queue := watch.NewUploadQueue(watch.DefaultQueueCapacity, func(path string) {
		cc.Logger.Warn("upload queue full, dropping path", "path", path)
	})

	watcher := watch.New(cc.Cfg.SyncPath, cc.Cfg.ClientID, tombstones, queue, cc.Logger)
	w := &uploadWorker{cc: cc, vectors: vs, tombstones: tombstones}
	remote := &remoteApplier{cc: cc, vectors: vs, tombstones: tombstones}

	conn := transport.New(transport.Options{
		URL:        wsURLFromServerURL(cc.Cfg.ServerURL),
		ClientID:   cc.Cfg.ClientID,
		Token:      cc.Token,
		Logger:     cc.Logger,
		OnChange:   remote.applyChange,
		OnConflict: remote.applyConflict,
		OnConnected: func(connected bool) {
			cc.Logger.Info("session transport state changed", "connected", connected)
		},
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Watch(gctx)
	})

	g.Go(func() error {
		watcher.ReconcileLoop(gctx, watch.DefaultReconcileInterval, newSeenPaths())
		return nil
	})

	g.Go(func() error {
		return conn.Run(gctx)
	})

	g.Go(func() error {
		return runQueueWorkers(gctx, queue, w, syncWorkerCount)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

func requireSession(cc *CLIContext) error {
	if cc.Cfg.AuthToken == "" {
		return fmt.Errorf("not logged in — run 'syncclient login' first")
	}

	if cc.Cfg.ClientID == "" {
		return fmt.Errorf("no client id assigned — run 'syncclient login' first")
	}

	return nil
}

// enqueueAllLocalFiles walks root and enqueues every non-ignored,
// non-tombstoned file as a MODIFY intent (the server-side decision engine
// classifies CREATE vs MODIFY on receipt, so a uniform intent is sufficient
// for the one-shot pass).
func enqueueAllLocalFiles(root string, tombstones *watch.TombstoneMap, queue *watch.UploadQueue) (int, error) {
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}

			return walkErr
		}

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}

			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		relPath = watch.NormalizePath(relPath)
		if tombstones.IsTombstoned(relPath) {
			return nil
		}

		if queue.Enqueue(relPath, watch.IntentModify) {
			count++
		}

		return nil
	})
	if err != nil && os.IsNotExist(err) {
		return count, nil
	}

	return count, err
}

// drainQueue dequeues intents with n workers until the queue has been empty
// for one grace period, then returns. Used by the one-shot sync path.
func drainQueue(ctx context.Context, queue *watch.UploadQueue, w *uploadWorker, n int) error {
	stop := make(chan struct{})
	done := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			runWorkerLoop(ctx, queue, w, stop)
		}()
	}

	idle := time.NewTimer(500 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			drainDone(done, n)

			return ctx.Err()

		case <-idle.C:
			if queue.Len() == 0 {
				close(stop)
				drainDone(done, n)

				return nil
			}

			idle.Reset(500 * time.Millisecond)
		}
	}
}

// runQueueWorkers runs n workers until ctx is canceled. Used by --watch,
// which never expects the queue to stay empty.
func runQueueWorkers(ctx context.Context, queue *watch.UploadQueue, w *uploadWorker, n int) error {
	stop := make(chan struct{})

	go func() {
		<-ctx.Done()
		close(stop)
	}()

	done := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			runWorkerLoop(ctx, queue, w, stop)
		}()
	}

	drainDone(done, n)

	return ctx.Err()
}

func runWorkerLoop(ctx context.Context, queue *watch.UploadQueue, w *uploadWorker, stop <-chan struct{}) {
	for {
		intent, ok := queue.Dequeue(stop)
		if !ok {
			return
		}

		if err := w.process(ctx, intent); err != nil {
			w.cc.Logger.Warn("sync intent failed", "path", intent.Path, "intent", intent.Intent.String(), "error", err)
		}

		queue.Complete(intent.Path)
	}
}

func drainDone(done <-chan struct{}, n int) {
	for i := 0; i < n; i++ {
		<-done
	}
}

// seenPaths is an in-memory KnownPaths used by the watch-mode reconciliation
// sweep; it resets on restart, so the first sweep after a restart enqueues a
// MODIFY intent for every file once, and each is resubmitted with a freshly
// bumped local vector.
type seenPaths struct {
	seen map[string]time.Time
}

func newSeenPaths() *seenPaths {
	return &seenPaths{seen: make(map[string]time.Time)}
}

func (s *seenPaths) Seen(relPath string, modTime time.Time) bool {
	t, ok := s.seen[relPath]
	return ok && t.Equal(modTime)
}

func (s *seenPaths) Observe(relPath string, modTime time.Time) {
	s.seen[relPath] = modTime
}

func wsURLFromServerURL(serverURL string) string {
	wsURL := strings.Replace(serverURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	return strings.TrimSuffix(wsURL, "/") + "/ws"
}
