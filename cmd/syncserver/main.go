// Command syncserver is the explicit composition root for the sync
// service's HTTP surface (spec.md §6, §9): it wires storage, the session
// repository, the decision engine, the upload-session manager and its
// expiry sweeper, the event bus (with an optional Redis relay for
// multi-process fan-out), and the gin server, then runs until signalled.
//
// Grounded on onedrive-go's main.go/root.go composition style: a single
// flat wiring function, no DI container, config resolved once up front.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/filesync-core/internal/auth"
	"github.com/tonimelisma/filesync-core/internal/decision"
	"github.com/tonimelisma/filesync-core/internal/eventbus"
	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/server"
	"github.com/tonimelisma/filesync-core/internal/storage"
	"github.com/tonimelisma/filesync-core/internal/uploadsession"
	"github.com/tonimelisma/filesync-core/internal/vector"
)

// sweepInterval is how often expired upload sessions are swept (spec.md §4.4).
const sweepInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "syncserver.toml", "path to the server's TOML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := repository.NewSQLiteStore(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	alloc := storage.New(cfg.StorageBasePath)

	hub := eventbus.NewHub(logger)

	var bus decision.Publisher = hub

	var relay *eventbus.RedisRelay
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		relay = eventbus.NewRedisRelay(rdb, hub, logger)
		bus = relay

		logger.Info("redis relay enabled", "addr", cfg.RedisAddr)
	}

	engine := decision.New(store, alloc, bus, logger)

	sessions := uploadsession.New(store, alloc, logger, completionHandler(store, engine, logger))

	authSvc := auth.NewService([]byte(cfg.JWTSecret), store)

	srv := server.New(cfg, store, alloc, sessions, engine, authSvc, hub, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	g.Go(func() error {
		return sweepLoop(gctx, sessions, logger)
	})

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// completionHandler hands assembled chunked-upload bytes to the decision
// engine. It resolves the username from the userID the session machinery
// carries, since decision.Engine.Submit classifies by username (spec.md
// §4.6), not userID.
func completionHandler(store repository.Store, engine *decision.Engine, logger *slog.Logger) uploadsession.CompletionHandler {
	return func(ctx context.Context, userID, fileID, filePath, clientID string,
		data []byte, checksum string, vv vector.Vector,
	) error {
		user, err := store.FindUserByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("resolve username for completed upload: %w", err)
		}

		result, err := engine.Submit(ctx, decision.SubmitRequest{
			Username:     user.Username,
			FilePath:     filePath,
			ClientID:     clientID,
			ClientVector: vv,
			Checksum:     checksum,
			FileSize:     int64(len(data)),
			Data:         data,
		})
		if err != nil {
			return fmt.Errorf("submit completed chunked upload: %w", err)
		}

		if result.Outcome != decision.Success {
			logger.Warn("chunked upload did not complete with SUCCESS",
				"file_id", fileID, "outcome", result.Outcome, "message", result.Message)
		}

		return nil
	}
}

// sweepLoop periodically marks expired IN_PROGRESS upload sessions EXPIRED
// and deletes their partial chunk storage (spec.md §4.4, §5).
func sweepLoop(ctx context.Context, sessions *uploadsession.Manager, logger *slog.Logger) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := sessions.SweepExpired(ctx, time.Now().UTC()); err != nil {
				logger.Warn("upload session sweep failed", "error", err)
			}
		}
	}
}
