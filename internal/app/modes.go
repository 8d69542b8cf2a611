package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/server"
	"github.com/alanyoungcy/oracleadapter/internal/server/ws"
)

const (
	writerLeaseKey   = "lease:writer"
	archiveLockKey   = "lock:archive"
	verifierSweep    = time.Minute
	shutdownDeadline = 10 * time.Second
)

// ServerMode serves the HTTP and WebSocket API while holding the writer
// lease.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.holdLease(ctx, g, deps); err != nil {
		return err
	}
	a.startServer(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the archive loop. It reads registry state from the
// shared store, so it can run beside a serving process.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startArchive(ctx, g, deps)
	return g.Wait()
}

// FullMode serves the API and runs the archive loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.holdLease(ctx, g, deps); err != nil {
		return err
	}
	a.startServer(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	if a.cfg.NeedsArchive() {
		a.startArchive(ctx, g, deps)
	}
	return g.Wait()
}

// holdLease takes the writer lease before anything is served so two
// processes never mutate the same store. Losing it stops the group.
func (a *App) holdLease(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.LockManager == nil {
		a.logger.WarnContext(ctx, "redis disabled; running without writer lease")
		return nil
	}
	lost, err := deps.LockManager.Hold(ctx, writerLeaseKey, a.cfg.Redis.LeaseTTL.Duration)
	if err != nil {
		return fmt.Errorf("app: writer lease: %w", err)
	}
	a.logger.InfoContext(ctx, "writer lease acquired", slog.Duration("ttl", a.cfg.Redis.LeaseTTL.Duration))

	g.Go(func() error {
		if err := <-lost; err != nil {
			return fmt.Errorf("app: writer lease: %w", err)
		}
		return nil
	})
	return nil
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Events, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: a.startedAt})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Deps{
		Oracle:   deps.Oracle,
		Events:   deps.Events,
		Verifier: deps.Verifier,
		Limiter:  deps.RateLimiter,
		Hub:      hub,
		Probes:   deps.Probes,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Expired nonces are dropped periodically.
	g.Go(func() error {
		ticker := time.NewTicker(verifierSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := deps.Verifier.Cleanup(); n > 0 {
					a.logger.DebugContext(ctx, "expired nonces dropped", slog.Int("count", n))
				}
			}
		}
	})
}

func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil || !deps.Notifier.Enabled() {
		return
	}
	g.Go(func() error {
		return deps.Notifier.Run(ctx, deps.Events)
	})
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "archive not configured; skipping archive loop")
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := a.ArchiveOnce(ctx, deps); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archive cycle failed", slog.String("error", err.Error()))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}

// ArchiveOnce exports requests fulfilled before the export cutoff and
// writes a registry snapshot read from the store. When another process holds
// the archive lock the cycle is skipped.
func (a *App) ArchiveOnce(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive: %w", domain.ErrNotConfigured)
	}
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, a.cfg.Archive.Interval.Duration)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "archive lock held elsewhere; skipping cycle")
			return nil
		}
		if err != nil {
			return fmt.Errorf("app: archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.ExportAfterDays)
	n, err := deps.Archiver.ArchiveFulfilled(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive requests: %w", err)
	}

	owner, err := deps.RegistryStore.LoadOwner(ctx)
	if err != nil {
		return fmt.Errorf("app: snapshot owner: %w", err)
	}
	bindings, err := deps.RegistryStore.LoadBindings(ctx)
	if err != nil {
		return fmt.Errorf("app: snapshot bindings: %w", err)
	}
	path, err := deps.Archiver.SnapshotRegistry(ctx, owner.Hex(), bindings)
	if err != nil {
		return fmt.Errorf("app: snapshot: %w", err)
	}

	a.logger.InfoContext(ctx, "archive cycle complete",
		slog.Int64("requests", n),
		slog.Time("cutoff", cutoff),
		slog.String("snapshot", path),
	)
	return nil
}
