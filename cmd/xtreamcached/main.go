// Command xtreamcached mirrors an Xtream-codes provider catalog into a local
// snapshot cache and serves it over HTTP.
//
//	daemon  (default) serve the API, refresh on boot and on a timer
//	sync    one-shot: refresh the catalog, persist it, exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapetech/xtreamcache/internal/api"
	"github.com/snapetech/xtreamcache/internal/cache"
	"github.com/snapetech/xtreamcache/internal/catalog"
	"github.com/snapetech/xtreamcache/internal/config"
	"github.com/snapetech/xtreamcache/internal/fetch"
	"github.com/snapetech/xtreamcache/internal/health"
	"github.com/snapetech/xtreamcache/internal/logx"
	"github.com/snapetech/xtreamcache/internal/mediasource"
	"github.com/snapetech/xtreamcache/internal/store"
	"github.com/snapetech/xtreamcache/internal/xtream"
)

func main() {
	flag.Parse()
	mode := flag.Arg(0)
	if mode == "" {
		mode = "daemon"
	}

	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	logx.Configure(logx.Config{Level: cfg.LogLevel, Service: "xtreamcached"})
	log := logx.Base()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	client := xtream.New(cfg.ProviderURL, cfg.ProviderUser, cfg.ProviderPass,
		xtream.WithRateLimit(cfg.RateRPS, cfg.RateBurst),
		xtream.WithTimeout(cfg.HTTPTimeout),
	)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open snapshot store")
	}
	defer db.Close()

	var exitCode int
	switch mode {
	case "daemon":
		exitCode = runDaemon(cfg, client, db)
	case "sync":
		exitCode = runSync(cfg, client, db)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q (want daemon or sync)\n", mode)
		exitCode = 2
	}
	os.Exit(exitCode)
}

// buildCoordinator wires the coordinator to the fetch pipeline and the
// snapshot store, restoring the last persisted snapshot so the daemon serves
// data immediately after a restart.
func buildCoordinator(cfg *config.Config, client *xtream.Client, db *store.Store) *cache.Coordinator {
	log := logx.Base()
	coord := cache.New(fetch.New(client),
		cache.WithKinds(cfg.Kinds()...),
		cache.WithPublishHook(func(snap *catalog.Snapshot) {
			if err := db.Save(snap); err != nil {
				log.Error().Err(err).Msg("persist snapshot")
			}
		}),
		cache.WithInvalidateHook(func() {
			if err := db.Clear(); err != nil {
				log.Error().Err(err).Msg("clear snapshot store")
			}
		}),
	)

	snap, err := db.LoadLatest()
	if err != nil {
		log.Warn().Err(err).Msg("restore persisted snapshot")
	} else if snap != nil {
		coord.Seed(snap)
		log.Info().
			Time("built_at", snap.BuiltAt()).
			Int("entries", snap.EntryCount()).
			Msg("restored persisted snapshot")
	}
	return coord
}

func runDaemon(cfg *config.Config, client *xtream.Client, db *store.Store) int {
	log := logx.Base()
	coord := buildCoordinator(cfg, client, db)

	builder := mediasource.NewBuilder(mediasource.Credentials{
		BaseURL:  cfg.ProviderURL,
		Username: cfg.ProviderUser,
		Password: cfg.ProviderPass,
	}, sessionFormats(client))

	checker := health.New(client.Session, coord, 0)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(coord, builder, checker).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("listen", cfg.Listen).Msg("serving API")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		refreshLoop(ctx, cfg, coord)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("daemon exited with error")
		return 1
	}
	log.Info().Msg("daemon stopped")
	return 0
}

// refreshLoop triggers the boot refresh and then the periodic one. The
// coordinator's single-flight guarantee makes overlapping ticks harmless.
func refreshLoop(ctx context.Context, cfg *config.Config, coord *cache.Coordinator) {
	if cfg.RefreshOnStart {
		coord.TriggerRefresh()
	}
	if cfg.RefreshInterval <= 0 {
		<-ctx.Done()
		coord.CancelRefresh()
		return
	}
	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			coord.CancelRefresh()
			return
		case <-ticker.C:
			coord.TriggerRefresh()
		}
	}
}

// runSync performs one refresh to completion and exits. Useful from cron and
// for smoke-testing credentials.
func runSync(cfg *config.Config, client *xtream.Client, db *store.Store) int {
	log := logx.Base()
	coord := buildCoordinator(cfg, client, db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		coord.CancelRefresh()
	}()

	h, _ := coord.TriggerRefresh()
	if err := h.Wait(context.Background()); err != nil {
		log.Error().Err(err).Msg("sync failed")
		return 1
	}
	log.Info().Int("entries", coord.Snapshot().EntryCount()).Msg("sync complete")
	return 0
}

// sessionFormats asks the provider which output formats the account may
// direct-stream. Best effort: on error the builder falls back to defaults.
func sessionFormats(client *xtream.Client) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	info, err := client.Session(ctx)
	if err != nil {
		base := logx.Base()
		base.Warn().Err(err).Msg("session probe failed; assuming default output formats")
		return nil
	}
	return info.OutputFormats
}
