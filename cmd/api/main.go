package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fastprodman/coinchat/internal/api"
	"github.com/fastprodman/coinchat/internal/infra/logging"
	"github.com/fastprodman/coinchat/internal/infra/metrics"
	"github.com/fastprodman/coinchat/internal/infra/pgutils"
	"github.com/fastprodman/coinchat/internal/infra/redisutil"
	pgusers "github.com/fastprodman/coinchat/internal/repos/users/postgres"
	"github.com/fastprodman/coinchat/internal/services/balancecache"
	"github.com/fastprodman/coinchat/internal/services/chatgate"
	"github.com/fastprodman/coinchat/internal/services/ledger"
	"github.com/fastprodman/coinchat/internal/services/purchase"
	"github.com/fastprodman/coinchat/internal/services/reconcile"
	"github.com/fastprodman/coinchat/pkg/envconf"
	"github.com/fastprodman/coinchat/pkg/shutdownqueue"
	"github.com/joho/godotenv"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
)

const dbStatsInterval = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	// .env is optional; real deployments export the variables directly.
	_ = godotenv.Load()

	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	dbConns, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.Add("postgres", func(context.Context) error {
		return dbConns.Close()
	})

	go metrics.StartDBStatsCollector(ctx, dbConns, dbStatsInterval)

	store, err := newCacheStore(ctx, cfg)
	if err != nil {
		return err
	}

	// --- Services ---
	ledgerSrv := ledger.New(dbConns)

	balances := balancecache.New(ledgerSrv, store, cfg.BalanceCache.PollInterval)
	unsubscribe := ledgerSrv.Subscribe(balances.Invalidate)

	shutdownqueue.Add("balance cache subscription", func(context.Context) error {
		unsubscribe()
		return nil
	})

	sessions := &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.Stripe.SecretKey}
	intents := purchase.NewIntentFactory(cfg.Packages, sessions, pgusers.New(dbConns), cfg.Stripe.Currency, cfg.Stripe.AppURL)

	reconciler := reconcile.New(dbConns, ledgerSrv, cfg.Stripe, cfg.Reconcile)

	completer := chatgate.NewHTTPCompleter(cfg.Chat.APIURL, cfg.Chat.APIKey, cfg.Chat.Timeout)
	gate := chatgate.New(ledgerSrv, completer, cfg.Chat.RefundOnFailure)

	// --- HTTP server ---
	handlers := api.NewHandler(balances, intents, gate, reconciler)
	srv := api.NewServer(cfg.Port, api.NewRouter(handlers, api.NewAuthenticator(cfg.Auth)))

	// Registered last so it runs first: stop taking requests before the
	// stores they use are closed.
	shutdownqueue.Add("http server", func(c context.Context) error {
		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	// Run server
	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started", "port", cfg.Port, "packages", len(cfg.Packages.Packages()))

	// --- Wait until either context cancels or server errors out ---
	select {
	case <-ctx.Done():
		// graceful path; deferred shutdownqueue.Shutdown will run
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}

// newCacheStore uses Redis when configured so replicas share one view.
func newCacheStore(ctx context.Context, cfg *apiConfig) (balancecache.Store, error) {
	if cfg.Redis.Addr == "" {
		slog.Info("balance cache in process memory")
		return balancecache.NewMemoryStore(), nil
	}

	client, err := redisutil.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("open redis: %w", err)
	}

	shutdownqueue.Add("redis", func(context.Context) error {
		return client.Close()
	})

	slog.Info("balance cache in redis", "addr", cfg.Redis.Addr)

	return balancecache.NewRedisStore(client), nil
}
