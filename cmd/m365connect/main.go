package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/martiola68/studio-manager-pro-sub002/internal/config"
	"github.com/martiola68/studio-manager-pro-sub002/internal/graph"
	httptransport "github.com/martiola68/studio-manager-pro-sub002/internal/http"
	"github.com/martiola68/studio-manager-pro-sub002/internal/http/handler"
	"github.com/martiola68/studio-manager-pro-sub002/internal/http/middleware"
	"github.com/martiola68/studio-manager-pro-sub002/internal/jwt"
	"github.com/martiola68/studio-manager-pro-sub002/internal/repository"
	"github.com/martiola68/studio-manager-pro-sub002/internal/secrets"
	"github.com/martiola68/studio-manager-pro-sub002/internal/server"
	m365svc "github.com/martiola68/studio-manager-pro-sub002/internal/service/m365"
	"github.com/martiola68/studio-manager-pro-sub002/internal/telemetry"
	"github.com/martiola68/studio-manager-pro-sub002/internal/tenant"
	"github.com/martiola68/studio-manager-pro-sub002/internal/tokencache"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newPGXPool,
			newTenantRepository,
			newConfigRepository,
			newTokenRepository,
			newStateRepository,
			newCipher,
			newTokenCache,
			newRateLimiter,
			tenant.NewResolver,
			newM365Service,
			newGraphClient,
			newVerifier,
			newM365Handler,
			newVaultHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newTenantRepository(pool *pgxpool.Pool) repository.TenantRepository {
	return repository.NewPostgresTenantRepo(pool)
}

func newConfigRepository(pool *pgxpool.Pool) repository.ConfigRepository {
	return repository.NewPostgresConfigRepo(pool)
}

func newTokenRepository(pool *pgxpool.Pool) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool)
}

func newStateRepository(pool *pgxpool.Pool) repository.StateRepository {
	return repository.NewPostgresStateRepo(pool)
}

func newCipher(cfg config.Config) (*secrets.Cipher, error) {
	cipher, err := secrets.NewCipher(cfg.M365MasterKey)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	return cipher, nil
}

func newTokenCache() tokencache.Cache {
	return tokencache.NewMemory()
}

func newRateLimiter(cfg config.Config) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newM365Service(
	configs repository.ConfigRepository,
	tokens repository.TokenRepository,
	states repository.StateRepository,
	cipher *secrets.Cipher,
	cache tokencache.Cache,
	cfg config.Config,
	logger *zap.Logger,
) *m365svc.Service {
	return m365svc.NewService(configs, tokens, states, cipher, cache, cfg, logger)
}

func newGraphClient(svc *m365svc.Service, cfg config.Config, logger *zap.Logger) *graph.Client {
	return graph.NewClient(svc, cfg.GraphBaseURL, cfg.GraphTimeout, logger)
}

func newVerifier(cfg config.Config) *jwt.Verifier {
	return jwt.NewVerifier(cfg.PlatformJWTSecret)
}

func newM365Handler(svc *m365svc.Service, graphClient *graph.Client, cfg config.Config) *handler.M365Handler {
	return handler.NewM365Handler(svc, graphClient, cfg)
}

func newVaultHandler(cfg config.Config) *handler.VaultHandler {
	return handler.NewVaultHandler(cfg.VaultIdleTimeout)
}

func newAuthMiddleware(verifier *jwt.Verifier) *middleware.Auth {
	return &middleware.Auth{Verifier: verifier}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
