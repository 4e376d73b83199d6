package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/cache"
	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/github"
	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/zodforge"
	"github.com/MerlijnW70/zodforge-dashboard/internal/bootstrap"
	"github.com/MerlijnW70/zodforge-dashboard/internal/config"
	httptransport "github.com/MerlijnW70/zodforge-dashboard/internal/http"
	"github.com/MerlijnW70/zodforge-dashboard/internal/http/handler"
	httpmiddleware "github.com/MerlijnW70/zodforge-dashboard/internal/http/middleware"
	"github.com/MerlijnW70/zodforge-dashboard/internal/metrics"
	apimiddleware "github.com/MerlijnW70/zodforge-dashboard/internal/middleware"
	"github.com/MerlijnW70/zodforge-dashboard/internal/repository"
	"github.com/MerlijnW70/zodforge-dashboard/internal/server"
	"github.com/MerlijnW70/zodforge-dashboard/internal/service"
	"github.com/MerlijnW70/zodforge-dashboard/internal/session"
	"github.com/MerlijnW70/zodforge-dashboard/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newIdentityRepository,
			newKeyLinkRepository,
			newSigningKeyRepository,
			newRedisClient,
			newLoginStateStore,
			newZodForgeAPI,
			newGitHubProvider,
			newKeyManager,
			newSessionCodec,
			newProvisioner,
			newBridge,
			newRateLimiter,
			handler.NewAuthHandler,
			newDashboardHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, initMetrics, bootstrap.VerifyStartup, startHTTPServer),
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

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
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

func newIdentityRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.IdentityRepository {
	return repository.NewPostgresIdentityRepo(pool, node)
}

func newKeyLinkRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.KeyLinkRepository {
	return repository.NewPostgresKeyLinkRepo(pool, node)
}

func newSigningKeyRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.SigningKeyRepository {
	return repository.NewPostgresSigningKeyRepo(pool, node)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newLoginStateStore(client redis.UniversalClient) repository.LoginStateStore {
	return cache.NewRedisStateStore(client)
}

func newZodForgeAPI(cfg config.Config, logger *zap.Logger) zodforge.API {
	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	return zodforge.NewClient(cfg.ZodForgeAPIURL, cfg.ZodForgeAdminKey, httpClient, logger)
}

func newGitHubProvider(cfg config.Config) (github.IdentityProvider, error) {
	return github.New(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.OAuthRedirectURL)
}

func newKeyManager(repo repository.SigningKeyRepository) *session.KeyManager {
	return session.NewKeyManager(repo)
}

func newSessionCodec(manager *session.KeyManager, cfg config.Config) *session.Codec {
	return session.NewCodec(manager, cfg.SessionIssuer, cfg.SessionTTL)
}

func newProvisioner(api zodforge.API, links repository.KeyLinkRepository, logger *zap.Logger) *service.Provisioner {
	return service.NewProvisioner(api, links, logger)
}

func newBridge(
	api zodforge.API,
	provider github.IdentityProvider,
	identities repository.IdentityRepository,
	links repository.KeyLinkRepository,
	states repository.LoginStateStore,
	provisioner *service.Provisioner,
	codec *session.Codec,
	logger *zap.Logger,
) service.Bridge {
	return service.NewBridge(api, provider, identities, links, states, provisioner, codec, logger)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newDashboardHandler(bridge service.Bridge, api zodforge.API, cfg config.Config, logger *zap.Logger) *handler.DashboardHandler {
	return handler.NewDashboardHandler(bridge, api, cfg, logger)
}

func newAuthMiddleware(codec *session.Codec) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Codec: codec}
}

func initMetrics() {
	metrics.Init()
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
