package bootstrap

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/zodforge"
	"github.com/MerlijnW70/zodforge-dashboard/internal/config"
)

// VerifyStartup probes the upstream ZodForge API once during startup so a
// misconfigured deployment surfaces immediately instead of on the first
// login. A down upstream is logged but does not block startup: individual
// requests fail on their own and the upstream may recover.
func VerifyStartup(lc fx.Lifecycle, cfg config.Config, api zodforge.API, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			health, err := api.Health(probeCtx)
			if err != nil {
				logger.Warn("upstream api unreachable at startup",
					zap.String("url", cfg.ZodForgeAPIURL),
					zap.Error(err),
				)
				return nil
			}
			if health.Status != "healthy" {
				logger.Warn("upstream api degraded at startup",
					zap.String("url", cfg.ZodForgeAPIURL),
					zap.String("status", health.Status),
				)
				return nil
			}
			logger.Info("upstream api reachable",
				zap.String("url", cfg.ZodForgeAPIURL),
				zap.String("version", health.Version),
			)
			return nil
		},
	})
}
