package fx

import (
	"raidwatch/internal/api"
	"raidwatch/internal/cache"
	"raidwatch/internal/config"
	"raidwatch/internal/logger"
	"raidwatch/internal/queue"
	"raidwatch/internal/report"
	"raidwatch/internal/server"
	"raidwatch/internal/service"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	// upstream clients
	fx.Provide(api.NewHTTPClient),
	fx.Provide(api.NewTokenManager),
	fx.Provide(func(m *api.TokenManager) api.TokenSource { return m }),
	fx.Provide(api.NewClient),
	fx.Provide(func(c *api.Client) api.Executor { return c }),
	// report pipeline
	fx.Provide(report.NewFetcher),
	fx.Provide(func(f *report.WCLFetcher) report.Fetcher { return f }),
	fx.Provide(cache.New),
	fx.Provide(queue.New),
	// orchestration + surface
	fx.Provide(service.New),
	fx.Provide(server.NewHandler),
)
