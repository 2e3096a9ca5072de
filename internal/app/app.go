package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradewind/internal/config"
	"tradewind/internal/journal"
	"tradewind/internal/logger"
	"tradewind/internal/scheduler"
	"tradewind/internal/store"
	"tradewind/internal/trading"
	httpapi "tradewind/internal/transport/http"
	"tradewind/internal/universe"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务与可选的
// 自动运行器。
type App struct {
	cfg      *config.Config
	store    store.Store
	journal  *journal.JournalStore
	engine   *trading.Engine
	universe *universe.Service
	server   *httpapi.Server
	runner   *scheduler.AutoRunner
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与自动运行器，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	logger.Infof("✓ tradewind 启动 env=%s addr=%s scheduler=%v",
		a.cfg.App.Env, a.server.Addr(), a.runner != nil)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.runner != nil {
		group.Go(func() error {
			a.runner.Start(ctx)
			return nil
		})
	}

	err := group.Wait()
	a.Close()
	return err
}

// Engine 暴露交易引擎（回放与测试用）。
func (a *App) Engine() *trading.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Universe 暴露候选股审计服务。
func (a *App) Universe() *universe.Service {
	if a == nil {
		return nil
	}
	return a.universe
}

// Close 释放存储连接。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
