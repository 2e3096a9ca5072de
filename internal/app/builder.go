package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"tradewind/internal/config"
	"tradewind/internal/gateway/binance"
	"tradewind/internal/gateway/feed"
	"tradewind/internal/journal"
	"tradewind/internal/logger"
	"tradewind/internal/market"
	"tradewind/internal/report"
	"tradewind/internal/scheduler"
	"tradewind/internal/store"
	"tradewind/internal/store/gormstore"
	"tradewind/internal/strategy/rules"
	"tradewind/internal/trading"
	httpapi "tradewind/internal/transport/http"
	"tradewind/internal/universe"
)

// AppBuilder 把配置装配成可运行的 App。各构造函数可通过 Option 注入
// 替身，测试不必连真实数据源。
type AppBuilder struct {
	cfg *config.Config

	storeFn   func(path string) (store.Store, error)
	journalFn func(path string) (*journal.JournalStore, error)
	sourceFn  func(cfg config.MarketConfig) (market.CandleSource, error)
	serverFn  func(cfg httpapi.ServerConfig) (*httpapi.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithCandleSource 覆盖 K 线数据源。
func WithCandleSource(src market.CandleSource) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(config.MarketConfig) (market.CandleSource, error) {
			return src, nil
		}
	}
}

// WithStore 覆盖领域存储。
func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(string) (store.Store, error) { return st, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		storeFn:   defaultStore,
		journalFn: journal.NewJournalStore,
		sourceFn:  defaultSource,
		serverFn:  httpapi.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func defaultStore(path string) (store.Store, error) {
	return gormstore.NewGormStore(path)
}

// defaultSource 按 market.source 选择数据源。
func defaultSource(cfg config.MarketConfig) (market.CandleSource, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "binance":
		return binance.New(binance.Config{
			APIKey:    cfg.Binance.APIKey,
			APISecret: cfg.Binance.APISecret,
			BaseURL:   cfg.Binance.BaseURL,
		})
	case "file":
		return feed.New(cfg.FileDir)
	default:
		return nil, fmt.Errorf("未知数据源 %q", cfg.Source)
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	cal, err := market.NewCalendar(cfg.Market.Timezone)
	if err != nil {
		return nil, err
	}
	source, err := b.sourceFn(cfg.Market)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 数据源=%s 时区=%s", source.Name(), cfg.Market.Timezone)

	st, err := b.storeFn(filepath.Join(cfg.App.DataDir, "domain.db"))
	if err != nil {
		return nil, err
	}
	jr, err := b.journalFn(cfg.Journal.DBPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry, err := rules.NewRegistry(cfg.Rules.Path)
	if err != nil {
		_ = jr.Close()
		_ = st.Close()
		return nil, err
	}

	engine := trading.NewEngine(st, jr, source, cal, registry, cfg)
	universeSvc := universe.NewService(st, source, cal, cfg)

	var reporter *report.Builder
	if cfg.Report.Enabled {
		reporter = report.NewBuilder(cfg.Report, cfg.Modes, st, jr, source)
	}

	server, err := b.serverFn(httpapi.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Store:    st,
		Journal:  jr,
		Engine:   engine,
		Universe: universeSvc,
		Report:   reporter,
		Calendar: cal,
		Modes:    cfg.Modes,
	})
	if err != nil {
		_ = jr.Close()
		_ = st.Close()
		return nil, err
	}

	runner, err := scheduler.NewAutoRunner(cfg.Scheduler, cal,
		func(ctx context.Context, date, mode string) error {
			_, err := engine.Run(ctx, trading.RunRequest{Date: date, Mode: mode})
			return err
		})
	if err != nil {
		_ = jr.Close()
		_ = st.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		store:    st,
		journal:  jr,
		engine:   engine,
		universe: universeSvc,
		server:   server,
		runner:   runner,
	}, nil
}
