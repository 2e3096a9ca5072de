package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradewind/internal/config"
	"tradewind/internal/journal"
	"tradewind/internal/logger"
	"tradewind/internal/market"
	"tradewind/internal/report"
	"tradewind/internal/store"
	"tradewind/internal/trading"
	"tradewind/internal/universe"
)

// Server 暴露交易模拟器的 JSON API：观察清单、运行触发、计划/订单/
// 成交查询、运行账本与候选股审计。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。Report 与 Universe 可为 nil，
// 对应路由返回 503。
type ServerConfig struct {
	Addr     string
	Store    store.Store
	Journal  *journal.JournalStore
	Engine   *trading.Engine
	Universe *universe.Service
	Report   *report.Builder
	Calendar *market.Calendar
	Modes    config.ModesConfig

	// NowFn 仅测试注入，生产默认 time.Now。
	NowFn func() time.Time
}

// NewServer 构建 HTTP server 并挂载全部路由。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil || cfg.Journal == nil || cfg.Engine == nil {
		return nil, errors.New("http server requires store, journal and engine")
	}
	if cfg.Calendar == nil {
		return nil, errors.New("http server requires calendar")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	if cfg.NowFn == nil {
		cfg.NowFn = time.Now
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := &apiRouter{
		store:    cfg.Store,
		journal:  cfg.Journal,
		engine:   cfg.Engine,
		universe: cfg.Universe,
		report:   cfg.Report,
		calendar: cfg.Calendar,
		modes:    cfg.Modes,
		nowFn:    cfg.NowFn,
	}
	api.register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler 返回底层 http.Handler，供测试直接调用。
func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// requestLogger 记录接口调用，便于追踪人工触发的运行与查询。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}
