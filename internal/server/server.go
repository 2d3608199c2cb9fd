package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeroloop/zeroloop/config"
	core "github.com/zeroloop/zeroloop/internal/agent/core"
	"github.com/zeroloop/zeroloop/internal/agent/telemetry"
	"github.com/zeroloop/zeroloop/internal/runtime"
	"github.com/zeroloop/zeroloop/internal/session"
	"github.com/zeroloop/zeroloop/internal/store"
	"github.com/zeroloop/zeroloop/internal/tools"
	"github.com/zeroloop/zeroloop/internal/tools/knowledge"
)

// Run wires the whole service and blocks serving HTTP.
func Run(cfgPath, addr string) error {
	cfg := config.LoadConfig(cfgPath)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	defer tele.Shutdown()

	kidx, err := knowledge.NewIndex()
	if err != nil {
		return fmt.Errorf("opening knowledge index: %w", err)
	}
	toolsLogger := log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	invoker, err := tools.NewInvoker(cfg.Tools, kidx, toolsLogger)
	if err != nil {
		return err
	}

	engineLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	engine, err := core.NewEngine(cfg, invoker, tele, engineLogger)
	if err != nil {
		return err
	}

	cache := session.NewHistoryCache(cfg.Storage.Redis, 24*time.Hour)
	if err := cache.Client().Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	sessions := session.NewStore(cache)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	protected := api.Group("")
	protected.Use(runtime.EchoAuthMiddleware(secret))
	protected.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, MeResponse{UserID: c.Get("user_id").(string)})
	})

	chatLogger := log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	ch := &ChatHandler{Store: st, Sessions: sessions, Engine: engine, Logger: chatLogger}
	ch.Register(protected)

	cv := &ConversationsHandler{Store: st, Engine: engine}
	cv.Register(protected.Group("/conversations"))

	rh := &RunsHandler{Store: st}
	rh.Register(protected.Group("/runs"))

	sh := &SchedulesHandler{Store: st}
	sh.Register(protected.Group("/schedules"))

	if cfg.Scheduler.Enabled {
		sched := &Scheduler{
			Store:    st,
			Engine:   engine,
			Rdb:      cache.Client(),
			Interval: cfg.Scheduler.TickInterval,
		}
		sched.Start()
		defer sched.Stop()
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	baseLogger.Printf("listening on %s", addr)
	return e.Start(addr)
}
