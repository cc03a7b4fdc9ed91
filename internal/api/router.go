// Package api assembles the HTTP surface: document ingestion into the
// receiving tables, identifier lookup and minting, health and metrics.
package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/seattleflu/id3c-sub000/internal/domain/identifier"
	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/platform/auth"
	"github.com/seattleflu/id3c-sub000/internal/platform/db"
	"github.com/seattleflu/id3c-sub000/internal/platform/metrics"
	"github.com/seattleflu/id3c-sub000/internal/platform/middleware"
)

type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	DB      db.Pinger
	DBStats db.StatsFunc

	Receiving   *receiving.Service
	Identifiers *identifier.Service
	Sessions    identifier.TxRunner

	// DevAuth admits every request as an admin; otherwise Auth verifies
	// bearer tokens.
	DevAuth bool
	Auth    auth.JWTConfig

	BodyLimit      string
	RequestTimeout time.Duration
}

func NewRouter(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	var httpMetrics *metrics.HTTPMetrics
	if opts.Metrics != nil {
		httpMetrics = opts.Metrics.HTTP
	}

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(opts.Logger))
	e.Use(middleware.Metrics(httpMetrics))
	// Handlers run on the timeout's goroutine, so recovery must sit inside it.
	e.Use(middleware.RequestTimeout(opts.RequestTimeout, auth.AuthSkipper))
	e.Use(middleware.Recovery(opts.Logger))

	if opts.DevAuth {
		e.Use(auth.DevAuthMiddleware())
	} else {
		cfg := opts.Auth
		cfg.Skipper = auth.AuthSkipper
		e.Use(auth.JWTMiddleware(cfg))
	}

	e.GET("/health", db.HealthHandler(opts.DB, opts.DBStats))
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	bodyLimit := middleware.BodyLimit(opts.BodyLimit)

	if opts.Receiving != nil {
		upload := e.Group("/v1", auth.RequireRole(auth.RoleUploader), bodyLimit)
		receiving.NewHandler(opts.Receiving).RegisterRoutes(upload)
	}

	if opts.Identifiers != nil {
		read := e.Group("/v1/warehouse", auth.RequireRole(auth.RoleReader, auth.RoleMinter))
		write := e.Group("/v1/warehouse", auth.RequireRole(auth.RoleMinter), bodyLimit)
		identifier.NewHandler(opts.Identifiers, opts.Sessions).RegisterRoutes(read, write)
	}

	return e
}
