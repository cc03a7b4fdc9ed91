package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seattleflu/id3c-sub000/internal/api"
	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/platform/auth"
	"github.com/seattleflu/id3c-sub000/internal/platform/db"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd)
		},
	}
}

func runServer(cmd *cobra.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if a.cfg.IsDev() {
		a.logger.Warn().Msg("ENV=development: authentication is disabled and every request is treated as an admin")
	}

	recv := receiving.NewService(receiving.NewRepo(a.pool), a.logger)
	recv.SetMetrics(a.metrics.HTTP)

	e := api.NewRouter(api.Options{
		Logger:      a.logger,
		Metrics:     a.metrics,
		DB:          a.pool,
		DBStats:     db.PoolStatsFunc(a.pool),
		Receiving:   recv,
		Identifiers: a.identifiers(),
		Sessions:    &db.Sessions{Pool: a.pool, Logger: a.logger},
		DevAuth:     a.cfg.IsDev(),
		Auth: auth.JWTConfig{
			Issuer:     a.cfg.AuthIssuer,
			Audience:   a.cfg.AuthAudience,
			JWKSURL:    a.cfg.AuthJWKSURL,
			SigningKey: []byte(a.cfg.AuthSigningKey),
		},
		BodyLimit:      a.cfg.MaxBodySize,
		RequestTimeout: a.cfg.RequestTimeout,
	})

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		addr := ":" + a.cfg.Port
		a.logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info().Msg("server stopped")
	return nil
}
