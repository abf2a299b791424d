package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arhyth/pointxgo"
	"github.com/bwmarrin/snowflake"

	"github.com/rs/zerolog"
)

func main() {
	cfp := flag.String("config", "config.yml", "path to configuration file")
	envf := flag.String("env", ".env", "path to optional env file")
	nodeID := flag.Int64("node", 1, "snowflake node ID for request IDs")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := pointxgo.LoadConfig(*cfp, *envf)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config")
	}
	lvl, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatal().Err(err).Str("level", cfg.Log.Level).Msg("error parsing log level")
	}
	zerolog.SetGlobalLevel(lvl)

	repo, closeRepo, err := pointxgo.OpenRepository(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting database")
	}
	defer closeRepo()

	node, err := snowflake.NewNode(*nodeID)
	if err != nil {
		logger.Fatal().Err(err).Int64("node", *nodeID).Msg("error creating snowflake node")
	}

	svc := pointxgo.Chain(
		pointxgo.NewService(repo, &logger),
		pointxgo.NewCircuitBreakMiddleware(pointxgo.NewServiceBreaker(cfg.Breaker)),
		pointxgo.NewLimitMiddleware(pointxgo.NewServiceLimits(cfg.Limits)),
		pointxgo.NewValidationMiddleware(),
	)
	hndlr := pointxgo.NewHTTPHandler(svc, &logger, node)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      hndlr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("driver", cfg.Database.Driver).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
}
