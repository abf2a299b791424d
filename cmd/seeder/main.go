package main

import (
	"context"
	"flag"
	"os"

	"github.com/arhyth/pointxgo"
	"github.com/rs/zerolog"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	envf := flag.String("env", ".env", "path to optional env file")
	sqlDir := flag.String("sql", "testdata", "directory holding init_db.sql")
	flag.Parse()

	cfg, err := pointxgo.LoadConfig(*cfp, *envf)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config")
	}
	if cfg.Database.Driver == pointxgo.DriverMemory {
		logger.Fatal().Msg("seeding the memory driver has no lasting effect; use postgres or sqlite")
	}

	if cfg.Database.Driver == pointxgo.DriverPostgres {
		lh, err := pointxgo.NewLocalHelper(cfg, *sqlDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("error starting local helper")
		}
		if _, err = lh.InitDB(); err != nil {
			logger.Fatal().Err(err).Msg("error initializing database")
		}
		lh.Close()
	}

	repo, closeRepo, err := pointxgo.OpenRepository(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error opening database")
	}
	defer closeRepo()

	svc := pointxgo.NewService(repo, &logger)
	if err = pointxgo.SeedBalances(context.Background(), svc, cfg.Seed); err != nil {
		logger.Fatal().Err(err).Msg("error seeding balances")
	}
	logger.Info().Int("users", len(cfg.Seed)).Msg("seeded balances")
}
