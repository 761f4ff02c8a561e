package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/ktqueue/ktqueue/pkg/config"
	"github.com/ktqueue/ktqueue/pkg/logging"
)

func main() {
	var (
		direction = flag.String("direction", "up", "migration direction: up or down")
		steps     = flag.Int("steps", 0, "number of migrations to apply (0 = all possible)")
		dir       = flag.String("dir", "deploy/sql/migrations", "directory holding <version>.up.sql and <version>.down.sql")
	)
	flag.Parse()
	if flag.NArg() > 0 {
		*direction = flag.Arg(0)
	}

	cfg, err := config.Load("migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.WithLevel(logging.New(cfg.AppName, cfg.ServiceName, cfg.Env), cfg.LogLevel)

	if *direction != directionUp && *direction != directionDown {
		logger.Fatal().Str("direction", *direction).Msg("invalid direction, expected up or down")
	}

	migrations, err := loadMigrations(os.DirFS(*dir))
	if err != nil {
		logger.Fatal().Err(err).Str("dir", *dir).Msg("load migrations")
	}
	if len(migrations) == 0 {
		logger.Info().Str("dir", *dir).Msg("no migration files found")
		return
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer conn.Close(ctx)

	m := &migrator{conn: conn, fsys: os.DirFS(*dir), logger: logger}
	count, err := m.Run(ctx, *direction, *steps, migrations)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	logger.Info().Int("count", count).Str("direction", *direction).Msg("migrations complete")
}
