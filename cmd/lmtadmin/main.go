package main

import (
	"context"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/movimentoterra/internal/auth"
	"example.com/movimentoterra/internal/cli"
	"example.com/movimentoterra/internal/config"
	"example.com/movimentoterra/internal/domain"
	"example.com/movimentoterra/internal/identity"
	"example.com/movimentoterra/internal/logging"
	persistence "example.com/movimentoterra/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()

	open := func(ctx context.Context) (*cli.Backend, func(), error) {
		logger, err := logging.New("lmtadmin", cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}

		repo := persistence.NewRepository(pool)
		opts := []domain.Option{domain.WithLogger(logger), domain.WithLocation(cfg.Location())}
		moderator := identity.NewClient(cfg.AuthProviderURL, cfg.AuthProviderToken, 10*time.Second)
		backend := &cli.Backend{
			Dashboard: domain.NewDashboardService(repo, opts...),
			Users:     domain.NewUserService(repo, moderator, opts...),
			Auth:      auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		}
		return backend, func() {
			pool.Close()
			_ = logger.Sync()
		}, nil
	}

	if err := cli.NewRootCommand(open).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
