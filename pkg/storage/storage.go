package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// NewPostgres opens a database/sql connection backed by pgx.
func NewPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewRedis creates a Redis client for login sessions.
func NewRedis(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// PostgresCheck reports database reachability to the readiness endpoint.
type PostgresCheck struct {
	DB *sql.DB
}

func (c PostgresCheck) Name() string { return "postgres" }

func (c PostgresCheck) Check(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// RedisCheck reports Redis reachability to the readiness endpoint.
type RedisCheck struct {
	Client *redis.Client
}

func (c RedisCheck) Name() string { return "redis" }

func (c RedisCheck) Check(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
