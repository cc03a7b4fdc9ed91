package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultApplicationName is reported to PostgreSQL when neither the database
// URL nor PGAPPNAME names the client.
const DefaultApplicationName = "id3c"

// maxApplicationNameLen mirrors NAMEDATALEN-1 in a standard PostgreSQL build;
// longer names are truncated by the server with a NOTICE.
const maxApplicationNameLen = 63

func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32, appName string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName(appName)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// ApplicationName returns name shortened to fit PostgreSQL's limit, or the
// default when name is empty.
func ApplicationName(name string) string {
	if name == "" {
		return DefaultApplicationName
	}
	if len(name) <= maxApplicationNameLen {
		return name
	}
	return name[:maxApplicationNameLen-3] + "..."
}

// SessionInfo describes the pool's connection target concisely, without
// credentials.
func SessionInfo(pool *pgxpool.Pool) string {
	cc := pool.Config().ConnConfig
	info := fmt.Sprintf("user=%s dbname=%s host=%s port=%d", cc.User, cc.Database, cc.Host, cc.Port)
	if cc.TLSConfig != nil {
		info += " sslmode=tls"
	}
	return info
}
