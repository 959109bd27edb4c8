package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/unisubmit-api/pkg/config"
)

const pingTimeout = 5 * time.Second

// NewPostgres opens the submission database and verifies it answers before
// returning the pool.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}

	return db, nil
}

// PostgresDSN renders a libpq key/value connection string. Values are quoted
// so passwords containing spaces or quotes survive.
func PostgresDSN(cfg config.DatabaseConfig) string {
	pairs := []string{
		"host=" + dsnValue(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + dsnValue(cfg.User),
		"password=" + dsnValue(cfg.Password),
		"dbname=" + dsnValue(cfg.Name),
		"sslmode=" + dsnValue(cfg.SSLMode),
	}
	if cfg.ApplicationName != "" {
		pairs = append(pairs, "application_name="+dsnValue(cfg.ApplicationName))
	}
	return strings.Join(pairs, " ")
}

func dsnValue(v string) string {
	v = strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
	return "'" + v + "'"
}
