// Package postgres is the PostgreSQL store backend. Face vectors are kept in
// a pgvector column.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/database/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect is the PostgreSQL flavour of the shared store SQL.
var Dialect = sqlstore.Dialect{
	Name:        "postgres",
	Placeholder: sqlstore.Dollar,
	Ignore:      sqlstore.OnConflictDoNothing,
	VectorValue: func(v []float32) any {
		return pgvector.NewVector(v)
	},
	NewVectorDest: func() sqlstore.VectorDest {
		return &pgvector.Vector{}
	},
	Retryable: isSerializationFailure,
}

func init() {
	database.RegisterBackend(open, "postgres", "postgresql")
}

// isSerializationFailure reports deadlocks and serialization failures, the
// two errors PostgreSQL expects clients to retry.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func open(ctx context.Context, opts database.Options) (database.Store, error) {
	return Open(ctx, opts)
}

// NewPool opens and verifies a PostgreSQL connection pool.
func NewPool(ctx context.Context, opts database.Options) (*sql.DB, error) {
	if opts.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Open connects to PostgreSQL and applies pending migrations.
func Open(ctx context.Context, opts database.Options) (*sqlstore.Store, error) {
	db, err := NewPool(ctx, opts)
	if err != nil {
		return nil, err
	}
	if _, err := sqlstore.Migrate(ctx, db, Dialect, migrationsFS, "migrations", opts.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return sqlstore.New(db, Dialect), nil
}
