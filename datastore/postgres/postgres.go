// Package postgres implements the oasis datastore interfaces over PostgreSQL.
//
// One Store serves every interface. Methods live in per-entity files; their
// SQL lives in the embedded queries directory, one file per query.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"

	"github.com/oasishq/oasis/datastore"
	"github.com/oasishq/oasis/datastore/postgres/migrations"
)

// Store implements [datastore.Store] over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ datastore.Store = (*Store)(nil)

// NewStore wraps a pool without running migrations.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InitPostgresStore runs migrations when asked and returns a ready Store.
func InitPostgresStore(_ context.Context, pool *pgxpool.Pool, doMigration bool) (*Store, error) {
	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer db.Close()
	if doMigration {
		migrator := migrate.NewPostgresMigrator(db)
		migrator.Table = migrations.MigrationTable
		err := migrator.Exec(migrate.Up, migrations.Migrations...)
		if err != nil {
			return nil, fmt.Errorf("failed to perform migrations: %w", err)
		}
	}

	return NewStore(pool), nil
}

// Close releases the underlying pool.
func (s *Store) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// Pool is an escape hatch for tests.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Scanner is the subset of [pgx.Rows] the per-entity scan helpers need, so
// the helpers work on both single rows and row iterators.
type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503" // foreign_key_violation
}
