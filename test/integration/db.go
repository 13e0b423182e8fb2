package integration

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var rng *rand.Rand

func init() {
	// Seed our rng.
	b := make([]byte, 8)
	if _, err := io.ReadFull(crand.Reader, b); err != nil {
		panic(err)
	}
	seed := rand.NewSource(int64(binary.BigEndian.Uint64(b)))
	rng = rand.New(seed)
}

const (
	createDatabase  = `CREATE DATABASE %s ENCODING 'UTF8';`
	killConnections = `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1;`
	dropDatabase    = `DROP DATABASE %s;`
)

// NewDB creates a new database on the server advertised via the environment
// and returns a pool connected to it. The database is dropped when the test
// completes.
//
// NeedDB is expected to have been called first.
func NewDB(ctx context.Context, t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvConnString)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parsing %s: %v", EnvConnString, err)
	}
	database := fmt.Sprintf("oasis_test_%x", rng.Uint64())

	conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig)
	if err != nil {
		t.Fatalf("connecting to database server: %v", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(createDatabase, database)); err != nil {
		t.Fatalf("creating database %q: %v", database, err)
	}
	if err := conn.Close(ctx); err != nil {
		t.Error(err)
	}

	poolCfg := cfg.Copy()
	poolCfg.ConnConfig.Database = database
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		t.Fatalf("connecting to database %q: %v", database, err)
	}

	t.Cleanup(func() {
		pool.Close()
		ctx := context.Background()
		conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig)
		if err != nil {
			t.Errorf("tearing down database %q: %v", database, err)
			return
		}
		defer conn.Close(ctx)
		if _, err := conn.Exec(ctx, killConnections, database); err != nil {
			t.Errorf("tearing down database %q: %v", database, err)
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf(dropDatabase, database)); err != nil {
			t.Errorf("tearing down database %q: %v", database, err)
		}
	})
	return pool
}
