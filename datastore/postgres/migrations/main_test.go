// Package migrations_test does blackbox testing for the database migrations.
//
// By default, it simply runs all the migrations in order against a fresh
// database.
package migrations_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/quay/zlog"
	"github.com/remind101/migrate"

	"github.com/oasishq/oasis/datastore/postgres/migrations"
	"github.com/oasishq/oasis/test/integration"
)

func TestUp(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	integration.NeedDB(t)
	pool := integration.NewDB(ctx, t)

	mdb := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer mdb.Close()
	migrator := migrate.NewPostgresMigrator(mdb)
	migrator.Table = migrations.MigrationTable

	for i := range migrations.Migrations {
		t.Run(fmt.Sprintf("%02d", i+1), func(t *testing.T) {
			// Do it this way to let the `-run` flag work correctly.
			if err := migrator.Exec(migrate.Up, migrations.Migrations[:i+1]...); err != nil {
				t.Fatal(err)
			}
		})
	}
}
