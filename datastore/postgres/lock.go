package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"

	"github.com/jackc/pgx/v5"
)

// keyify crushes a text key into the bigint form pg advisory locks take.
// A collision costs spurious serialization, never correctness.
func keyify(key string) int64 {
	h := fnv.New64a()
	io.WriteString(h, key)
	return int64(h.Sum64())
}

// lockFingerprint takes a transaction-scoped advisory lock on the
// fingerprint, blocking until any concurrent writer of the same group
// commits or rolls back. The lock releases with the transaction.
func lockFingerprint(ctx context.Context, tx pgx.Tx, fingerprint string) error {
	const lockQuery = `SELECT pg_advisory_xact_lock($1);`
	if _, err := tx.Exec(ctx, lockQuery, keyify(fingerprint)); err != nil {
		return fmt.Errorf("failed to lock fingerprint: %w", err)
	}
	return nil
}
