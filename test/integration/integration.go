// Package integration is a helper for running integration tests.
package integration

import (
	"os"
	"testing"
)

// EnvConnString is the environment variable consulted for the database
// server to run integration tests against. The user it names must be
// allowed to create and drop databases.
const EnvConnString = `OASIS_TEST_CONNSTRING`

// Skip will skip the current test or benchmark if this package was built without
// the "integration" build tag.
//
// This should be used as an annotation at the top of the function, like
// (*testing.T).Parallel().
func Skip(t testing.TB) {
	if skip {
		t.Skip("skipping integration test: integration tag not provided")
	}
}

// NeedDB skips the current test or benchmark unless a database server was
// advertised via the environment.
//
// Like Skip, this should be used as an annotation at the top of the
// function.
func NeedDB(t testing.TB) {
	t.Helper()
	Skip(t)
	if os.Getenv(EnvConnString) == "" {
		t.Skipf("skipping integration test: %s not set", EnvConnString)
	}
}
