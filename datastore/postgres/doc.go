/*
Package postgres implements the oasis datastore interfaces for a PostgreSQL
database.

SQL statements live as one file per statement under queries/ and are embedded
at build time. They should be run through sqlfmt and then checked for
correctness, as sqlfmt doesn't fully understand the PostgreSQL dialect.
Queries should endeavor to do work database-side, as opposed to making
queries to construct further queries; the list endpoints that genuinely need
dynamic predicates go through querybuilder.go instead.
*/
package postgres
