// Package db defines the narrow database handle every Store depends on.
// Store constructors accept a DBTX rather than a concrete *pgxpool.Pool so
// they can run equally against the pool (autocommit) or an open
// *pgx.Tx (the Project Lifecycle transaction template, §4.2).
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Beginner is implemented by handles that can start a transaction. Only
// *pgxpool.Pool and *pgxpool.Conn satisfy it — an open pgx.Tx cannot nest.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
