// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface provides database interfaces to avoid import cycles.
// This package has no dependencies and can be imported by both database
// implementations and stores.
package dbinterface

import (
	"context"
	"database/sql"
)

// Querier is the interface for database operations. It is implemented by
// both *database.DB and *database.Tx so store methods can run standalone
// or composed inside a write transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxQuerier is a Querier with transaction control. It is implemented by
// *database.Tx.
type TxQuerier interface {
	Querier
	Commit() error
	Rollback() error
}
