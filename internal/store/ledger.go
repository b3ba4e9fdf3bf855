package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLLedger credits coins against the identity backend's tables: bump the
// balance and append the audit row in one transaction, mirroring how the
// platform records every coin movement.
type SQLLedger struct {
	db *sql.DB
}

func NewSQLLedger(db *sql.DB) *SQLLedger { return &SQLLedger{db: db} }

// NewLedgerFromArchive shares the archive's connection pool.
func NewLedgerFromArchive(a *Archive) *SQLLedger {
	if a == nil {
		return nil
	}
	return &SQLLedger{db: a.db}
}

func (l *SQLLedger) Credit(ctx context.Context, userID string, amount int, reason string) (int, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("ledger not configured")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("non-positive credit amount %d", amount)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRowContext(ctx,
		`UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance`,
		amount, userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO coin_transactions (user_id, amount, reason, source, balance_after)
		 VALUES ($1, $2, $3, 'CHESS', $4)`,
		userID, amount, reason, balance,
	); err != nil {
		return 0, fmt.Errorf("credit audit row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}
