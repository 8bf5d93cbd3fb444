package services

import (
	"context"
	"fmt"

	"github.com/upb/decision-audit/backend/repositories"
)

// WithTransaction executes a function within a database transaction.
// fn receives the transaction's context so repositories called with it
// run on the same transaction. Commits on success, rolls back on error.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := txMgr.Begin(ctx)
	if err != nil {
		return WrapUpstream("failed to begin transaction", err)
	}

	// Use defer to ensure rollback on panic
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // Re-panic after rollback
		}
	}()

	if err := fn(tx.Context(), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return WrapUpstream("failed to commit transaction", err)
	}

	return nil
}
