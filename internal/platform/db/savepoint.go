package db

import (
	"context"
	"errors"
	"fmt"
)

// WithSavepoint runs fn inside the savepoint name. When fn succeeds the
// savepoint is released and its changes stay in the enclosing transaction;
// when fn fails the transaction is rolled back to the savepoint and fn's
// error is returned.
func WithSavepoint(ctx context.Context, sp Savepointer, name string, fn func(ctx context.Context) error) error {
	if err := sp.Savepoint(ctx, name); err != nil {
		return fmt.Errorf("create savepoint %q: %w", name, err)
	}

	if err := fn(ctx); err != nil {
		// The context may already be cancelled, but the rollback has to reach
		// the server for the enclosing transaction to stay usable.
		if rbErr := sp.RollbackTo(context.WithoutCancel(ctx), name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint %q: %w", name, rbErr))
		}
		return err
	}

	if err := sp.Release(ctx, name); err != nil {
		return fmt.Errorf("release savepoint %q: %w", name, err)
	}
	return nil
}
