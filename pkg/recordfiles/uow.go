package recordfiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// UnitOfWork groups the repository operations of one request and the
// side effects that must follow its outcome. Blob uploads register a
// rollback compensation, blob deletions and events are deferred until
// commit.
//
// A UnitOfWork is owned by the caller that began it: lifecycle hooks only
// append work and never finalize it.
type UnitOfWork struct {
	tx     Tx
	logger *slog.Logger

	mu         sync.Mutex
	onCommit   []func(ctx context.Context)
	onRollback []func(ctx context.Context)
	done       bool
}

// NewUnitOfWork wraps an open repository transaction.
func NewUnitOfWork(tx Tx, logger *slog.Logger) *UnitOfWork {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitOfWork{tx: tx, logger: logger}
}

// Tx returns the repository transaction of the unit of work.
func (u *UnitOfWork) Tx() Tx {
	return u.tx
}

// AfterCommit registers fn to run once the transaction committed.
func (u *UnitOfWork) AfterCommit(fn func(ctx context.Context)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onCommit = append(u.onCommit, fn)
}

// AfterRollback registers fn to run once the transaction rolled back.
// Compensations run in reverse registration order.
func (u *UnitOfWork) AfterRollback(fn func(ctx context.Context)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onRollback = append(u.onRollback, fn)
}

// Done reports whether the unit of work was finalized.
func (u *UnitOfWork) Done() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.done
}

func (u *UnitOfWork) finish() ([]func(context.Context), []func(context.Context), error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return nil, nil, ErrUnitOfWorkClosed
	}
	u.done = true
	return u.onCommit, u.onRollback, nil
}

// Commit commits the transaction and runs the commit callbacks. If the
// transaction fails to commit, rollback compensations run instead.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	onCommit, onRollback, err := u.finish()
	if err != nil {
		return err
	}
	if err := u.tx.Commit(ctx); err != nil {
		runReversed(ctx, onRollback)
		return fmt.Errorf("commit unit of work: %w", err)
	}
	for _, fn := range onCommit {
		fn(ctx)
	}
	return nil
}

// Rollback discards the transaction and runs rollback compensations.
// Rolling back a finalized unit of work is a no-op, so Rollback is safe to
// defer after Commit.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	_, onRollback, err := u.finish()
	if errors.Is(err, ErrUnitOfWorkClosed) {
		return nil
	}
	txErr := u.tx.Rollback(ctx)
	runReversed(ctx, onRollback)
	if txErr != nil {
		u.logger.Error("Failed to roll back transaction", "error", txErr)
		return fmt.Errorf("rollback unit of work: %w", txErr)
	}
	return nil
}

func runReversed(ctx context.Context, fns []func(context.Context)) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i](ctx)
	}
}
