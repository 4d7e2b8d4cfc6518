package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Adapter は1トランザクション内で動作するリポジトリをまとめたものです
type Adapter struct {
	Jobs    *JobRepository
	Results *ResultStore
	Locks   *LockManager
}

func newAdapter(tx pgx.Tx) *Adapter {
	return &Adapter{
		Jobs:    NewJobRepository(tx),
		Results: NewResultStore(tx),
		Locks:   NewLockManager(tx),
	}
}

// Transact はトランザクションを開始し、アダプターをfnに渡します
// fnがエラーを返した場合はロールバックする
func Transact[T any](ctx context.Context, db DBTX, fn func(*Adapter) (T, error)) (T, error) {
	var zero T
	tx, err := db.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := fn(newAdapter(tx))
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return zero, fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}
