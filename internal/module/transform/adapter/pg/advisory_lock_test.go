package pg_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/survey-twin/internal/module/transform/adapter/pg"
)

func TestGenerateLockID(t *testing.T) {
	assert.Equal(t, pg.GenerateLockID("transform_job", "a"), pg.GenerateLockID("transform_job", "a"))
	assert.NotEqual(t, pg.GenerateLockID("transform_job", "a"), pg.GenerateLockID("transform_job", "b"))
	assert.NotEqual(t, pg.GenerateLockID("ab", "c"), pg.GenerateLockID("a", "bc"))
}

func TestLockManager_LockJob(t *testing.T) {
	ctx := context.Background()
	db := requirePool(t)
	jobID := uuid.New()

	_, err := pg.Transact(ctx, db, func(a *pg.Adapter) (struct{}, error) {
		// 同一トランザクション内では再取得できる
		require.NoError(t, a.Locks.LockJob(ctx, jobID))
		return struct{}{}, a.Locks.LockJob(ctx, jobID)
	})

	assert.NoError(t, err)
}
