package pg

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LockManager はトランザクションスコープのアドバイザリロックを取得します
// ロックはトランザクション終了時に自動的に解放される
type LockManager struct {
	tx pgx.Tx
}

// NewLockManager はトランザクションからロックマネージャーを生成します
func NewLockManager(tx pgx.Tx) *LockManager {
	return &LockManager{tx: tx}
}

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		// "ab"+"c" と "a"+"bc" を区別する
		h.Write([]byte{0})
	}
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// LockJob はジョブ単位の書き込みロックを取得します
// 複数プロセスが同じデータベースを共有する場合に保存と削除を直列化する
func (m *LockManager) LockJob(ctx context.Context, jobID uuid.UUID) error {
	if _, err := m.tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", GenerateLockID("transform_job", jobID.String())); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
