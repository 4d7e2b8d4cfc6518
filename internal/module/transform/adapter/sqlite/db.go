package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS transform_jobs (
	id TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	total_rows INTEGER NOT NULL,
	settings TEXT NOT NULL,
	exclusions TEXT NOT NULL,
	respondent_id_column TEXT NOT NULL DEFAULT '',
	processed_rows INTEGER NOT NULL DEFAULT 0,
	failed_rows INTEGER NOT NULL DEFAULT 0,
	current_row_index INTEGER NOT NULL DEFAULT -1,
	stat_errors INTEGER NOT NULL DEFAULT 0,
	stat_retries INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transform_results (
	job_id TEXT NOT NULL,
	row_index INTEGER NOT NULL,
	respondent_id TEXT,
	status TEXT NOT NULL,
	sentences TEXT NOT NULL,
	excluded TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	raw_trace TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (job_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_transform_results_status ON transform_results(job_id, status);
`

// DB はSQLiteファイルへの接続を保持します
type DB struct {
	db *sql.DB
}

// Open はSQLiteデータベースを開き、スキーマを作成します
// ファイルが存在しなければ作成される
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 書き込みを1接続に直列化する
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close はデータベース接続を閉じます
func (d *DB) Close() error {
	return d.db.Close()
}

// Jobs はこのデータベース上のJobRepositoryを返します
func (d *DB) Jobs() *JobRepository {
	return &JobRepository{db: d.db}
}

// Results はこのデータベース上のResultStoreを返します
func (d *DB) Results() *ResultStore {
	return &ResultStore{db: d.db}
}

// isBusy はSQLITE_BUSY/SQLITE_LOCKEDかどうかを返します
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func wrapErr(op string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%s: database is busy: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
