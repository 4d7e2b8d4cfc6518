package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

const resultColumns = `job_id, row_index, respondent_id, status, sentences, excluded, error_message, retry_count, raw_trace, updated_at`

// ResultStore はSQLite上のResultStore実装です
type ResultStore struct {
	db *sql.DB
}

var _ domain.ResultStore = (*ResultStore)(nil)

// Put は(job_id, row_index)で結果をupsertします
func (s *ResultStore) Put(ctx context.Context, result *domain.TransformResult) error {
	sentences := result.Sentences
	if sentences == nil {
		sentences = []domain.Sentence{}
	}
	sentencesJSON, err := json.Marshal(sentences)
	if err != nil {
		return wrapErr("failed to encode sentences", err)
	}
	excludedJSON, err := json.Marshal(result.Excluded)
	if err != nil {
		return wrapErr("failed to encode excluded variables", err)
	}

	var respondentID sql.NullString
	if result.RespondentID != nil {
		respondentID = sql.NullString{String: *result.RespondentID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transform_results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, row_index) DO UPDATE SET
			respondent_id = excluded.respondent_id,
			status = excluded.status,
			sentences = excluded.sentences,
			excluded = excluded.excluded,
			error_message = excluded.error_message,
			retry_count = excluded.retry_count,
			raw_trace = excluded.raw_trace,
			updated_at = excluded.updated_at
	`,
		result.JobID.String(), result.RowIndex, respondentID, string(result.Status), string(sentencesJSON), string(excludedJSON),
		result.ErrorMessage, result.RetryCount, result.RawTrace, result.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return wrapErr("failed to put result", err)
	}
	return nil
}

// DeleteByJob はジョブの全結果を削除します
func (s *ResultStore) DeleteByJob(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transform_results WHERE job_id = ?`, jobID.String()); err != nil {
		return wrapErr("failed to delete results", err)
	}
	return nil
}

// Get は1行の結果を取得します
func (s *ResultStore) Get(ctx context.Context, jobID uuid.UUID, rowIndex int) (mo.Option[*domain.TransformResult], error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM transform_results WHERE job_id = ? AND row_index = ?`, jobID.String(), rowIndex)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mo.None[*domain.TransformResult](), nil
	}
	if err != nil {
		return mo.None[*domain.TransformResult](), wrapErr("failed to get result", err)
	}
	return mo.Some(result), nil
}

// List はrow_index昇順のページと総件数を返します
func (s *ResultStore) List(ctx context.Context, jobID uuid.UUID, offset, limit int) ([]*domain.TransformResult, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM transform_results WHERE job_id = ?`, jobID.String()).Scan(&total); err != nil {
		return nil, 0, wrapErr("failed to count results", err)
	}
	results, err := s.query(ctx,
		`SELECT `+resultColumns+` FROM transform_results WHERE job_id = ? ORDER BY row_index LIMIT ? OFFSET ?`,
		jobID.String(), limit, offset)
	if err != nil {
		return nil, 0, wrapErr("failed to list results", err)
	}
	return results, total, nil
}

// Range は[startRow, startRow+limit)の結果を返します
func (s *ResultStore) Range(ctx context.Context, jobID uuid.UUID, startRow, limit int) ([]*domain.TransformResult, error) {
	results, err := s.query(ctx,
		`SELECT `+resultColumns+` FROM transform_results WHERE job_id = ? AND row_index >= ? AND row_index < ? ORDER BY row_index`,
		jobID.String(), startRow, startRow+limit)
	if err != nil {
		return nil, wrapErr("failed to read result range", err)
	}
	return results, nil
}

// TerminalRows はcompleted/failedの行を返します
func (s *ResultStore) TerminalRows(ctx context.Context, jobID uuid.UUID) (map[int]domain.RowStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, status FROM transform_results WHERE job_id = ? AND status IN ('completed', 'failed')`, jobID.String())
	if err != nil {
		return nil, wrapErr("failed to query terminal rows", err)
	}
	defer rows.Close()

	terminal := make(map[int]domain.RowStatus)
	for rows.Next() {
		var (
			rowIndex int
			status   string
		)
		if err := rows.Scan(&rowIndex, &status); err != nil {
			return nil, wrapErr("failed to scan terminal row", err)
		}
		terminal[rowIndex] = domain.RowStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("failed to read terminal rows", err)
	}
	return terminal, nil
}

// Counts は状態別の件数を返します
func (s *ResultStore) Counts(ctx context.Context, jobID uuid.UUID) (domain.ResultCounts, error) {
	var counts domain.ResultCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0)
		FROM transform_results WHERE job_id = ?
	`, jobID.String()).Scan(&counts.Completed, &counts.Failed, &counts.Processing)
	if err != nil {
		return domain.ResultCounts{}, wrapErr("failed to count results", err)
	}
	return counts, nil
}

func (s *ResultStore) query(ctx context.Context, query string, args ...any) ([]*domain.TransformResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*domain.TransformResult{}
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*domain.TransformResult, error) {
	var (
		result              domain.TransformResult
		jobID, status       string
		respondentID        sql.NullString
		sentences, excluded string
		updatedAt           int64
	)
	if err := row.Scan(&jobID, &result.RowIndex, &respondentID, &status, &sentences, &excluded,
		&result.ErrorMessage, &result.RetryCount, &result.RawTrace, &updatedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, err
	}
	result.JobID = id
	result.Status = domain.RowStatus(status)
	result.UpdatedAt = time.Unix(0, updatedAt)
	if respondentID.Valid {
		result.RespondentID = &respondentID.String
	}
	if err := json.Unmarshal([]byte(sentences), &result.Sentences); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(excluded), &result.Excluded); err != nil {
		return nil, err
	}
	return &result, nil
}
