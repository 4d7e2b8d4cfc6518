package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/mo"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// ResultStore はtransform_resultsテーブルの永続化アダプターです
type ResultStore struct {
	db DBTX
}

var _ domain.ResultStore = (*ResultStore)(nil)

// NewResultStore は新しいResultStoreを作成します
func NewResultStore(db DBTX) *ResultStore {
	return &ResultStore{db: db}
}

// 書き込み操作の実装

// Put は(job_id, row_index)で結果をupsertします
func (s *ResultStore) Put(ctx context.Context, result *domain.TransformResult) error {
	row, err := toResultRow(result)
	if err != nil {
		return err
	}
	if err := upsertResultRow(ctx, s.db, row); err != nil {
		return fmt.Errorf("failed to put result for row %d: %w", result.RowIndex, err)
	}
	return nil
}

// DeleteByJob はジョブの全結果を削除します
func (s *ResultStore) DeleteByJob(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, deleteResultsByJob, UUIDToPgtype(jobID)); err != nil {
		return fmt.Errorf("failed to delete results: %w", err)
	}
	return nil
}

// 読み取り操作の実装

// Get は1行の結果を取得します
func (s *ResultStore) Get(ctx context.Context, jobID uuid.UUID, rowIndex int) (mo.Option[*domain.TransformResult], error) {
	row, err := scanResultRow(s.db.QueryRow(ctx, getResult, UUIDToPgtype(jobID), rowIndex))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*domain.TransformResult](), nil
		}
		return mo.None[*domain.TransformResult](), fmt.Errorf("failed to get result: %w", err)
	}
	result, err := fromResultRow(row)
	if err != nil {
		return mo.None[*domain.TransformResult](), err
	}
	return mo.Some(result), nil
}

// List はrow_index昇順のページと総件数を返します
func (s *ResultStore) List(ctx context.Context, jobID uuid.UUID, offset, limit int) ([]*domain.TransformResult, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, countResults, UUIDToPgtype(jobID)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count results: %w", err)
	}

	rows, err := queryResultRows(ctx, s.db, listResults, UUIDToPgtype(jobID), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list results: %w", err)
	}
	results, err := fromResultRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// Range は[startRow, startRow+limit)の結果を返します
func (s *ResultStore) Range(ctx context.Context, jobID uuid.UUID, startRow, limit int) ([]*domain.TransformResult, error) {
	rows, err := queryResultRows(ctx, s.db, rangeResults, UUIDToPgtype(jobID), startRow, startRow+limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read result range: %w", err)
	}
	return fromResultRows(rows)
}

// TerminalRows はcompleted/failedの行を返します
func (s *ResultStore) TerminalRows(ctx context.Context, jobID uuid.UUID) (map[int]domain.RowStatus, error) {
	rows, err := s.db.Query(ctx, terminalRows, UUIDToPgtype(jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to query terminal rows: %w", err)
	}
	defer rows.Close()

	terminal := make(map[int]domain.RowStatus)
	for rows.Next() {
		var (
			rowIndex int32
			status   string
		)
		if err := rows.Scan(&rowIndex, &status); err != nil {
			return nil, fmt.Errorf("failed to scan terminal row: %w", err)
		}
		terminal[int(rowIndex)] = domain.RowStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read terminal rows: %w", err)
	}
	return terminal, nil
}

// Counts は状態別の件数を返します
func (s *ResultStore) Counts(ctx context.Context, jobID uuid.UUID) (domain.ResultCounts, error) {
	rows, err := s.db.Query(ctx, countByStatus, UUIDToPgtype(jobID))
	if err != nil {
		return domain.ResultCounts{}, fmt.Errorf("failed to count results: %w", err)
	}
	defer rows.Close()

	var counts domain.ResultCounts
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return domain.ResultCounts{}, fmt.Errorf("failed to scan result count: %w", err)
		}
		switch domain.RowStatus(status) {
		case domain.RowStatusCompleted:
			counts.Completed = int(n)
		case domain.RowStatusFailed:
			counts.Failed = int(n)
		case domain.RowStatusProcessing:
			counts.Processing = int(n)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ResultCounts{}, fmt.Errorf("failed to read result counts: %w", err)
	}
	return counts, nil
}

func toResultRow(result *domain.TransformResult) (resultRow, error) {
	sentences := result.Sentences
	if sentences == nil {
		sentences = []domain.Sentence{}
	}
	sentencesJSON, err := json.Marshal(sentences)
	if err != nil {
		return resultRow{}, fmt.Errorf("failed to encode sentences: %w", err)
	}
	excludedJSON, err := json.Marshal(result.Excluded)
	if err != nil {
		return resultRow{}, fmt.Errorf("failed to encode excluded variables: %w", err)
	}
	return resultRow{
		JobID:        UUIDToPgtype(result.JobID),
		RowIndex:     int32(result.RowIndex),
		RespondentID: StringPtrToPgtext(result.RespondentID),
		Status:       string(result.Status),
		Sentences:    sentencesJSON,
		Excluded:     excludedJSON,
		ErrorMessage: result.ErrorMessage,
		RetryCount:   int32(result.RetryCount),
		RawTrace:     result.RawTrace,
		UpdatedAt:    TimeToPgtype(result.UpdatedAt),
	}, nil
}

func fromResultRow(row resultRow) (*domain.TransformResult, error) {
	result := &domain.TransformResult{
		JobID:        PgtypeToUUID(row.JobID),
		RowIndex:     int(row.RowIndex),
		RespondentID: PgtextToStringPtr(row.RespondentID),
		Status:       domain.RowStatus(row.Status),
		ErrorMessage: row.ErrorMessage,
		RetryCount:   int(row.RetryCount),
		RawTrace:     row.RawTrace,
		UpdatedAt:    PgtypeToTime(row.UpdatedAt),
	}
	if err := json.Unmarshal(row.Sentences, &result.Sentences); err != nil {
		return nil, fmt.Errorf("failed to decode sentences: %w", err)
	}
	if err := json.Unmarshal(row.Excluded, &result.Excluded); err != nil {
		return nil, fmt.Errorf("failed to decode excluded variables: %w", err)
	}
	return result, nil
}

func fromResultRows(rows []resultRow) ([]*domain.TransformResult, error) {
	results := make([]*domain.TransformResult, 0, len(rows))
	for _, row := range rows {
		result, err := fromResultRow(row)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}
