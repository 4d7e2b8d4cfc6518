package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// === Repository Ports ===

// ResultStore は行単位の変換結果を保持する永続化ポートです
// 同一(jobID, rowIndex)への同時書き込みはRowSchedulerが発生させない
type ResultStore interface {
	ResultReader
	ResultWriter
}

// ResultReader は変換結果の読み取り操作を定義します
type ResultReader interface {
	Get(ctx context.Context, jobID uuid.UUID, rowIndex int) (mo.Option[*TransformResult], error)
	// List はrowIndex昇順でoffset/limitのページと総件数を返します
	List(ctx context.Context, jobID uuid.UUID, offset, limit int) ([]*TransformResult, int, error)
	// Range は[startRow, startRow+limit)の範囲にある結果を返します
	Range(ctx context.Context, jobID uuid.UUID, startRow, limit int) ([]*TransformResult, error)
	// TerminalRows はcompleted/failedの行インデックスと状態を返します
	TerminalRows(ctx context.Context, jobID uuid.UUID) (map[int]RowStatus, error)
	Counts(ctx context.Context, jobID uuid.UUID) (ResultCounts, error)
}

// ResultWriter は変換結果の書き込み操作を定義します
type ResultWriter interface {
	// Put は結果を作成または上書きします
	Put(ctx context.Context, result *TransformResult) error
	DeleteByJob(ctx context.Context, jobID uuid.UUID) error
}

// JobRepository はジョブレコードの永続化ポートです
type JobRepository interface {
	Save(ctx context.Context, job *Job) error
	GetByDataset(ctx context.Context, datasetID string) (mo.Option[*Job], error)
	Delete(ctx context.Context, jobID uuid.UUID) error
}

// === External Collaborator Ports ===

// ColumnValue はエンジンに渡す1列分の値です
type ColumnValue struct {
	Code       string `json:"code"`
	Label      string `json:"label"`
	Value      string `json:"value"`
	ValueLabel string `json:"valueLabel,omitempty"`
}

// EngineRequest は1チャンク分のエンジン入力です
type EngineRequest struct {
	DatasetID         string
	RowIndex          int
	ChunkIndex        int
	ChunkCount        int
	Columns           []ColumnValue
	AdminVariables    []string
	ExcludedVariables []string
	// PriorSentences は同じ行の先行チャンクで生成済みの文数
	PriorSentences int
}

// Engine は列の値から文章を生成する変換エンジンのポートです
// 失敗時はEngineErrorでtransient/permanentを区別して返す
type Engine interface {
	Transform(ctx context.Context, req EngineRequest) ([]Sentence, error)
}

// DatasetProvider はデータセットへのアクセスポートです
type DatasetProvider interface {
	Meta(ctx context.Context, datasetID string) (*DatasetMeta, error)
	Rows(ctx context.Context, datasetID string, offset, limit int) ([]Row, error)
}

// StatusSink はジョブ状態遷移の通知先です
type StatusSink interface {
	Publish(ctx context.Context, job *Job) error
}
