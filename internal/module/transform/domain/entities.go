package domain

import (
	"time"

	"github.com/google/uuid"
)

// === Job集約 ===

// JobStatus は変換ジョブの状態を表します
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal はジョブが終端状態(completed/failed/cancelled)かどうかを返します
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Settings は実行に影響する設定値です
type Settings struct {
	ChunkSize      int  `json:"chunkSize"`
	RowConcurrency int  `json:"rowConcurrency"`
	RowLimit       *int `json:"rowLimit,omitempty"`
	ProcessAllRows bool `json:"processAllRows"`
}

// Normalize はProcessAllRowsが指定されている場合にRowLimitを外した設定を返します
func (s Settings) Normalize() Settings {
	if s.ProcessAllRows {
		s.RowLimit = nil
	}
	return s
}

// EffectiveTotal はこの設定で処理対象となる行数を返します
func (s Settings) EffectiveTotal(totalRows int) int {
	s = s.Normalize()
	if s.RowLimit == nil || *s.RowLimit > totalRows {
		return totalRows
	}
	if *s.RowLimit < 0 {
		return 0
	}
	return *s.RowLimit
}

// Validate は設定値の範囲を検証します
func (s Settings) Validate() error {
	if s.ChunkSize < 1 {
		return NewValidationError(ErrInvalidSettings, "chunkSize must be at least 1", "fix-settings")
	}
	if s.RowConcurrency < 1 {
		return NewValidationError(ErrInvalidSettings, "rowConcurrency must be at least 1", "fix-settings")
	}
	if !s.ProcessAllRows && s.RowLimit != nil && *s.RowLimit < 1 {
		return NewValidationError(ErrInvalidSettings, "rowLimit must be at least 1", "fix-settings")
	}
	return nil
}

// RunAffectingChange は実行中に変更されると再調整が必要な差分があるかを返します
func (s Settings) RunAffectingChange(other Settings) bool {
	a, b := s.Normalize(), other.Normalize()
	if a.ChunkSize != b.ChunkSize || a.RowConcurrency != b.RowConcurrency || a.ProcessAllRows != b.ProcessAllRows {
		return true
	}
	if (a.RowLimit == nil) != (b.RowLimit == nil) {
		return true
	}
	return a.RowLimit != nil && *a.RowLimit != *b.RowLimit
}

// ExcludePattern は「該当なし」等の選択肢を持つ変数をスキップするパターンです
type ExcludePattern struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	OptionLabels []string `json:"optionLabels"`
	// Variables はパターンを適用する変数コード。空の場合は全変数に適用
	Variables []string `json:"variables,omitempty"`
	Enabled   bool     `json:"enabled"`
}

// AppliesTo はパターンが指定変数に適用されるかを返します
func (p ExcludePattern) AppliesTo(code string) bool {
	if !p.Enabled {
		return false
	}
	if len(p.Variables) == 0 {
		return true
	}
	for _, v := range p.Variables {
		if v == code {
			return true
		}
	}
	return false
}

// Exclusions は除外設定です
type Exclusions struct {
	AdminColumns      []string         `json:"adminColumns,omitempty"`
	ExcludedVariables []string         `json:"excludedVariables,omitempty"`
	ExcludePatterns   []ExcludePattern `json:"excludePatterns,omitempty"`
}

// JobConfig はジョブ開始時に渡される設定一式です
type JobConfig struct {
	DatasetID          string     `json:"datasetId"`
	Settings           Settings   `json:"settings"`
	Exclusions         Exclusions `json:"exclusions"`
	RespondentIDColumn string     `json:"respondentIdColumn,omitempty"`
}

// JobStats はジョブ全体の集計値です
type JobStats struct {
	Errors  int `json:"errors"`
	Retries int `json:"retries"`
}

// Job は1データセットに対する変換ジョブを表します
type Job struct {
	ID                 uuid.UUID  `json:"id"`
	DatasetID          string     `json:"datasetId"`
	Status             JobStatus  `json:"status"`
	TotalRows          int        `json:"totalRows"`
	Settings           Settings   `json:"settings"`
	Exclusions         Exclusions `json:"exclusions"`
	RespondentIDColumn string     `json:"respondentIdColumn,omitempty"`
	ProcessedRows      int        `json:"processedRows"`
	FailedRows         int        `json:"failedRows"`
	// CurrentRowIndex はこれまでにディスパッチされた最大の行インデックス。未ディスパッチは-1
	CurrentRowIndex int       `json:"currentRowIndex"`
	Stats           JobStats  `json:"stats"`
	LastError       string    `json:"lastError,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// NewJob は設定からidle状態のジョブを作成します
func NewJob(cfg JobConfig, totalRows int, now time.Time) *Job {
	return &Job{
		ID:                 uuid.New(),
		DatasetID:          cfg.DatasetID,
		Status:             JobStatusIdle,
		TotalRows:          totalRows,
		Settings:           cfg.Settings.Normalize(),
		Exclusions:         cfg.Exclusions,
		RespondentIDColumn: cfg.RespondentIDColumn,
		CurrentRowIndex:    -1,
		StartedAt:          now,
		UpdatedAt:          now,
	}
}

// EffectiveTotal はこのジョブが処理する行数を返します
func (j *Job) EffectiveTotal() int {
	return j.Settings.EffectiveTotal(j.TotalRows)
}

// Config はジョブの現在の設定をJobConfigとして返します
func (j *Job) Config() JobConfig {
	return JobConfig{
		DatasetID:          j.DatasetID,
		Settings:           j.Settings,
		Exclusions:         j.Exclusions,
		RespondentIDColumn: j.RespondentIDColumn,
	}
}

// Clone はスライスを含めたジョブのコピーを返します
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Settings.RowLimit != nil {
		limit := *j.Settings.RowLimit
		c.Settings.RowLimit = &limit
	}
	c.Exclusions = Exclusions{
		AdminColumns:      append([]string(nil), j.Exclusions.AdminColumns...),
		ExcludedVariables: append([]string(nil), j.Exclusions.ExcludedVariables...),
	}
	for _, p := range j.Exclusions.ExcludePatterns {
		p.OptionLabels = append([]string(nil), p.OptionLabels...)
		p.Variables = append([]string(nil), p.Variables...)
		c.Exclusions.ExcludePatterns = append(c.Exclusions.ExcludePatterns, p)
	}
	return &c
}

// === TransformResult ===

// RowStatus は行単位の処理状態です
type RowStatus string

const (
	RowStatusProcessing RowStatus = "processing"
	RowStatusCompleted  RowStatus = "completed"
	RowStatusFailed     RowStatus = "failed"
)

// IsTerminal は行が終端結果(completed/failed)かどうかを返します
func (s RowStatus) IsTerminal() bool {
	return s == RowStatusCompleted || s == RowStatusFailed
}

// Sentence はエンジンが生成した1文です
type Sentence struct {
	Sentence        string   `json:"sentence"`
	SourceVariables []string `json:"sourceVariables"`
	Warnings        []string `json:"warnings,omitempty"`
}

// ExcludedVariables は行ごとに除外された変数の分類です(各リストは互いに素)
type ExcludedVariables struct {
	EmptyValues    []string `json:"emptyValues"`
	ExcludeOptions []string `json:"excludeOptions"`
	AdminVariables []string `json:"adminVariables"`
	UserExcluded   []string `json:"userExcluded"`
}

// TransformResult は1行の変換結果です
type TransformResult struct {
	JobID        uuid.UUID         `json:"jobId"`
	RowIndex     int               `json:"rowIndex"`
	RespondentID *string           `json:"respondentId,omitempty"`
	Status       RowStatus         `json:"status"`
	Sentences    []Sentence        `json:"sentences"`
	Excluded     ExcludedVariables `json:"excluded"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	RetryCount   int               `json:"retryCount"`
	RawTrace     string            `json:"rawTrace,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Clone は結果のディープコピーを返します
func (r *TransformResult) Clone() *TransformResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.RespondentID != nil {
		id := *r.RespondentID
		c.RespondentID = &id
	}
	c.Sentences = make([]Sentence, len(r.Sentences))
	for i, s := range r.Sentences {
		c.Sentences[i] = Sentence{
			Sentence:        s.Sentence,
			SourceVariables: append([]string(nil), s.SourceVariables...),
			Warnings:        append([]string(nil), s.Warnings...),
		}
	}
	c.Excluded = ExcludedVariables{
		EmptyValues:    append([]string(nil), r.Excluded.EmptyValues...),
		ExcludeOptions: append([]string(nil), r.Excluded.ExcludeOptions...),
		AdminVariables: append([]string(nil), r.Excluded.AdminVariables...),
		UserExcluded:   append([]string(nil), r.Excluded.UserExcluded...),
	}
	return &c
}

// ResultCounts はResultStore内の状態別件数です
type ResultCounts struct {
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Processing int `json:"processing"`
}

// === Dataset ===

// Variable はデータセットの列スキーマです
type Variable struct {
	Code        string            `json:"code"`
	Label       string            `json:"label"`
	ValueLabels map[string]string `json:"valueLabels,omitempty"`
}

// DatasetMeta はデータセットのメタ情報です
type DatasetMeta struct {
	TotalRows int        `json:"totalRows"`
	Variables []Variable `json:"variables"`
}

// Row は列コードをキーとした1行分の生データです
type Row map[string]any
