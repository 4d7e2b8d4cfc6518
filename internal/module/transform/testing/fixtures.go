package testing

import (
	"fmt"
	"time"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// TestDatasetID はテストで使うデータセットIDです
const TestDatasetID = "survey-2024"

// FixedTime はテストで使う固定時刻です
var FixedTime = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

// TestVariables はID列 "respondent_id" とn個の設問列(q1..qn)を持つスキーマを生成します
func TestVariables(n int) []domain.Variable {
	variables := []domain.Variable{{Code: "respondent_id", Label: "回答者ID"}}
	for i := 1; i <= n; i++ {
		variables = append(variables, domain.Variable{
			Code:        fmt.Sprintf("q%d", i),
			Label:       fmt.Sprintf("設問%d", i),
			ValueLabels: map[string]string{"1": "はい", "2": "いいえ", "9": "該当なし"},
		})
	}
	return variables
}

// TestRows は全設問に "1" が入ったtotalRows行を生成します
func TestRows(totalRows, questions int) []domain.Row {
	rows := make([]domain.Row, totalRows)
	for r := range totalRows {
		row := domain.Row{"respondent_id": fmt.Sprintf("R%04d", r+1)}
		for i := 1; i <= questions; i++ {
			row[fmt.Sprintf("q%d", i)] = float64(1)
		}
		rows[r] = row
	}
	return rows
}

// TestDataset はtotalRows行・questions問のモックデータセットを生成します
func TestDataset(totalRows, questions int) *MockDatasetProvider {
	meta := &domain.DatasetMeta{TotalRows: totalRows, Variables: TestVariables(questions)}
	return NewMockDatasetProvider(meta, TestRows(totalRows, questions))
}

// TestConfig はテスト用のJobConfigを生成します
func TestConfig(chunkSize, rowConcurrency int, rowLimit *int) domain.JobConfig {
	return domain.JobConfig{
		DatasetID: TestDatasetID,
		Settings: domain.Settings{
			ChunkSize:      chunkSize,
			RowConcurrency: rowConcurrency,
			RowLimit:       rowLimit,
		},
		RespondentIDColumn: "respondent_id",
	}
}

// IntPtr はintのポインタを返します
func IntPtr(v int) *int {
	return &v
}
