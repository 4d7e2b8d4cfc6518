package application

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// respondentIDCandidates はID列が未選択のときに探索する列名(小文字、区切り文字なし)
var respondentIDCandidates = []string{
	"respondentid",
	"respid",
	"record",
	"id",
	"uuid",
	"responseid",
	"caseid",
}

// ColumnPlan は1行分の列分類結果です
type ColumnPlan struct {
	Active   []domain.ColumnValue
	Excluded domain.ExcludedVariables
}

// ClassifyColumns はスキーマ順に各変数を admin → ユーザー除外 → 空値 → 除外パターン → 有効 の順で分類します
func ClassifyColumns(variables []domain.Variable, row domain.Row, exclusions domain.Exclusions, idColumn string) ColumnPlan {
	admin := toSet(exclusions.AdminColumns)
	if idColumn != "" {
		admin[idColumn] = struct{}{}
	}
	userExcluded := toSet(exclusions.ExcludedVariables)

	plan := ColumnPlan{
		Excluded: domain.ExcludedVariables{
			EmptyValues:    []string{},
			ExcludeOptions: []string{},
			AdminVariables: []string{},
			UserExcluded:   []string{},
		},
	}

	for _, v := range variables {
		if _, ok := admin[v.Code]; ok {
			plan.Excluded.AdminVariables = append(plan.Excluded.AdminVariables, v.Code)
			continue
		}
		if _, ok := userExcluded[v.Code]; ok {
			plan.Excluded.UserExcluded = append(plan.Excluded.UserExcluded, v.Code)
			continue
		}

		value := FormatValue(row[v.Code])
		if value == "" {
			plan.Excluded.EmptyValues = append(plan.Excluded.EmptyValues, v.Code)
			continue
		}
		valueLabel := v.ValueLabels[value]

		if matchesExcludePattern(exclusions.ExcludePatterns, v.Code, value, valueLabel) {
			plan.Excluded.ExcludeOptions = append(plan.Excluded.ExcludeOptions, v.Code)
			continue
		}

		plan.Active = append(plan.Active, domain.ColumnValue{
			Code:       v.Code,
			Label:      v.Label,
			Value:      value,
			ValueLabel: valueLabel,
		})
	}

	return plan
}

// ChunkColumns は有効列をchunkSizeごとに分割します。最後のチャンクは小さくなり得る
func ChunkColumns(columns []domain.ColumnValue, chunkSize int) [][]domain.ColumnValue {
	if chunkSize < 1 {
		chunkSize = 1
	}
	chunks := make([][]domain.ColumnValue, 0, (len(columns)+chunkSize-1)/chunkSize)
	for start := 0; start < len(columns); start += chunkSize {
		end := min(start+chunkSize, len(columns))
		chunks = append(chunks, columns[start:end])
	}
	return chunks
}

// ResolveRespondentID は回答者IDを解決します
// 選択されたID列の値 → ID らしい列名の値 → nil の順
func ResolveRespondentID(row domain.Row, variables []domain.Variable, idColumn string) *string {
	if idColumn != "" {
		if value := FormatValue(row[idColumn]); value != "" {
			return &value
		}
	}

	for _, candidate := range respondentIDCandidates {
		for _, v := range variables {
			if normalizeColumnName(v.Code) != candidate {
				continue
			}
			if value := FormatValue(row[v.Code]); value != "" {
				return &value
			}
		}
	}
	return nil
}

// FormatValue は生データの値を文字列に変換します。欠損はすべて空文字
func FormatValue(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if math.IsNaN(v) {
			return ""
		}
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func matchesExcludePattern(patterns []domain.ExcludePattern, code, value, valueLabel string) bool {
	for _, p := range patterns {
		if !p.AppliesTo(code) {
			continue
		}
		for _, option := range p.OptionLabels {
			option = strings.TrimSpace(option)
			if option == "" {
				continue
			}
			if strings.EqualFold(option, valueLabel) || strings.EqualFold(option, value) {
				return true
			}
		}
	}
	return false
}

func normalizeColumnName(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(name)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
