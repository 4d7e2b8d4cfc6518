package commands

import (
	"fmt"
	"strings"

	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// formatProgress は進捗を1行で表します
func formatProgress(s *application.StatusSnapshot) string {
	if s.Status == domain.JobStatusIdle {
		return fmt.Sprintf("[%s] ジョブはありません", s.DatasetID)
	}

	percent := 0.0
	if s.EffectiveTotal > 0 {
		percent = float64(s.ProcessedRows) / float64(s.EffectiveTotal) * 100
	}
	line := fmt.Sprintf("[%s] %s %d/%d行 (%.1f%%) 失敗%d 処理中%d リトライ%d",
		s.DatasetID, s.Status, s.ProcessedRows, s.EffectiveTotal, percent,
		s.FailedRows, s.InFlight, s.Stats.Retries)
	if s.LastError != "" {
		line += " エラー: " + s.LastError
	}
	if s.PendingSettings != nil {
		line += " (設定変更の判断待ち)"
	}
	return line
}

// formatResult は1行分の変換結果をテキストで表します
func formatResult(r *domain.TransformResult) string {
	var b strings.Builder
	id := "-"
	if r.RespondentID != nil {
		id = *r.RespondentID
	}
	fmt.Fprintf(&b, "#%d (%s) %s", r.RowIndex, id, r.Status)
	if r.RetryCount > 0 {
		fmt.Fprintf(&b, " retry=%d", r.RetryCount)
	}
	b.WriteString("\n")
	if r.ErrorMessage != "" {
		fmt.Fprintf(&b, "  ! %s\n", r.ErrorMessage)
	}
	for _, s := range r.Sentences {
		fmt.Fprintf(&b, "  - %s [%s]\n", s.Sentence, strings.Join(s.SourceVariables, ","))
	}
	b.WriteString("\n")
	return b.String()
}
