package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

const systemPrompt = `あなたはアンケートの回答データを、回答者本人を描写する自然な日本語の文章に変換するアシスタントです。
与えられた設問と回答から、回答者の特徴を表す短い文を生成してください。

ルール:
- 1文は1つ以上の設問に基づくこと。根拠となった設問コードを sourceVariables に列挙すること
- 回答に書かれていない事実を推測で補わないこと
- 選択肢ラベルがある場合は値そのものではなくラベルの意味を使うこと
- 解釈に迷う回答は文を生成したうえで warnings に理由を書くこと

出力は次のJSONオブジェクトのみとすること:
{"sentences":[{"sentence":"...","sourceVariables":["q1"],"warnings":[]}]}`

type promptColumn struct {
	Code       string `json:"code"`
	Label      string `json:"label"`
	Value      string `json:"value"`
	ValueLabel string `json:"valueLabel,omitempty"`
}

type promptPayload struct {
	Chunk             string         `json:"chunk"`
	PriorSentences    int            `json:"priorSentences"`
	Columns           []promptColumn `json:"columns"`
	AdminVariables    []string       `json:"adminVariables,omitempty"`
	ExcludedVariables []string       `json:"excludedVariables,omitempty"`
}

// BuildUserPrompt はチャンク1つ分のユーザープロンプトを組み立てます
func BuildUserPrompt(req domain.EngineRequest) string {
	payload := promptPayload{
		Chunk:             fmt.Sprintf("%d/%d", req.ChunkIndex+1, max(req.ChunkCount, 1)),
		PriorSentences:    req.PriorSentences,
		Columns:           make([]promptColumn, 0, len(req.Columns)),
		AdminVariables:    req.AdminVariables,
		ExcludedVariables: req.ExcludedVariables,
	}
	for _, c := range req.Columns {
		payload.Columns = append(payload.Columns, promptColumn(c))
	}
	body, _ := json.MarshalIndent(payload, "", "  ")

	var b strings.Builder
	b.WriteString("次の回答を文章に変換してください。\n")
	if req.PriorSentences > 0 {
		fmt.Fprintf(&b, "同じ回答者について既に%d文生成済みです。内容を繰り返さないでください。\n", req.PriorSentences)
	}
	b.WriteString("adminVariables と excludedVariables は文章化の対象外です。\n\n")
	b.Write(body)
	return b.String()
}

type sentencesResponse struct {
	Sentences []struct {
		Sentence        string   `json:"sentence"`
		SourceVariables []string `json:"sourceVariables"`
		Warnings        []string `json:"warnings"`
	} `json:"sentences"`
}

// ParseSentences はエンジンの応答JSONを文のリストに変換します
// チャンクに含まれない設問コードは警告に移す
func ParseSentences(content string, req domain.EngineRequest) ([]domain.Sentence, error) {
	var resp sentencesResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse engine response: %w", err)
	}

	known := make(map[string]bool, len(req.Columns))
	for _, c := range req.Columns {
		known[c.Code] = true
	}

	sentences := make([]domain.Sentence, 0, len(resp.Sentences))
	for _, s := range resp.Sentences {
		text := strings.TrimSpace(s.Sentence)
		if text == "" {
			continue
		}
		sentence := domain.Sentence{Sentence: text, SourceVariables: []string{}, Warnings: s.Warnings}
		for _, code := range s.SourceVariables {
			if known[code] {
				sentence.SourceVariables = append(sentence.SourceVariables, code)
			} else {
				sentence.Warnings = append(sentence.Warnings, fmt.Sprintf("unknown source variable %q", code))
			}
		}
		sentences = append(sentences, sentence)
	}
	return sentences, nil
}
