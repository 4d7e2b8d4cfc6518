package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTemperature は文章生成の温度
	DefaultTemperature = 0.3
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

// EngineConfig はOpenAIエンジンの設定です
type EngineConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// OpenAIEngine はOpenAI Chat Completionsで列の値を文章に変換するエンジンです
// リトライはChunkProcessorが行うため、SDKのリトライは無効にする
type OpenAIEngine struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	errorLog    *ErrorLog
}

var _ domain.Engine = (*OpenAIEngine)(nil)

// NewOpenAIEngine は新しいOpenAIEngineを作成します
// errorLogはnilでもよい
func NewOpenAIEngine(cfg EngineConfig, errorLog *ErrorLog) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEngine{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		errorLog:    errorLog,
	}, nil
}

// Model はモデル名を返す
func (e *OpenAIEngine) Model() string {
	return e.model
}

// Transform はチャンクの列を文章に変換します
func (e *OpenAIEngine) Transform(ctx context.Context, req domain.EngineRequest) ([]domain.Sentence, error) {
	prompt := BuildUserPrompt(req)

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(e.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}
	if e.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(e.maxTokens))
	}

	completion, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errType, transient := classify(err)
		e.record(req, prompt, "", errType, transient, err)
		if transient {
			return nil, domain.NewTransientError(fmt.Errorf("OpenAI API call failed: %w", err))
		}
		return nil, domain.NewPermanentError(fmt.Errorf("OpenAI API call failed: %w", err))
	}

	if len(completion.Choices) == 0 {
		err := errors.New("no completion choices returned")
		e.record(req, prompt, "", ErrorTypeParseFailed, true, err)
		return nil, domain.NewTransientError(err)
	}

	content := completion.Choices[0].Message.Content
	sentences, err := ParseSentences(content, req)
	if err != nil {
		// 不正なJSONは再生成で回復し得る
		e.record(req, prompt, content, ErrorTypeParseFailed, true, err)
		return nil, domain.NewTransientError(err)
	}
	return sentences, nil
}

func (e *OpenAIEngine) record(req domain.EngineRequest, prompt, response string, errType ErrorType, transient bool, err error) {
	if e.errorLog == nil {
		return
	}
	logErr := e.errorLog.Record(ErrorRecord{
		Timestamp:    time.Now(),
		ErrorType:    errType,
		DatasetID:    req.DatasetID,
		RowIndex:     req.RowIndex,
		ChunkIndex:   req.ChunkIndex,
		Prompt:       prompt,
		Response:     response,
		ErrorMessage: err.Error(),
		Transient:    transient,
	})
	e.errorLog.ReportFailure(logErr)
}

// classify はAPIエラーを種類とリトライ可否に分類します
// 408/409/429/5xx、タイムアウト、ネットワークエラーはtransient
func classify(err error) (ErrorType, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeUnknown, true
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return ErrorTypeRateLimitExceeded, true
		case apiErr.StatusCode == 408:
			return ErrorTypeTimeout, true
		case apiErr.StatusCode == 409 || apiErr.StatusCode >= 500:
			return ErrorTypeUnknown, true
		default:
			return ErrorTypeRejected, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout, true
		}
		return ErrorTypeUnknown, true
	}
	return ErrorTypeUnknown, true
}
