package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorType はエンジン呼び出し失敗の種類を表します
type ErrorType string

const (
	ErrorTypeParseFailed       ErrorType = "parse_failed"
	ErrorTypeRateLimitExceeded ErrorType = "rate_limit_exceeded"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeRejected          ErrorType = "rejected"
	ErrorTypeUnknown           ErrorType = "unknown"
)

// ErrorRecord は失敗したエンジン呼び出しのログレコードです
type ErrorRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	ErrorType    ErrorType `json:"error_type"`
	DatasetID    string    `json:"dataset_id"`
	RowIndex     int       `json:"row_index"`
	ChunkIndex   int       `json:"chunk_index"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	ErrorMessage string    `json:"error_message"`
	Transient    bool      `json:"transient"`
}

// ErrorLog は失敗したエンジン呼び出しを日付ごとのJSONLファイルに記録します
// logDirが空の場合は何もしない
type ErrorLog struct {
	logFile *os.File
	mu      sync.Mutex
	enabled bool
	logger  *slog.Logger

	writeFailure sync.Once
}

// NewErrorLog は新しいErrorLogを作成します
func NewErrorLog(logDir string, logger *slog.Logger) (*ErrorLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if logDir == "" {
		return &ErrorLog{enabled: false, logger: logger}, nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("engine_errors_%s.jsonl", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(filepath.Join(logDir, logFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &ErrorLog{logFile: logFile, enabled: true, logger: logger}, nil
}

// Close はログファイルを閉じます
func (l *ErrorLog) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// Record はエラーを記録します
func (l *ErrorLog) Record(record ErrorRecord) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	record.Prompt = TruncateString(record.Prompt, maxLoggedLength)
	record.Response = TruncateString(record.Response, maxLoggedLength)

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal error record: %w", err)
	}
	if _, err := l.logFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}

	l.logger.Warn("engine call failed",
		"errorType", record.ErrorType,
		"datasetID", record.DatasetID,
		"rowIndex", record.RowIndex,
		"chunkIndex", record.ChunkIndex,
		"error", record.ErrorMessage,
	)
	return nil
}

// ReportFailure はRecordの失敗を最初の1回だけWarnで記録します
func (l *ErrorLog) ReportFailure(err error) {
	if l == nil || err == nil {
		return
	}
	l.writeFailure.Do(func() {
		l.logger.Warn("failed to write engine error log, further failures are not reported", "error", err)
	})
}

const maxLoggedLength = 4000

// TruncateString は文字列を指定されたバイト数に切り詰めます(ログ記録用)
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// マルチバイト文字の途中で切らない
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "... (truncated)"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
