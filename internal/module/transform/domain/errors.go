package domain

import (
	"errors"
	"fmt"
)

// ConfirmResetToken はリセット時に要求される確認文字列
const ConfirmResetToken = "DELETE"

var (
	// ErrJobNotFound は対象ジョブが存在しない場合のエラー
	ErrJobNotFound = errors.New("job not found")

	// ErrResultNotFound は指定行の変換結果が存在しない場合のエラー
	ErrResultNotFound = errors.New("result not found")

	// ErrInvalidTransition は現在の状態で許可されない操作のエラー
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidConfirmation はリセット確認文字列が不正な場合のエラー
	ErrInvalidConfirmation = errors.New("invalid reset confirmation")

	// ErrRowLimitBelowProcessed は処理済み行数より小さい行数上限が指定された場合のエラー
	ErrRowLimitBelowProcessed = errors.New("row limit is below processed rows")

	// ErrInvalidSettings は設定値が不正な場合のエラー
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrRowOutOfRange は行インデックスが処理範囲外の場合のエラー
	ErrRowOutOfRange = errors.New("row index out of range")

	// ErrRowInFlight は行が処理中の場合のエラー
	ErrRowInFlight = errors.New("row is in flight")

	// ErrNoPendingChange は未解決の設定変更が存在しない場合のエラー
	ErrNoPendingChange = errors.New("no pending settings change")

	// ErrNothingToProcess は未処理行が残っていない場合のエラー
	ErrNothingToProcess = errors.New("no unprocessed rows remain")

	// ErrDatasetUnavailable はデータセットが読み取れない場合のエラー
	ErrDatasetUnavailable = errors.New("dataset unavailable")

	// ErrStoreUnavailable は永続化ストアが利用できない場合のエラー
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ErrorKind はオペレーションエラーの分類です
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindConflict   ErrorKind = "conflict"
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindFatal      ErrorKind = "fatal"
)

// OperationError はオペレーターに返す対処方法付きのエラーです
type OperationError struct {
	Kind    ErrorKind
	Message string
	// Action はオペレーターへの推奨対処(例: "reset")
	Action string
	Err    error
}

// Error implements the error interface
func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は元のエラーを返します
func (e *OperationError) Unwrap() error {
	return e.Err
}

// NewValidationError はvalidationエラーを作成します
func NewValidationError(err error, message, action string) *OperationError {
	return &OperationError{Kind: ErrorKindValidation, Message: message, Action: action, Err: err}
}

// NewConflictError は状態遷移エラーを作成します
func NewConflictError(err error, message, action string) *OperationError {
	return &OperationError{Kind: ErrorKindConflict, Message: message, Action: action, Err: err}
}

// NewNotFoundError はnot_foundエラーを作成します
func NewNotFoundError(err error, message string) *OperationError {
	return &OperationError{Kind: ErrorKindNotFound, Message: message, Err: err}
}

// NewFatalError はジョブレベルの致命的エラーを作成します
func NewFatalError(err error, message string) *OperationError {
	return &OperationError{Kind: ErrorKindFatal, Message: message, Err: err}
}

// KindOf はエラーの分類を返します。OperationErrorでない場合はfatal扱い
func KindOf(err error) ErrorKind {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return ErrorKindFatal
}

// EngineError は変換エンジン呼び出しの失敗を表します
type EngineError struct {
	// Transient はリトライで回復し得る失敗(ネットワーク/レート制限/タイムアウト)かどうか
	Transient bool
	Err       error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("engine %s failure: %v", kind, e.Err)
}

// Unwrap は元のエラーを返します
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewTransientError は一時的なエンジンエラーを作成します
func NewTransientError(err error) error {
	return &EngineError{Transient: true, Err: err}
}

// NewPermanentError は恒久的なエンジンエラーを作成します
func NewPermanentError(err error) error {
	return &EngineError{Transient: false, Err: err}
}

// IsTransient はエラーがリトライ対象かどうかを返します
func IsTransient(err error) bool {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Transient
	}
	return false
}
