package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind 流水线错误分类
type Kind string

const (
	KindTransientProvider     Kind = "transient_provider"
	KindInsufficientGrounding Kind = "insufficient_grounding"
	KindSafetyBlocked         Kind = "safety_blocked"
	KindSchemaViolation       Kind = "schema_violation"
	KindStageFailed           Kind = "stage_failed"
	KindUnsupportedFormat     Kind = "unsupported_format"
	KindExtractionFailed      Kind = "extraction_failed"
)

// 用于 errors.Is 的哨兵
var (
	ErrTransientProvider     = &StageError{Kind: KindTransientProvider}
	ErrInsufficientGrounding = &StageError{Kind: KindInsufficientGrounding}
	ErrSafetyBlocked         = &StageError{Kind: KindSafetyBlocked}
	ErrSchemaViolation       = &StageError{Kind: KindSchemaViolation}
	ErrStageFailed           = &StageError{Kind: KindStageFailed}
	ErrUnsupportedFormat     = &StageError{Kind: KindUnsupportedFormat}
	ErrExtractionFailed      = &StageError{Kind: KindExtractionFailed}
)

// StageError 流水线阶段错误，Stage 为空表示与阶段无关（例如单个素材的抽取失败）
type StageError struct {
	Kind   Kind
	Stage  string
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Err }

// Is 按 Kind 比较
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// AppError 转换为对外的 AppError
func (e *StageError) AppError() *AppError {
	return Wrap(e, kindToCode(e.Kind), e.Reason)
}

// NewStageError 创建阶段错误
func NewStageError(kind Kind, stage, reason string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Reason: reason, Err: err}
}

// Transient 包装可重试的模型/向量服务错误
func Transient(stage string, err error) *StageError {
	return &StageError{Kind: KindTransientProvider, Stage: stage, Reason: "provider call failed", Err: err}
}

// Groundingf 构造 InsufficientGrounding
func Groundingf(stage, format string, args ...any) *StageError {
	return &StageError{Kind: KindInsufficientGrounding, Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// Schemaf 构造 SchemaViolation
func Schemaf(stage string, err error, format string, args ...any) *StageError {
	return &StageError{Kind: KindSchemaViolation, Stage: stage, Reason: fmt.Sprintf(format, args...), Err: err}
}

// Failed 构造 StageFailed
func Failed(stage, reason string, err error) *StageError {
	return &StageError{Kind: KindStageFailed, Stage: stage, Reason: reason, Err: err}
}

// KindOf 返回错误链中第一个 StageError 的分类
func KindOf(err error) (Kind, bool) {
	var se *StageError
	if stderrors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// AsStageError 提取 StageError
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func kindToCode(k Kind) ErrorCode {
	switch k {
	case KindTransientProvider:
		return CodeTransientProvider
	case KindInsufficientGrounding:
		return CodeInsufficientGrounding
	case KindSafetyBlocked:
		return CodeSafetyBlocked
	case KindSchemaViolation:
		return CodeSchemaViolation
	case KindUnsupportedFormat:
		return CodeUnsupportedFormat
	case KindExtractionFailed:
		return CodeExtractionFailed
	default:
		return CodeStageFailed
	}
}
