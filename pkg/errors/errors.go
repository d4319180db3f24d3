// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 资源错误 (3xxx)
	CodeTaskNotFound     ErrorCode = "3001"
	CodeChapterNotFound  ErrorCode = "3002"
	CodeMaterialNotFound ErrorCode = "3003"
	CodeOutlineNotFound  ErrorCode = "3004"
	CodeProfileNotFound  ErrorCode = "3005"

	// 业务错误 (4xxx)
	CodeGenerationFailed ErrorCode = "4001"
	CodeValidationFailed ErrorCode = "4002"
	CodeRetrievalFailed  ErrorCode = "4003"
	CodeLLMCallFailed    ErrorCode = "4005"
	CodeEmbeddingFailed  ErrorCode = "4006"

	// 外部服务错误 (5xxx)
	CodeDatabaseError    ErrorCode = "5001"
	CodeCacheError       ErrorCode = "5002"
	CodeVectorDBError    ErrorCode = "5003"
	CodeStorageError     ErrorCode = "5004"
	CodeLLMProviderError ErrorCode = "5005"

	// 流水线错误 (6xxx)
	CodeStageFailed           ErrorCode = "6001"
	CodeInsufficientGrounding ErrorCode = "6002"
	CodeSafetyBlocked         ErrorCode = "6003"
	CodeSchemaViolation       ErrorCode = "6004"
	CodeTransientProvider     ErrorCode = "6005"
	CodeUnsupportedFormat     ErrorCode = "6006"
	CodeExtractionFailed      ErrorCode = "6007"
	CodeVersionConflict       ErrorCode = "6008"
	CodeInvalidTransition     ErrorCode = "6009"
	CodeDecisionRefused       ErrorCode = "6010"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使预定义错误可以配合 errors.Is 使用
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail 返回带详细信息的副本，预定义错误不会被修改
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeUnsupportedFormat:
		return http.StatusBadRequest
	case CodeNotFound, CodeTaskNotFound, CodeChapterNotFound, CodeMaterialNotFound, CodeOutlineNotFound, CodeProfileNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeVersionConflict, CodeInvalidTransition, CodeDecisionRefused:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeValidationFailed, CodeSchemaViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrTaskNotFound     = New(CodeTaskNotFound, "generation task not found")
	ErrChapterNotFound  = New(CodeChapterNotFound, "chapter not found")
	ErrMaterialNotFound = New(CodeMaterialNotFound, "source material not found")
	ErrOutlineNotFound  = New(CodeOutlineNotFound, "outline not found")
	ErrProfileNotFound  = New(CodeProfileNotFound, "voice profile not found")

	ErrRetrievalFailed = New(CodeRetrievalFailed, "retrieval failed")
	ErrLLMCallFailed   = New(CodeLLMCallFailed, "LLM call failed")
	ErrEmbeddingFailed = New(CodeEmbeddingFailed, "embedding failed")

	ErrVersionConflict   = New(CodeVersionConflict, "checkpoint version conflict")
	ErrInvalidTransition = New(CodeInvalidTransition, "invalid task transition")
	ErrDecisionRefused   = New(CodeDecisionRefused, "decision refused")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}
