// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation   ErrorType = "validation_error"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeError        ErrorType = "processing_error"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeTimeout      ErrorType = "timeout"

	// 管线摄取错误类型
	ErrorTypeSyntax            ErrorType = "syntax_error"
	ErrorTypeUnrecognizedShape ErrorType = "unrecognized_shape"
	ErrorTypePrecondition      ErrorType = "precondition_not_met"
	ErrorTypeReferenceMismatch ErrorType = "reference_mismatch"
	ErrorTypeCapacityExceeded  ErrorType = "capacity_exceeded"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string                 // 用户友好的错误代码
	Details map[string]interface{} // 行列号、缺失ID等结构化信息
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 附加结构化信息并返回自身
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewUnauthorizedError 创建未授权错误
func NewUnauthorizedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnauthorized, message, originalError)
}

// NewForbiddenError 创建禁止错误
func NewForbiddenError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeForbidden, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewSyntaxError 创建无法修复的语法错误，携带1起始的行列号
func NewSyntaxError(line, column int, offset int64, originalError error) *AppError {
	return NewAppError(ErrorTypeSyntax, fmt.Sprintf("JSON语法错误 (第%d行, 第%d列)", line, column), originalError).
		WithDetail("line", line).
		WithDetail("column", column).
		WithDetail("offset", offset)
}

// NewUnrecognizedShapeError 创建无法识别的文档结构错误
func NewUnrecognizedShapeError(message string) *AppError {
	return NewAppError(ErrorTypeUnrecognizedShape, message, nil)
}

// NewPreconditionError 创建前置条件未满足错误
func NewPreconditionError(stage, requirement string) *AppError {
	return NewAppError(ErrorTypePrecondition, fmt.Sprintf("无法合并 %s: %s", stage, requirement), nil).
		WithDetail("stage", stage).
		WithDetail("requirement", requirement)
}

// NewReferenceMismatchError 创建引用不匹配错误（非致命，仅用于记录）
func NewReferenceMismatchError(missing []string, total int) *AppError {
	return NewAppError(ErrorTypeReferenceMismatch,
		fmt.Sprintf("%d/%d 条记录未匹配到现有场景或镜头", len(missing), total), nil).
		WithDetail("missing", missing).
		WithDetail("total", total)
}

// NewCapacityExceededError 创建存储容量超限错误
func NewCapacityExceededError(required, quota int64) *AppError {
	return NewAppError(ErrorTypeCapacityExceeded,
		fmt.Sprintf("存储容量不足: 需要 %d 字节, 上限 %d 字节", required, quota), nil).
		WithDetail("required", required).
		WithDetail("quota", quota)
}

func isType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsUnauthorizedError 检查是否为未授权错误
func IsUnauthorizedError(err error) bool {
	return isType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError 检查是否为禁止错误
func IsForbiddenError(err error) bool {
	return isType(err, ErrorTypeForbidden)
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsSyntaxError 检查是否为语法错误
func IsSyntaxError(err error) bool {
	return isType(err, ErrorTypeSyntax)
}

// IsUnrecognizedShapeError 检查是否为无法识别的结构
func IsUnrecognizedShapeError(err error) bool {
	return isType(err, ErrorTypeUnrecognizedShape)
}

// IsPreconditionError 检查是否为前置条件未满足
func IsPreconditionError(err error) bool {
	return isType(err, ErrorTypePrecondition)
}

// IsCapacityExceededError 检查是否为容量超限
func IsCapacityExceededError(err error) bool {
	return isType(err, ErrorTypeCapacityExceeded)
}

// TypeOf 返回错误的类型，非 AppError 时返回处理错误
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ErrorTypeError
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeUnauthorized:
		return "UNAUTHORIZED"
	case ErrorTypeForbidden:
		return "FORBIDDEN"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeSyntax:
		return "SYNTAX_ERROR"
	case ErrorTypeUnrecognizedShape:
		return "UNRECOGNIZED_SHAPE"
	case ErrorTypePrecondition:
		return "PRECONDITION_NOT_MET"
	case ErrorTypeReferenceMismatch:
		return "REFERENCE_MISMATCH"
	case ErrorTypeCapacityExceeded:
		return "CAPACITY_EXCEEDED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
			Details: appError.Details,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
