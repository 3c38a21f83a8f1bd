// internal/api/error_codes.go
package api

// API错误代码常量；管线错误直接使用 AppError.Code
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorForbidden     = "FORBIDDEN"
	ErrorUnauthorized  = "UNAUTHORIZED"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 项目相关错误
	ErrorProjectNotFound = "PROJECT_NOT_FOUND"
	ErrorCacheNotFound   = "CACHE_NOT_FOUND"

	// 摄取相关错误
	ErrorConfirmationRequired = "CONFIRMATION_REQUIRED"
	ErrorFileInvalid          = "FILE_INVALID"
	ErrorPayloadTooLarge      = "PAYLOAD_TOO_LARGE"
)
