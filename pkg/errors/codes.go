package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// Codes follow the "<MODULE>_<NNN>" convention.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeStorageError       ErrorCode = "COMMON_015"
	ErrCodeMessageQueueError  ErrorCode = "COMMON_016"
)

// Charge Module Error Codes
const (
	// ErrCodeInvalidGraph marks a structurally malformed or unsupported molecule graph.
	ErrCodeInvalidGraph ErrorCode = "CHG_001"
	// ErrCodeUnknownFragment marks an environment signature without reference candidates.
	ErrCodeUnknownFragment ErrorCode = "CHG_002"
	// ErrCodeInfeasible marks a completed search that cannot reach the target total.
	ErrCodeInfeasible ErrorCode = "CHG_003"
	// ErrCodeSearchExhausted marks a search that exceeded its table ceiling.
	ErrCodeSearchExhausted ErrorCode = "CHG_004"
	// ErrCodeInternalInconsistency marks a violated post-condition in result mapping.
	ErrCodeInternalInconsistency ErrorCode = "CHG_005"
	ErrCodeRepositoryUnavailable ErrorCode = "CHG_006"
	ErrCodeMoleculeFormat        ErrorCode = "CHG_007"
)

// Aliases used at call sites.
const (
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeRateLimit    = ErrCodeTooManyRequests
	CodeTimeout      = ErrCodeTimeout

	CodeInvalidGraph          = ErrCodeInvalidGraph
	CodeUnknownFragment       = ErrCodeUnknownFragment
	CodeInfeasible            = ErrCodeInfeasible
	CodeSearchExhausted       = ErrCodeSearchExhausted
	CodeInternalInconsistency = ErrCodeInternalInconsistency
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeStorageError:       http.StatusInternalServerError,
	ErrCodeMessageQueueError:  http.StatusInternalServerError,

	ErrCodeInvalidGraph:          http.StatusBadRequest,
	ErrCodeUnknownFragment:       http.StatusNotFound,
	ErrCodeInfeasible:            http.StatusNotFound,
	ErrCodeSearchExhausted:       http.StatusNotFound,
	ErrCodeInternalInconsistency: http.StatusInternalServerError,
	ErrCodeRepositoryUnavailable: http.StatusServiceUnavailable,
	ErrCodeMoleculeFormat:        http.StatusBadRequest,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeStorageError:       "object storage error",
	ErrCodeMessageQueueError:  "message queue error",

	ErrCodeInvalidGraph:          "invalid molecule graph",
	ErrCodeUnknownFragment:       "no reference charges for atom environment",
	ErrCodeInfeasible:            "no charge combination reaches the total charge",
	ErrCodeSearchExhausted:       "charge search space exceeded its bound",
	ErrCodeInternalInconsistency: "charge assignment violated its invariants",
	ErrCodeRepositoryUnavailable: "reference charge repository not loaded",
	ErrCodeMoleculeFormat:        "malformed molecule description",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
