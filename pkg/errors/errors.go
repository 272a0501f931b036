package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Control API codes.
	ErrCodeRoomNotFound          ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeRoomAlreadyExists     ErrorCode = "ROOM_ALREADY_EXISTS"
	ErrCodeMemberNotFound        ErrorCode = "MEMBER_NOT_FOUND"
	ErrCodeMemberAlreadyExists   ErrorCode = "MEMBER_ALREADY_EXISTS"
	ErrCodeEndpointNotFound      ErrorCode = "ENDPOINT_NOT_FOUND"
	ErrCodeEndpointAlreadyExists ErrorCode = "ENDPOINT_ALREADY_EXISTS"
	ErrCodeBadRoomSpec           ErrorCode = "BAD_ROOM_SPEC"
	ErrCodeInvalidFid            ErrorCode = "INVALID_FID"
	ErrCodeUnknown               ErrorCode = "UNKNOWN_ERROR"
)

// controlCodes are the numeric codes the control api puts on the wire.
var controlCodes = map[ErrorCode]uint32{
	ErrCodeUnknown:               1000,
	ErrCodeRoomNotFound:          1001,
	ErrCodeMemberNotFound:        1002,
	ErrCodeEndpointNotFound:      1003,
	ErrCodeRoomAlreadyExists:     1004,
	ErrCodeMemberAlreadyExists:   1005,
	ErrCodeEndpointAlreadyExists: 1006,
	ErrCodeBadRoomSpec:           1007,
	ErrCodeInvalidFid:            1008,
	ErrCodeInvalidInput:          1009,
	ErrCodeUnauthorized:          1010,
	ErrCodeRateLimit:             1011,
}

// ControlCode returns the numeric control api code, UnknownError for the rest.
func (c ErrorCode) ControlCode() uint32 {
	if n, ok := controlCodes[c]; ok {
		return n
	}
	return controlCodes[ErrCodeUnknown]
}

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Element returns the element uri attached with WithElement, if any.
func (e *AppError) Element() string {
	if v, ok := e.Context["element"].(string); ok {
		return v
	}
	return ""
}

// WithElement attaches the uri of the element the error is about.
func (e *AppError) WithElement(uri string) *AppError {
	return e.WithContext("element", uri)
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}

// ErrorResponse is the body of every failed control api request:
// {"error":{"code":1001,"text":"...","element":"local://room"}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    uint32 `json:"code"`
	Text    string `json:"text"`
	Element string `json:"element,omitempty"`
}

// Response renders the error in the control api wire format.
func (e *AppError) Response() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:    e.Code.ControlCode(),
		Text:    e.Message,
		Element: e.Element(),
	}}
}
