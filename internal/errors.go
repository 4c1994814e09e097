package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeWorkflow     ErrorType = "WORKFLOW_ERROR"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidTitle     ErrorCode = "INVALID_TITLE"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidPriority  ErrorCode = "INVALID_PRIORITY"

	ErrCodeApplicationNotFound ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeUserNotFound        ErrorCode = "USER_NOT_FOUND"

	ErrCodeInvalidState         ErrorCode = "INVALID_STATE"
	ErrCodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	ErrCodeNotAuthorized        ErrorCode = "NOT_AUTHORIZED"
	ErrCodeAlreadyActed         ErrorCode = "ALREADY_ACTED"
	ErrCodeInvalidApprover      ErrorCode = "INVALID_APPROVER"
	ErrCodeConcurrencyConflict  ErrorCode = "CONCURRENCY_CONFLICT"
	ErrCodeNotificationFailed   ErrorCode = "NOTIFICATION_FAILED"
	ErrCodeMissingToken         ErrorCode = "MISSING_TOKEN"
	ErrCodeInvalidToken         ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired         ErrorCode = "TOKEN_EXPIRED"
	ErrCodeInsufficientRole     ErrorCode = "INSUFFICIENT_ROLE"
	ErrCodeUserInactive         ErrorCode = "USER_INACTIVE"
	ErrCodeRequestSchemaInvalid ErrorCode = "REQUEST_SCHEMA_INVALID"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so sentinels below work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// WorkflowErrorDetails is attached to every workflow error so callers can render
// which level failed and what the engine expected.
type WorkflowErrorDetails struct {
	ApplicationID     string   `json:"application_id,omitempty"`
	Level             string   `json:"level,omitempty"`
	ExpectedStatus    []string `json:"expected_status,omitempty"`
	ActualStatus      string   `json:"actual_status,omitempty"`
	RequiredApprovers []string `json:"required_approvers,omitempty"`
	InvalidApprovers  []string `json:"invalid_approvers,omitempty"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func newWorkflowError(code ErrorCode, status int, message string, details WorkflowErrorDetails) *AppError {
	return &AppError{
		Type:       ErrorTypeWorkflow,
		Code:       code,
		Message:    message,
		StatusCode: status,
		Details:    details,
	}
}

func NewInvalidStateError(message string, details WorkflowErrorDetails) *AppError {
	return newWorkflowError(ErrCodeInvalidState, http.StatusConflict, message, details)
}

func NewInvalidTransitionError(message string, details WorkflowErrorDetails) *AppError {
	return newWorkflowError(ErrCodeInvalidTransition, http.StatusBadRequest, message, details)
}

func NewNotAuthorizedError(message string, details WorkflowErrorDetails) *AppError {
	return newWorkflowError(ErrCodeNotAuthorized, http.StatusForbidden, message, details)
}

func NewAlreadyActedError(message string, details WorkflowErrorDetails) *AppError {
	return newWorkflowError(ErrCodeAlreadyActed, http.StatusConflict, message, details)
}

func NewInvalidApproverError(message string, details WorkflowErrorDetails) *AppError {
	return newWorkflowError(ErrCodeInvalidApprover, http.StatusUnprocessableEntity, message, details)
}

func NewConcurrencyConflictError(message string, details WorkflowErrorDetails) *AppError {
	return newWorkflowError(ErrCodeConcurrencyConflict, http.StatusConflict, message, details)
}

// Shared values. Compare with errors.Is; never call WithDetails on them.
var (
	ErrApplicationNotFound = NewNotFoundError("Application not found", ErrCodeApplicationNotFound)
	ErrUserNotFound        = NewNotFoundError("User not found", ErrCodeUserNotFound)

	ErrInvalidState        = &AppError{Code: ErrCodeInvalidState}
	ErrInvalidTransition   = &AppError{Code: ErrCodeInvalidTransition}
	ErrNotAuthorized       = &AppError{Code: ErrCodeNotAuthorized}
	ErrAlreadyActed        = &AppError{Code: ErrCodeAlreadyActed}
	ErrInvalidApprover     = &AppError{Code: ErrCodeInvalidApprover}
	ErrConcurrencyConflict = &AppError{Code: ErrCodeConcurrencyConflict}

	ErrMissingToken = NewUnauthorizedError("Missing authorization token", ErrCodeMissingToken)
	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrUserInactive = NewForbiddenError("User account is inactive", ErrCodeUserInactive)
)

func NewApplicationNotFoundError(id string) *AppError {
	return NewNotFoundError("Application not found", ErrCodeApplicationNotFound).
		WithDetails(WorkflowErrorDetails{ApplicationID: id})
}

func NewUserNotFoundError(id string) *AppError {
	return NewNotFoundError(fmt.Sprintf("User %s not found", id), ErrCodeUserNotFound)
}

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
