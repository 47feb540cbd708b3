package errors

import (
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Bad credentials, unknown role or expired token
	ErrTypeAuth ErrorType = "authentication"
	// Reader unavailable, block authentication, read or write failures
	ErrTypeHardware ErrorType = "hardware"
	// Card field decoding or secret decryption produced unusable content
	ErrTypeCodec ErrorType = "codec"
	// Transport errors and timeouts talking to the remote API
	ErrTypeNetwork ErrorType = "network"
	// The server answered but declined the operation
	ErrTypeBusiness ErrorType = "business"
	// Local input validation
	ErrTypeValidation ErrorType = "validation"
	// Configuration errors
	ErrTypeConfig ErrorType = "configuration"
	// Generic application errors
	ErrTypeApp ErrorType = "application"
)

// AppError represents a structured application error
type AppError struct {
	Type        ErrorType              `json:"type"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	UserMessage string                 `json:"userMessage"`
	InternalErr error                  `json:"-"`
	Retryable   bool                   `json:"retryable"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.InternalErr != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.InternalErr)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.InternalErr
}

// Is matches another AppError with the same type and code, so the
// predefined errors below work as sentinels.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// Clone returns a copy that can be decorated without touching the original.
// Use it before adding context to one of the predefined errors.
func (e *AppError) Clone() *AppError {
	c := *e
	if e.Context != nil {
		c.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.InternalErr = err
	return e
}

// WithUserMessage sets a user-friendly message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// WithRetryable marks the error as retryable
func (e *AppError) WithRetryable(retryable bool) *AppError {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if the error can be retried
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// Log logs the error with its type, code and context as structured fields
func (e *AppError) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("error_type", string(e.Type)),
		zap.String("error_code", e.Code),
	}
	if e.InternalErr != nil {
		fields = append(fields, zap.Error(e.InternalErr))
	}
	if len(e.Context) > 0 {
		fields = append(fields, zap.Any("context", e.Context))
	}
	logger.Error(e.Message, fields...)
}

// New creates a new AppError
func New(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:        errType,
		Code:        code,
		Message:     message,
		InternalErr: err,
	}
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// TypeOf returns the category of err, ErrTypeApp for foreign errors
func TypeOf(err error) ErrorType {
	if appErr, ok := As(err); ok {
		return appErr.Type
	}
	return ErrTypeApp
}

// IsType reports whether err carries the given category
func IsType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// UserMessage returns the user-facing text for any error
func UserMessage(err error, fallback string) string {
	if appErr, ok := As(err); ok && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return fallback
}

// Predefined errors for common scenarios. Clone before decorating.
var (
	// Authentication errors
	ErrNotAuthenticated = New(ErrTypeAuth, "NOT_AUTHENTICATED", "operator not authenticated").
				WithUserMessage("Please log in to continue")

	ErrInvalidCredentials = New(ErrTypeAuth, "INVALID_CREDENTIALS", "invalid email or password").
				WithUserMessage("Invalid email or password. Please try again")

	ErrUnknownRole = New(ErrTypeAuth, "UNKNOWN_ROLE", "operator role is not supported by this kiosk").
			WithUserMessage("This account cannot operate the kiosk")

	ErrTokenRejected = New(ErrTypeAuth, "TOKEN_REJECTED", "server rejected the session token").
				WithUserMessage("Your session has expired. Please log in again")

	ErrTooManyAttempts = New(ErrTypeAuth, "TOO_MANY_ATTEMPTS", "login attempts rate limited").
				WithUserMessage("Too many login attempts. Please wait a moment").
				WithRetryable(true)

	// Hardware errors
	ErrReaderUnavailable = New(ErrTypeHardware, "READER_UNAVAILABLE", "card reader unavailable").
				WithUserMessage("The card reader is not available")

	ErrBlockAuthFailed = New(ErrTypeHardware, "BLOCK_AUTH_FAILED", "block authentication failed").
				WithUserMessage("Unable to access the card. Please hold it still")

	ErrBlockReadFailed = New(ErrTypeHardware, "BLOCK_READ_FAILED", "block read failed").
				WithUserMessage("Unable to read the card")

	ErrBlockWriteFailed = New(ErrTypeHardware, "BLOCK_WRITE_FAILED", "block write failed").
				WithUserMessage("Unable to write the card")

	// Codec errors
	ErrEmptyCardField = New(ErrTypeCodec, "EMPTY_CARD_FIELD", "card field is empty").
				WithUserMessage("The card holds no payment data")

	ErrInvalidFieldEncoding = New(ErrTypeCodec, "INVALID_FIELD_ENCODING", "card field is not valid UTF-8").
				WithUserMessage("The card data is unreadable")

	ErrEmptyPIN = New(ErrTypeCodec, "EMPTY_PIN", "secret cipher requires a non-empty PIN").
			WithUserMessage("The kiosk PIN is not configured")

	// Network errors
	ErrNetwork = New(ErrTypeNetwork, "NETWORK_FAILURE", "remote call failed").
			WithUserMessage("The server could not be reached. Please try again").
			WithRetryable(true)

	// Business errors
	ErrDeclined = New(ErrTypeBusiness, "DECLINED", "server declined the operation").
			WithUserMessage("The operation was declined")

	ErrInsufficientBalance = New(ErrTypeBusiness, "INSUFFICIENT_BALANCE", "amount exceeds the current balance").
				WithUserMessage("Insufficient funds on the card")

	// Validation errors
	ErrInvalidAmount = New(ErrTypeValidation, "INVALID_AMOUNT", "amount must be greater than zero").
				WithUserMessage("The amount must be greater than 0")

	ErrMissingCredentials = New(ErrTypeValidation, "MISSING_CREDENTIALS", "email and password are required").
				WithUserMessage("Please enter your email and password")

	// Configuration errors
	ErrConfigLoadFailed = New(ErrTypeConfig, "CONFIG_LOAD_FAILED", "failed to load configuration").
				WithUserMessage("Configuration file could not be loaded")

	ErrConfigSaveFailed = New(ErrTypeConfig, "CONFIG_SAVE_FAILED", "failed to save configuration").
				WithUserMessage("Unable to save settings. Check permissions")
)

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	MaxAttempts int
	OnRetry     func(attempt int, err error)
}

// NewRetryHandler creates a new retry handler that logs each failed attempt
func NewRetryHandler(maxAttempts int, logger *zap.Logger) *RetryHandler {
	return &RetryHandler{
		MaxAttempts: maxAttempts,
		OnRetry: func(attempt int, err error) {
			if logger != nil {
				logger.Warn("retrying operation",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", maxAttempts),
					zap.Error(err))
			}
		},
	}
}

// Execute runs a function with retry logic
func (r *RetryHandler) Execute(fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		// Check if error is retryable
		if appErr, ok := As(err); ok && !appErr.IsRetryable() {
			return err
		}

		if attempt < r.MaxAttempts && r.OnRetry != nil {
			r.OnRetry(attempt, err)
		}
	}

	return Wrap(lastErr, ErrTypeApp, "MAX_RETRIES_EXCEEDED",
		fmt.Sprintf("operation failed after %d attempts", r.MaxAttempts)).
		WithUserMessage("Operation failed after multiple attempts. Please try again later")
}
