package errors

// FrontendError represents an error formatted for the UI collaborator
type FrontendError struct {
	Type      string                 `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// ToFrontendError converts an error to a UI friendly format
func ToFrontendError(err error) *FrontendError {
	if appErr, ok := As(err); ok {
		return &FrontendError{
			Type:      string(appErr.Type),
			Code:      appErr.Code,
			Message:   appErr.GetUserMessage(),
			Retryable: appErr.Retryable,
			Context:   appErr.Context,
		}
	}

	// Handle generic errors
	return &FrontendError{
		Type:      string(ErrTypeApp),
		Code:      "GENERIC_ERROR",
		Message:   "An unexpected error occurred. Please try again",
		Retryable: true,
		Context:   map[string]interface{}{"originalError": err.Error()},
	}
}

// StatusCode maps an error category to the HTTP status used by the
// local control API.
func StatusCode(err error) int {
	switch TypeOf(err) {
	case ErrTypeValidation:
		return 400
	case ErrTypeAuth:
		return 401
	case ErrTypeBusiness:
		return 409
	case ErrTypeNetwork:
		return 502
	case ErrTypeHardware:
		return 503
	default:
		return 500
	}
}
