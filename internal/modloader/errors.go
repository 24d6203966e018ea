package modloader

import "time"

// ErrorType categorizes module loading failures.
type ErrorType string

const (
	ErrorTypeLoad        ErrorType = "load"
	ErrorTypeSymbol      ErrorType = "symbol"
	ErrorTypeUnload      ErrorType = "unload"
	ErrorTypeInvalidName ErrorType = "invalid_name"
	ErrorTypeCache       ErrorType = "cache"
)

// LoaderError represents a module loading failure with context.
type LoaderError struct {
	Type      ErrorType
	Context   string
	Path      string
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *LoaderError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoaderError) Unwrap() error {
	return e.Cause
}

// NewLoaderError creates a new LoaderError with the given parameters
func NewLoaderError(errorType ErrorType, context, path, message string, cause error) *LoaderError {
	return &LoaderError{
		Type:      errorType,
		Context:   context,
		Path:      path,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}
