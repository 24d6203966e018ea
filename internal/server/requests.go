package server

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// ContextRequest names a module context in the URL path.
type ContextRequest struct {
	Context string `param:"context" validate:"required,max=128"`
}

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status          string `json:"status"`
	Contexts        int    `json:"contexts"`
	PendingReclaims int    `json:"pending_reclaims"`
}

// ReloadResponse acknowledges a queued reload.
type ReloadResponse struct {
	Context string `json:"context"`
	Path    string `json:"path"`
}
