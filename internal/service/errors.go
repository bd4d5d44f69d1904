package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hasferrr/mitsuko-client-sub003/internal/jsonstream"
	"github.com/hasferrr/mitsuko-client-sub003/internal/llm"
	"github.com/hasferrr/mitsuko-client-sub003/internal/session"
)

type ErrorType int

const (
	ErrParse ErrorType = iota
	ErrAPI
	ErrValidation
	ErrConfig
	ErrNetwork
	ErrAborted
	ErrNotFound
	ErrUnknown
)

type AppError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *AppError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithContext(key string, value any) *AppError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrParse:
		return "Parse"
	case ErrAPI:
		return "API"
	case ErrValidation:
		return "Validation"
	case ErrConfig:
		return "Config"
	case ErrNetwork:
		return "Network"
	case ErrAborted:
		return "Aborted"
	case ErrNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	return TypeOf(err) == errorType
}

// TypeOf returns the type of the outermost AppError in err's chain, or
// ErrUnknown.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrUnknown
}

func WrapError(err error, errorType ErrorType, message string) *AppError {
	return NewErrorWithCause(errorType, message, err)
}

// SafeExecute turns a panic in fn into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}

// classifyUpstream types an error coming from the LLM client.
func classifyUpstream(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var apiErr *llm.Error
	switch {
	case errors.Is(err, context.Canceled):
		return WrapError(err, ErrAborted, "translation cancelled")
	case errors.As(err, &apiErr), strings.Contains(err.Error(), "API request failed"):
		return WrapError(err, ErrAPI, "LLM API rejected the request")
	default:
		return WrapError(err, ErrNetwork, "LLM stream failed")
	}
}

// classifySession types the error a finished session ended with.
func classifySession(err error) *AppError {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, session.ErrAborted):
		return WrapError(err, ErrAborted, "translation cancelled")
	case jsonstream.IsParseError(err):
		return WrapError(err, ErrParse, "response failed final validation")
	default:
		return WrapError(err, ErrUnknown, "translation failed")
	}
}
