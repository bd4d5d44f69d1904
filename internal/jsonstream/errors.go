package jsonstream

import (
	"errors"
	"fmt"
)

// ParseStage names the step of strict parsing that rejected a document.
type ParseStage string

const (
	StageEmpty  ParseStage = "empty"
	StageSyntax ParseStage = "syntax"
	StageShape  ParseStage = "shape"
)

// ErrEmptyResponse is the cause reported when nothing is left after sanitizing.
var ErrEmptyResponse = errors.New("response is empty")

// ParseError is returned by ParseTranslationArrayStrict. Record is the
// zero-based position of the offending record, or -1 when the failure is
// not tied to one record.
type ParseError struct {
	Stage  ParseStage
	Record int
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse translation (%s): %s", e.Stage, e.Reason)
	if e.Record >= 0 {
		msg = fmt.Sprintf("parse translation (%s): record %d: %s", e.Stage, e.Record, e.Reason)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

func newParseError(stage ParseStage, record int, reason string, cause error) *ParseError {
	return &ParseError{
		Stage:  stage,
		Record: record,
		Reason: reason,
		Cause:  cause,
	}
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
