package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	if len(err.Fields) > 0 {
		return err.Fields[0].Field + ": " + err.Fields[0].Error
	}
	return ""
}

// FieldErrors returns the errors keyed by field, as rendered to clients.
func (err ValidationError) FieldErrors() map[string]string {
	fldErrs := make(map[string]string, len(err.Fields))
	for _, fErr := range err.Fields {
		fldErrs[fErr.Field] = fErr.Error
	}
	return fldErrs
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
