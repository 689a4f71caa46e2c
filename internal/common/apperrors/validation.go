package apperrors

import (
	"strings"
)

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field  string
	Value  any
	ErrStr string
}

func (ve ValidationError) Error() string {
	if len(ve.Field) > 0 {
		return ve.Field + ": " + ve.ErrStr
	}
	return ve.ErrStr
}

// ValidationErrors collects every field rejected by one validation pass.
type ValidationErrors []ValidationError

func (ves ValidationErrors) Error() string {
	parts := make([]string, 0, len(ves))
	for _, ve := range ves {
		parts = append(parts, ve.Error())
	}
	return strings.Join(parts, "; ")
}

// Invalid wraps field errors in ErrValidation.
func Invalid(msg string, ves ...ValidationError) Error {
	if len(ves) == 0 {
		return ErrValidation.Msg(msg)
	}
	return ErrValidation.MsgErr(msg, ValidationErrors(ves))
}
