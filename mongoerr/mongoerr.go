// Package mongoerr defines the structured errors shared by the query,
// update and aggregation engines.
package mongoerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codes follow the numeric codes a real server reports for the same
// failure, so callers matching on code behave identically against both.
const (
	CodeBadValue            = 2
	CodeFailedToParse       = 9
	CodeTypeMismatch        = 14
	CodeImmutableField      = 66
	CodeConflictingUpdate   = 40
	CodeInvalidPath         = 16410
	CodeUnsupportedOperator = 168
	CodeDuplicateKey        = 11000
)

// Error represents a structured engine error with snake_case JSON format.
type Error struct {
	Code             int    `json:"code"`
	ErrorCode        string `json:"error_code"`
	ErrorMessage     string `json:"error_message"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ErrorDescription != "" {
		return e.ErrorMessage + ": " + e.ErrorDescription
	}
	return e.ErrorMessage
}

// MarshalJSON returns the JSON encoding with snake_case format.
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal((*Alias)(e))
}

// NewError creates a new structured error.
func NewError(code int, errorCode, message string) *Error {
	return &Error{
		Code:         code,
		ErrorCode:    errorCode,
		ErrorMessage: message,
	}
}

// NewUnsupportedOperator reports an operator the engines do not implement.
// Surfaced at compile time, never at match time.
func NewUnsupportedOperator(context, operator string) *Error {
	return &Error{
		Code:             CodeUnsupportedOperator,
		ErrorCode:        "unsupported_operator",
		ErrorMessage:     "unsupported operator",
		ErrorDescription: fmt.Sprintf("unrecognized %s operator %q", context, operator),
	}
}

// NewTypeMismatch reports an operand whose type is incompatible with the
// operator applied to it.
func NewTypeMismatch(operator string, operands ...string) *Error {
	return &Error{
		Code:             CodeTypeMismatch,
		ErrorCode:        "type_mismatch",
		ErrorMessage:     "type mismatch",
		ErrorDescription: fmt.Sprintf("operator %q cannot be applied to operands of type %v", operator, operands),
	}
}

// NewExpressionType reports a type failure inside an aggregation expression,
// carrying the operator name and the operand type names.
func NewExpressionType(operator string, operands ...string) *Error {
	return &Error{
		Code:             CodeTypeMismatch,
		ErrorCode:        "expression_type_error",
		ErrorMessage:     "expression type error",
		ErrorDescription: fmt.Sprintf("expression %q got operands of type %v", operator, operands),
	}
}

// NewImmutableField reports an attempt to alter the _id field.
func NewImmutableField(path string) *Error {
	return &Error{
		Code:             CodeImmutableField,
		ErrorCode:        "immutable_field",
		ErrorMessage:     "field is immutable",
		ErrorDescription: fmt.Sprintf("performing an update on the path %q would modify the immutable field %q", path, "_id"),
	}
}

// NewConflictingUpdate reports two update operators targeting overlapping
// paths in the same update document.
func NewConflictingUpdate(pathA, pathB string) *Error {
	return &Error{
		Code:             CodeConflictingUpdate,
		ErrorCode:        "conflicting_update_operators",
		ErrorMessage:     "conflicting update operators",
		ErrorDescription: fmt.Sprintf("update created a conflict at %q and %q", pathA, pathB),
	}
}

// NewInvalidPath reports a malformed dotted path.
func NewInvalidPath(path, reason string) *Error {
	return &Error{
		Code:             CodeInvalidPath,
		ErrorCode:        "invalid_path",
		ErrorMessage:     "invalid path",
		ErrorDescription: fmt.Sprintf("path %q: %s", path, reason),
	}
}

// NewBadValue reports a well-formed operator with an argument it cannot accept.
func NewBadValue(operator, reason string) *Error {
	return &Error{
		Code:             CodeBadValue,
		ErrorCode:        "bad_value",
		ErrorMessage:     "bad value",
		ErrorDescription: fmt.Sprintf("operator %q: %s", operator, reason),
	}
}

// NewFailedToParse reports a structurally invalid filter, update or pipeline.
func NewFailedToParse(reason string) *Error {
	return &Error{
		Code:             CodeFailedToParse,
		ErrorCode:        "failed_to_parse",
		ErrorMessage:     "failed to parse",
		ErrorDescription: reason,
	}
}

// NewDuplicateKey reports a unique index violation.
func NewDuplicateKey(collection, index string, key any) *Error {
	return &Error{
		Code:             CodeDuplicateKey,
		ErrorCode:        "duplicate_key",
		ErrorMessage:     "duplicate key error",
		ErrorDescription: fmt.Sprintf("E11000 duplicate key error collection: %s index: %s dup key: %v", collection, index, key),
	}
}

func is(err error, errorCode string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrorCode == errorCode
	}
	return false
}

// IsUnsupportedOperator checks whether err is an unsupported operator error.
func IsUnsupportedOperator(err error) bool { return is(err, "unsupported_operator") }

// IsTypeMismatch checks whether err is a type mismatch or expression type error.
func IsTypeMismatch(err error) bool {
	return is(err, "type_mismatch") || is(err, "expression_type_error")
}

// IsImmutableField checks whether err is an immutable field error.
func IsImmutableField(err error) bool { return is(err, "immutable_field") }

// IsConflictingUpdate checks whether err is a conflicting update error.
func IsConflictingUpdate(err error) bool { return is(err, "conflicting_update_operators") }

// IsInvalidPath checks whether err is an invalid path error.
func IsInvalidPath(err error) bool { return is(err, "invalid_path") }

// IsDuplicateKey checks whether err is a duplicate key error.
func IsDuplicateKey(err error) bool { return is(err, "duplicate_key") }
