package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is the root of every not-found error in the system
var ErrNotFound = errors.New("not found")

// Validation error codes
const (
	CodeBlank         = "blank"
	CodeRange         = "range"
	CodeDuplicate     = "duplicate"
	CodeNotFound      = "not_found"
	CodeTotalExceeded = "total_exceeded"
	CodeRequired      = "required"
)

// ValidationError is one field-level failure
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates the failures of one request.
// Nothing from a request that produced it has been persisted.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Invalid builds a ValidationErrors holding a single failure
func Invalid(field, code, msg string) *ValidationErrors {
	e := &ValidationErrors{}
	e.Add(field, code, msg)
	return e
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is(err, ErrNotFound) see a not-found entry inside the aggregate
func (e *ValidationErrors) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	for _, v := range e.Errors {
		if v.Code == CodeNotFound {
			return true
		}
	}
	return false
}

// Add appends a failure
func (e *ValidationErrors) Add(field, code, msg string) {
	e.Errors = append(e.Errors, ValidationError{Field: field, Code: code, Message: msg})
}

// Empty reports whether no failure was recorded
func (e *ValidationErrors) Empty() bool {
	return len(e.Errors) == 0
}

// Err returns e, or nil when empty
func (e *ValidationErrors) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}
