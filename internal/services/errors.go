package services

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
)

const (
	msgOverlap        = "Coach has an overlapping session during this time"
	msgCoachRequired  = "Coach is required for session"
	msgEndAfterStart  = "must be after start time"
	msgBlank          = "can't be blank"
	msgInvalidTime    = "must be a valid RFC3339 timestamp"
	msgInvalidStatus  = "is not included in the list"
	msgMustExist      = "must exist"
	msgUserHasSession = "User still has sessions"
)

// ValidationError collects every failure found at one validation layer.
// Fields holds per-field messages, Base holds record-level messages.
type ValidationError struct {
	Fields map[string][]string
	Base   []string

	cause error
}

// Unwrap exposes ErrConflict when the storage constraint, not the
// application check, rejected the write.
func (e *ValidationError) Unwrap() error {
	return e.cause
}

func (e *ValidationError) Error() string {
	messages := e.Messages()
	if len(messages) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(messages, ", ")
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) AddBase(message string) {
	e.Base = append(e.Base, message)
}

func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0 && len(e.Base) == 0
}

// Messages renders full messages, base messages first, then fields sorted by
// name.
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Base)+len(e.Fields))
	out = append(out, e.Base...)

	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		label := humanizeField(field)
		for _, message := range e.Fields[field] {
			out = append(out, label+" "+message)
		}
	}
	return out
}

// Has reports whether field carries message.
func (e *ValidationError) Has(field, message string) bool {
	for _, m := range e.Fields[field] {
		if m == message {
			return true
		}
	}
	return false
}

func (e *ValidationError) HasBase(message string) bool {
	for _, m := range e.Base {
		if m == message {
			return true
		}
	}
	return false
}

func (e *ValidationError) orNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func humanizeField(field string) string {
	field = strings.TrimSuffix(field, "_id")
	field = strings.ReplaceAll(field, "_", " ")
	if field == "" {
		return field
	}
	return strings.ToUpper(field[:1]) + field[1:]
}

func overlapError() *ValidationError {
	verr := &ValidationError{}
	verr.AddBase(msgOverlap)
	return verr
}

// IsOverlap reports whether err is a validation failure caused by a
// scheduling conflict.
func IsOverlap(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) && verr.HasBase(msgOverlap)
}
