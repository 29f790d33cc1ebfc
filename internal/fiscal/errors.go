package fiscal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"

	"github.com/roro-pixel/bokati-sub001/internal/i18n"
)

// Message pairs a stable code with its default French text.
type Message struct {
	Code string `json:"code"`
	Text string `json:"message"`
	Args []any  `json:"args,omitempty"`
}

// NewMessage renders the code through the default catalog.
func NewMessage(code string, args ...any) Message {
	return Message{Code: code, Text: i18n.Default(code, args...), Args: args}
}

// UnmarshalJSON restores integral arguments as int64 so messages render
// with integer verbs after a round trip.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code string `json:"code"`
		Text string `json:"message"`
		Args []any  `json:"args"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for i, arg := range raw.Args {
		if f, ok := arg.(float64); ok && f == math.Trunc(f) {
			raw.Args[i] = int64(f)
		}
	}
	m.Code, m.Text, m.Args = raw.Code, raw.Text, raw.Args
	return nil
}

// Localize renders the message in the requested language.
func (m Message) Localize(tag language.Tag) Message {
	if !i18n.Known(m.Code) {
		return m
	}
	return Message{Code: m.Code, Text: i18n.Sprintf(tag, m.Code, m.Args...), Args: m.Args}
}

// Texts flattens messages to their display text.
func Texts(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

// LocalizeAll renders every message in the requested language.
func LocalizeAll(msgs []Message, tag language.Tag) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Localize(tag))
	}
	return out
}

var (
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("fiscal: validation failed")
	// ErrConflict indicates a duplicate fiscal year for an entity.
	ErrConflict = errors.New("fiscal: fiscal year already exists")
	// ErrNotFound indicates an unknown period or fiscal year.
	ErrNotFound = errors.New("fiscal: not found")
	// ErrCannotClose indicates blocking checks failed.
	ErrCannotClose = errors.New("fiscal: cannot close")
	// ErrIntegrity indicates the data integrity pre-check failed.
	ErrIntegrity = errors.New("fiscal: data integrity check failed")
	// ErrStaleVersion indicates the record changed since it was read.
	ErrStaleVersion = errors.New("fiscal: record modified concurrently")
	// ErrInvalidTransition indicates the status change is not allowed.
	ErrInvalidTransition = errors.New("fiscal: invalid period transition")
	// ErrFiscalYearClosed indicates the owning fiscal year is already closed.
	ErrFiscalYearClosed = errors.New("fiscal: fiscal year closed")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field string
	Msg   Message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fiscal: invalid %s: %s", e.Field, e.Msg.Text)
}

// Unwrap links the error to ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationError(field, code string, args ...any) error {
	return &ValidationError{Field: field, Msg: NewMessage(code, args...)}
}

// CannotCloseError carries every blocking reason of a refused close.
type CannotCloseError struct {
	Target  string
	Reasons []Message
}

func (e *CannotCloseError) Error() string {
	return fmt.Sprintf("fiscal: cannot close %s: %s", e.Target, strings.Join(Texts(e.Reasons), "; "))
}

// Unwrap links the error to ErrCannotClose.
func (e *CannotCloseError) Unwrap() error { return ErrCannotClose }

// IntegrityError carries the issues reported by the integrity pre-check.
type IntegrityError struct {
	Issues []Message
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("fiscal: integrity check failed: %s", strings.Join(Texts(e.Issues), "; "))
}

// Unwrap links the error to ErrIntegrity.
func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// ReasonsOf extracts user-facing reasons carried by err, if any.
func ReasonsOf(err error) []Message {
	var cc *CannotCloseError
	if errors.As(err, &cc) {
		return cc.Reasons
	}
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return ie.Issues
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return []Message{ve.Msg}
	}
	return nil
}

// IsRefusal reports whether err is a business refusal that replaying the
// same request cannot overturn. Anything else is treated as transient.
func IsRefusal(err error) bool {
	switch {
	case errors.Is(err, ErrCannotClose),
		errors.Is(err, ErrIntegrity),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrFiscalYearClosed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrWorkflowTransition):
		return true
	default:
		return false
	}
}
