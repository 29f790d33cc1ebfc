// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes bounds decoded request bodies.
const MaxBodyBytes = 1 << 20

// Reason is one machine-readable cause attached to a problem.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type    string   `json:"type,omitempty"`
	Title   string   `json:"title"`
	Status  int      `json:"status"`
	Detail  string   `json:"detail,omitempty"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	ProblemWithReasons(w, status, title, detail, nil)
}

// ProblemWithReasons sends a problem carrying its individual causes.
func ProblemWithReasons(w http.ResponseWriter, status int, title, detail string, reasons []Reason) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:   title,
		Status:  status,
		Detail:  detail,
		Reasons: reasons,
	})
}

// DecodeJSON decodes a bounded JSON request body into the target struct.
// An empty body leaves target untouched.
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
