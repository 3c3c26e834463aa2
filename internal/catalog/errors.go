package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrFetchExhausted marks a feed that failed every fetch attempt with a
	// transient error. The orchestrator turns it into is_valid=false.
	ErrFetchExhausted = errors.New("feed fetch attempts exhausted")
	// ErrInvalidURL is returned for feed URLs that cannot be requested at all.
	ErrInvalidURL = errors.New("invalid feed url")
	// ErrMissingID is returned for feed records without an id.
	ErrMissingID = errors.New("feed record has no id")
)

// StatusError is a non-2xx feed response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("feed responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("feed responded with status %d: %s", e.StatusCode, e.Body)
}

// DecodeError is a feed body that is not a JSON array of objects.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode feed body: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FetchError reports that every attempt failed. It matches ErrFetchExhausted
// and unwraps to the last attempt's cause.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchExhausted, e.Err}
}

// FieldError is a feed record field whose value cannot be coerced.
type FieldError struct {
	Index int
	Field string
	Value interface{}
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("feed record %d: field %q has unsupported value %#v", e.Index, e.Field, e.Value)
}

// ValidationError is a normalized product (or one of its image URLs) that
// violates the catalog schema. It only aborts that product. Product errors
// carry the feed PID; image errors carry the stored ProductID.
type ValidationError struct {
	PID       string
	ProductID string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.PID == "" {
		return fmt.Sprintf("image of product %s is invalid: %s", e.ProductID, strings.Join(e.Fields(), ", "))
	}
	return fmt.Sprintf("product %q is invalid: %s", e.PID, strings.Join(e.Fields(), ", "))
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Fields lists the failing fields as "field:tag".
func (e *ValidationError) Fields() []string {
	var verrs validator.ValidationErrors
	if !errors.As(e.Err, &verrs) {
		return []string{e.Err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if name == "" {
			name = "value"
		}
		fields = append(fields, name+":"+fe.Tag())
	}
	return fields
}

// ProductError is a per-product failure recorded during a sync run.
type ProductError struct {
	PID     string `json:"pid"`
	Stage   string `json:"stage"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func newProductError(pid, stage string, err error) *ProductError {
	return &ProductError{PID: pid, Stage: stage, Message: err.Error(), Err: err}
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("product %q (%s): %v", e.PID, e.Stage, e.Err)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}
