// Package forms validates submitted action payloads and shapes the result
// returned to the caller.
package forms

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ActionResult is the outcome of a submit action. On success only Message is
// set; on error FieldErrors and FormErrors describe what to fix.
type ActionResult struct {
	Status      string              `json:"status" enum:"success,error"`
	Message     string              `json:"message,omitempty"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`
	FormErrors  []string            `json:"formErrors,omitempty"`
}

func (r ActionResult) OK() bool { return r.Status == StatusSuccess }

func Success(message string) ActionResult {
	return ActionResult{Status: StatusSuccess, Message: message}
}

// Failure is a result with form-level errors only.
func Failure(formErrors ...string) ActionResult {
	return ActionResult{Status: StatusError, FormErrors: formErrors}
}

// FieldFailure is a result with a single field error.
func FieldFailure(field, message string) ActionResult {
	return ActionResult{Status: StatusError, FieldErrors: map[string][]string{field: {message}}}
}

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator. Field names in errors use the
// json tag.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		instance = v
	})
	return instance
}

// Check validates v. It returns a failed result and false when v is invalid.
func Check(v any) (ActionResult, bool) {
	err := Validator().Struct(v)
	if err == nil {
		return ActionResult{}, true
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return Failure(err.Error()), false
	}
	res := ActionResult{Status: StatusError, FieldErrors: map[string][]string{}}
	for _, fe := range verrs {
		field := fieldPath(fe.Namespace())
		res.FieldErrors[field] = append(res.FieldErrors[field], message(fe))
	}
	return res, false
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return "Required"
	case "min", "gte":
		if fe.Kind() == reflect.String || fe.Kind() == reflect.Slice {
			return fmt.Sprintf("Must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("Must be at least %s", fe.Param())
	case "max", "lte":
		if fe.Kind() == reflect.String || fe.Kind() == reflect.Slice {
			return fmt.Sprintf("Must contain at most %s item(s)", fe.Param())
		}
		return fmt.Sprintf("Must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", strings.Join(strings.Fields(fe.Param()), ", "))
	case "url", "http_url":
		return "Invalid URL"
	case "email":
		return "Invalid email address"
	case "datetime":
		return "Invalid date, expected YYYY-MM-DD"
	case "uuid", "uuid4":
		return "Invalid identifier"
	case "iso3166_1_alpha2":
		return "Invalid country code"
	default:
		return fmt.Sprintf("Failed %s validation", fe.Tag())
	}
}

// ValidationError carries a failed ActionResult through error returns.
type ValidationError struct {
	Result ActionResult
}

func (e ValidationError) Error() string {
	if len(e.Result.FormErrors) > 0 {
		return "validation failed: " + strings.Join(e.Result.FormErrors, "; ")
	}
	fields := make([]string, 0, len(e.Result.FieldErrors))
	for f := range e.Result.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// Validate is Check as an error.
func Validate(v any) error {
	if res, ok := Check(v); !ok {
		return ValidationError{Result: res}
	}
	return nil
}

// Invalid returns a ValidationError for a single field.
func Invalid(field, message string) error {
	return ValidationError{Result: FieldFailure(field, message)}
}
