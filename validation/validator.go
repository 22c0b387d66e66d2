package validation

import (
	"fmt"
	"strings"

	"github.com/kbukum/brokerpool/errors"
)

// Validator collects validation errors for one config section.
type Validator struct {
	section string
	errors  []FieldError
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a Validator whose field names are prefixed with section.
func New(section string) *Validator {
	return &Validator{section: section}
}

func (v *Validator) qualify(field string) string {
	if v.section == "" {
		return field
	}
	return v.section + "." + field
}

// AddError adds a field error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, FieldError{Field: v.qualify(field), Message: message})
}

// HasErrors returns true if there are validation errors.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Validate returns an INVALID_CONFIG AppError if any check failed.
func (v *Validator) Validate() *errors.AppError {
	if !v.HasErrors() {
		return nil
	}
	return fieldErrorsToAppError(v.errors)
}

// Error is Validate returning a plain error, nil when every check passed.
func (v *Validator) Error() error {
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Merge folds the result of a nested Validate call into v.
func (v *Validator) Merge(err error) *Validator {
	if err == nil {
		return v
	}
	appErr, ok := errors.AsAppError(err)
	if !ok {
		v.errors = append(v.errors, FieldError{Field: v.section, Message: err.Error()})
		return v
	}
	if fields, ok := appErr.Details["fields"].([]FieldError); ok {
		v.errors = append(v.errors, fields...)
		return v
	}
	field, _ := appErr.Details["field"].(string)
	v.errors = append(v.errors, FieldError{Field: field, Message: appErr.Message})
	return v
}

// Required checks that a string is non-empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
	return v
}

// Forbidden checks that a string is empty.
func (v *Validator) Forbidden(field, value, reason string) *Validator {
	if value != "" {
		v.AddError(field, reason)
	}
	return v
}

// Min checks that a number meets a minimum value.
func (v *Validator) Min(field string, value, minVal int) *Validator {
	if value < minVal {
		v.AddError(field, fmt.Sprintf("must be at least %d", minVal))
	}
	return v
}

// OneOf checks that a non-empty value is one of the allowed values.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value == "" {
		return v
	}
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
	return v
}

// Custom applies a custom validation condition.
func (v *Validator) Custom(condition bool, field, message string) *Validator {
	if !condition {
		v.AddError(field, message)
	}
	return v
}

func fieldErrorsToAppError(fields []FieldError) *errors.AppError {
	messages := make([]string, len(fields))
	for i, e := range fields {
		messages[i] = fmt.Sprintf("%s %s", e.Field, e.Message)
	}
	field := ""
	if len(fields) == 1 {
		field = fields[0].Field
	}
	return errors.InvalidConfig(field, strings.Join(messages, "; ")).
		WithDetail("fields", fields)
}
