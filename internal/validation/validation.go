// Package validation provides field validators for API input. Handlers
// collect errors per request and report them all at once instead of
// failing on the first bad field.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors.
type Collector struct {
	errors []ValidationError
}

// Add appends an error if err is non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors reports whether any errors were collected.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns the collected errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// Required rejects empty or whitespace-only values.
func Required(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// UTF8 rejects invalid UTF-8.
func UTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	return nil
}

// NoNullBytes rejects embedded NUL bytes, which SQLite TEXT columns
// silently truncate at.
func NoNullBytes(field, value string) *ValidationError {
	if strings.ContainsRune(value, 0) {
		return &ValidationError{Field: field, Message: "must not contain null bytes"}
	}
	return nil
}

// MaxLength rejects values longer than max bytes.
func MaxLength(field, value string, max int) *ValidationError {
	if len(value) > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d bytes", max)}
	}
	return nil
}

// MaxItems rejects slices with more than max entries.
func MaxItems(field string, n, max int) *ValidationError {
	if n > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must have at most %d entries", max)}
	}
	return nil
}

// Enum rejects values outside the allowed set. Empty values pass; pair
// with Required when the field is mandatory.
func Enum(field, value string, allowed []string) *ValidationError {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// Range rejects values outside [min, max].
func Range(field string, value, min, max float64) *ValidationError {
	if value < min || value > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %g and %g", min, max)}
	}
	return nil
}
