package errors

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

func (pe *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", pe.Field, pe.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ToValidationErrors converts validator.ValidationErrors to our custom type.
// An error that is already ValidationErrors is returned as is.
func ToValidationErrors(err error) ValidationErrors {
	var out ValidationErrors

	var existing ValidationErrors
	if errors.As(err, &existing) {
		return existing
	}

	var validatorErr validator.ValidationErrors
	if errors.As(err, &validatorErr) {
		for _, fe := range validatorErr {
			out = append(out, ValidationError{
				Field:   fe.Field(),
				Message: getErrorMessage(fe),
				Value:   fe.Value(),
				Rule:    fe.Tag(),
			})
		}
	}

	return out
}

// IsValidation reports whether err carries field validation failures.
func IsValidation(err error) bool {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return true
	}
	var single *ValidationError
	if errors.As(err, &single) {
		return true
	}
	var validatorErr validator.ValidationErrors
	return errors.As(err, &validatorErr)
}

// getErrorMessage returns user-friendly error messages
func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", err.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", err.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", err.Param())
	case "required_if":
		return fmt.Sprintf("is required when %s", err.Param())
	case "url":
		return "must be a valid URL"

	// Custom validators
	case "question_type":
		return "must be a valid question type (MCQ, TrueFalse, ShortAnswer, Ordering, Matching)"
	case "difficulty_level":
		return "must be Easy, Medium, Hard or Mixed"
	case "knowledge_level":
		return "must be Beginner, Intermediate or Advanced"
	case "learning_goal":
		return "must be Understand Concepts, Apply Information or Learning"
	case "quiz_source":
		return "requires a prompt, a document or an image"

	default:
		return fmt.Sprintf("validation failed for rule '%s'", err.Tag())
	}
}
