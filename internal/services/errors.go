package services

import (
	"errors"
	"fmt"

	apperrors "github.com/ana-joker/FULLSTUDY/internal/errors"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
)

// ===== COMMON SERVICE ERRORS =====

var (
	// Generic errors
	ErrNotFound         = errors.New("resource not found")
	ErrValidationFailed = errors.New("validation failed")

	// Quiz session errors
	ErrInvalidTransition       = errors.New("operation not allowed in the current quiz state")
	ErrNoQuestions             = errors.New("quiz has no questions")
	ErrQuestionAlreadyAnswered = errors.New("question already answered")
	ErrQuestionNotAnswered     = errors.New("current question has not been answered")
	ErrQuestionIndexOutOfRange = errors.New("question index out of range")
	ErrHistoryEntryNotFound    = errors.New("history entry not found")

	// Generation errors
	// ErrNoContext is the NoContextError: a variation was requested before
	// any successful generation.
	ErrNoContext           = errors.New("no previous generation to vary")
	ErrGenerationCancelled = errors.New("generation cancelled")

	// Recall errors
	ErrRecallItemNotFound = errors.New("recall item not found")
	ErrInvalidOutcome     = errors.New("invalid recall outcome")
	ErrNoReviewSession    = errors.New("no review session in progress")
	ErrReviewItemMismatch = errors.New("item is not the current review card")

	// Chat errors
	ErrChatNotFound        = errors.New("chat session not found")
	ErrMessageNotFound     = errors.New("chat message not found")
	ErrTokenLimitExceeded  = errors.New("message exceeds the token limit")
	ErrSendInProgress      = errors.New("a message is already being sent in this chat")
	ErrCannotRegenerate    = errors.New("message cannot be regenerated")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrKnowledgeNotFound   = errors.New("knowledge base not found")
	ErrKnowledgeItemAbsent = errors.New("knowledge item not found")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared error types from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors
type MalformedGenerationError = apperrors.MalformedGenerationError
type ServiceUnavailableError = apperrors.ServiceUnavailableError
type PersistenceError = apperrors.PersistenceError

// TokenLimitError carries the estimate that tripped ErrTokenLimitExceeded.
type TokenLimitError struct {
	Estimated int
	Limit     int
}

func (e *TokenLimitError) Error() string {
	return fmt.Sprintf("estimated %d tokens exceeds the limit of %d", e.Estimated, e.Limit)
}

func (e *TokenLimitError) Unwrap() error { return ErrTokenLimitExceeded }

// ===== ERROR HELPERS =====

func newValidationErrors(field, message string, value interface{}) ValidationErrors {
	return ValidationErrors{*apperrors.NewValidationError(field, message, value)}
}

func persistenceError(op, key string, err error) error {
	return apperrors.NewPersistenceError(op, key, err)
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRecallItemNotFound) ||
		errors.Is(err, ErrHistoryEntryNotFound) ||
		errors.Is(err, ErrChatNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrKnowledgeNotFound) ||
		errors.Is(err, ErrKnowledgeItemAbsent) ||
		repositories.IsNotFoundError(err)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidationFailed) || apperrors.IsValidation(err)
}

// IsStateConflict checks if error is a rejected quiz or chat transition
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNoQuestions) ||
		errors.Is(err, ErrQuestionAlreadyAnswered) ||
		errors.Is(err, ErrQuestionNotAnswered) ||
		errors.Is(err, ErrSendInProgress) ||
		errors.Is(err, ErrCannotRegenerate) ||
		errors.Is(err, ErrNoContext)
}

func IsMalformedGeneration(err error) bool { return apperrors.IsMalformedGeneration(err) }
func IsServiceUnavailable(err error) bool { return apperrors.IsServiceUnavailable(err) }
func IsPersistence(err error) bool { return apperrors.IsPersistence(err) }
