package validator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

// QuestionValidator checks generated questions before they enter a session.
type QuestionValidator struct{}

// NewQuestionValidator creates a new question validator
func NewQuestionValidator() *QuestionValidator {
	return &QuestionValidator{}
}

// ValidateQuestion validates a single question against its declared type.
func (v *QuestionValidator) ValidateQuestion(q models.Question) error {
	if !q.QuestionType.IsValid() {
		return fmt.Errorf("unsupported question type %q", q.QuestionType)
	}
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("question text is required")
	}
	if want := q.QuestionType.ExpectedKind(); q.CorrectAnswer.Kind != want {
		return fmt.Errorf("correctAnswer for %s must be %s, got %s", q.QuestionType, want, q.CorrectAnswer.Kind)
	}
	if q.CorrectAnswer.IsEmpty() {
		return fmt.Errorf("correctAnswer is required")
	}

	switch q.QuestionType {
	case models.QuestionTypeMCQ:
		return v.validateMultipleChoice(q)
	case models.QuestionTypeTrueFalse:
		return v.validateTrueFalse(q)
	case models.QuestionTypeOrdering:
		return v.validateOrdering(q)
	case models.QuestionTypeMatching:
		return v.validateMatching(q)
	}
	return nil
}

// ValidateBatch validates a generated quiz. The returned error is a
// MalformedGenerationError naming the first offending question.
func (v *QuestionValidator) ValidateBatch(questions []models.Question) error {
	if len(questions) == 0 {
		return malformed(-1, "quizData must be a non-empty list")
	}

	for i, q := range questions {
		if err := v.ValidateQuestion(q); err != nil {
			return malformed(i, err.Error())
		}
	}

	return nil
}

func (v *QuestionValidator) validateMultipleChoice(q models.Question) error {
	if len(q.Options) < 2 {
		return fmt.Errorf("must have at least 2 options")
	}
	for _, option := range q.Options {
		if strings.TrimSpace(option) == "" {
			return fmt.Errorf("option text cannot be empty")
		}
	}
	if !containsFold(q.Options, q.CorrectAnswer.Text) {
		return fmt.Errorf("correct answer %q does not match any option", q.CorrectAnswer.Text)
	}
	return nil
}

func (v *QuestionValidator) validateTrueFalse(q models.Question) error {
	answer := strings.TrimSpace(q.CorrectAnswer.Text)
	if !strings.EqualFold(answer, "true") && !strings.EqualFold(answer, "false") {
		if len(q.Options) != 2 || !containsFold(q.Options, answer) {
			return fmt.Errorf("correct answer must be True or False")
		}
	}
	return nil
}

func (v *QuestionValidator) validateOrdering(q models.Question) error {
	items := q.CorrectAnswer.Items
	if len(items) < 2 {
		return fmt.Errorf("ordering requires at least 2 items")
	}
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			return fmt.Errorf("ordering items cannot be empty")
		}
	}
	if len(q.Options) > 0 {
		got := slices.Clone(q.Options)
		want := slices.Clone(items)
		slices.Sort(got)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			return fmt.Errorf("options must be a permutation of the correct order")
		}
	}
	return nil
}

// Matching prompts must be unique so that comparing pairs sorted by prompt
// is well defined.
func (v *QuestionValidator) validateMatching(q models.Question) error {
	seen := make(map[string]bool, len(q.CorrectAnswer.Pairs))
	for _, pair := range q.CorrectAnswer.Pairs {
		if strings.TrimSpace(pair.Prompt) == "" || strings.TrimSpace(pair.Answer) == "" {
			return fmt.Errorf("matching pairs need both prompt and answer")
		}
		if seen[pair.Prompt] {
			return fmt.Errorf("duplicate matching prompt %q", pair.Prompt)
		}
		seen[pair.Prompt] = true
	}
	return nil
}

func containsFold(list []string, value string) bool {
	value = strings.TrimSpace(value)
	return slices.ContainsFunc(list, func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), value)
	})
}
