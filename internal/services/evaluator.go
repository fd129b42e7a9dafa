package services

import (
	"cmp"
	"slices"
	"strings"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

// Evaluate reports whether value answers q correctly. A nil or empty value
// is always incorrect. Values whose shape does not fit the question type are
// incorrect as well.
func Evaluate(q models.Question, value *models.AnswerValue) bool {
	if value == nil || value.IsEmpty() || q.CorrectAnswer.IsEmpty() {
		return false
	}

	switch q.QuestionType {
	case models.QuestionTypeMCQ, models.QuestionTypeTrueFalse, models.QuestionTypeShortAnswer:
		return evaluateText(q.CorrectAnswer, *value)
	case models.QuestionTypeOrdering:
		return evaluateOrdering(q.CorrectAnswer, *value)
	case models.QuestionTypeMatching:
		return evaluateMatching(q.CorrectAnswer, *value)
	default:
		return false
	}
}

// Case-insensitive equality after trimming. No partial credit.
func evaluateText(correct, value models.AnswerValue) bool {
	if correct.Kind != models.ValueKindText || value.Kind != models.ValueKindText {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(correct.Text), strings.TrimSpace(value.Text))
}

// Position-sensitive sequence equality.
func evaluateOrdering(correct, value models.AnswerValue) bool {
	if correct.Kind != models.ValueKindItems || value.Kind != models.ValueKindItems {
		return false
	}
	return slices.Equal(correct.Items, value.Items)
}

// Pair-set equality: same length, then element-wise equal after sorting both
// sides by prompt. Prompts are unique per question.
func evaluateMatching(correct, value models.AnswerValue) bool {
	if correct.Kind != models.ValueKindPairs || value.Kind != models.ValueKindPairs {
		return false
	}
	if len(correct.Pairs) != len(value.Pairs) {
		return false
	}
	return slices.Equal(sortedPairs(correct.Pairs), sortedPairs(value.Pairs))
}

func sortedPairs(pairs []models.MatchPair) []models.MatchPair {
	out := slices.Clone(pairs)
	slices.SortFunc(out, func(a, b models.MatchPair) int {
		return cmp.Or(cmp.Compare(a.Prompt, b.Prompt), cmp.Compare(a.Answer, b.Answer))
	})
	return out
}
