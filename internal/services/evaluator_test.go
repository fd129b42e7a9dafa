package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

func TestEvaluate_TextAnswers(t *testing.T) {
	q := mcqQuestion("Capital of France?", "Paris", "Paris", "Rome")

	for _, answer := range []string{"Paris", "paris", " Paris ", "PARIS"} {
		assert.True(t, Evaluate(q, textValue(answer)), "answer %q", answer)
	}
	assert.False(t, Evaluate(q, textValue("Rome")))
	assert.False(t, Evaluate(q, textValue("Pari")))

	short := models.Question{
		QuestionType:  models.QuestionTypeShortAnswer,
		Text:          "Largest planet?",
		CorrectAnswer: models.TextValue("Jupiter"),
	}
	assert.True(t, Evaluate(short, textValue("jupiter ")))
	assert.False(t, Evaluate(short, textValue("the planet Jupiter")))
}

func TestEvaluate_EmptyOrMissingValue(t *testing.T) {
	q := mcqQuestion("Capital of France?", "Paris", "Paris", "Rome")

	assert.False(t, Evaluate(q, nil))
	assert.False(t, Evaluate(q, textValue("   ")))
	assert.False(t, Evaluate(q, &models.AnswerValue{}))
}

func TestEvaluate_ShapeMismatch(t *testing.T) {
	q := mcqQuestion("Capital of France?", "Paris", "Paris", "Rome")
	items := models.ItemsValue("Paris")
	assert.False(t, Evaluate(q, &items))

	ordering := orderingQuestion("Order", "a", "b")
	text := models.TextValue("a, b")
	assert.False(t, Evaluate(ordering, &text))
}

func TestEvaluate_Ordering(t *testing.T) {
	q := orderingQuestion("Order the stages of mitosis", "Prophase", "Metaphase", "Anaphase", "Telophase")

	correct := q.CorrectAnswer.Clone()
	assert.True(t, Evaluate(q, &correct))

	// Every single swap of two positions must be rejected.
	for i := 0; i < len(q.CorrectAnswer.Items); i++ {
		for j := i + 1; j < len(q.CorrectAnswer.Items); j++ {
			swapped := q.CorrectAnswer.Clone()
			swapped.Items[i], swapped.Items[j] = swapped.Items[j], swapped.Items[i]
			assert.False(t, Evaluate(q, &swapped), "swap %d/%d", i, j)
		}
	}

	rotated := models.ItemsValue("Metaphase", "Anaphase", "Telophase", "Prophase")
	assert.False(t, Evaluate(q, &rotated))

	shorter := models.ItemsValue("Prophase", "Metaphase", "Anaphase")
	assert.False(t, Evaluate(q, &shorter))
}

func TestEvaluate_Matching(t *testing.T) {
	pairs := []models.MatchPair{
		{Prompt: "H2O", Answer: "Water"},
		{Prompt: "NaCl", Answer: "Salt"},
		{Prompt: "CO2", Answer: "Carbon dioxide"},
	}
	q := matchingQuestion("Match formulas", pairs...)

	t.Run("order independent", func(t *testing.T) {
		shuffled := models.PairsValue(pairs[2], pairs[0], pairs[1])
		assert.True(t, Evaluate(q, &shuffled))
		reversed := models.PairsValue(pairs[2], pairs[1], pairs[0])
		assert.True(t, Evaluate(q, &reversed))
	})

	t.Run("missing pair", func(t *testing.T) {
		partial := models.PairsValue(pairs[0], pairs[1])
		assert.False(t, Evaluate(q, &partial))
	})

	t.Run("wrong partner", func(t *testing.T) {
		wrong := models.PairsValue(
			models.MatchPair{Prompt: "H2O", Answer: "Salt"},
			models.MatchPair{Prompt: "NaCl", Answer: "Water"},
			pairs[2],
		)
		assert.False(t, Evaluate(q, &wrong))
	})

	t.Run("duplicate prompt", func(t *testing.T) {
		dup := models.PairsValue(pairs[0], pairs[0], pairs[2])
		assert.False(t, Evaluate(q, &dup))
	})
}

func TestEvaluate_TrueFalse(t *testing.T) {
	q := models.Question{
		QuestionType:  models.QuestionTypeTrueFalse,
		Text:          "The sun is a star.",
		Options:       []string{"True", "False"},
		CorrectAnswer: models.TextValue("True"),
	}
	assert.True(t, Evaluate(q, textValue("true")))
	assert.False(t, Evaluate(q, textValue("False")))
}
