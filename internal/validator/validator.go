package validator

import (
	"reflect"
	"strings"

	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/go-playground/validator/v10"
)

// Validator is the main validator instance that combines all validation types
type Validator struct {
	structValidator   *validator.Validate
	questionValidator *QuestionValidator
}

// New creates a new centralized validator instance
func New() *Validator {
	structValidator := validator.New()

	// Register all custom validators once
	registerCustomValidators(structValidator)

	return &Validator{
		structValidator:   structValidator,
		questionValidator: NewQuestionValidator(),
	}
}

// ValidateStruct validates struct tags only
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.structValidator.Struct(s)
}

// Validate runs struct validation and converts failures into ValidationErrors.
func (v *Validator) Validate(s interface{}) error {
	if err := v.ValidateStruct(s); err != nil {
		if errs := ToValidationErrors(err); len(errs) > 0 {
			return errs
		}
		return err
	}
	return nil
}

// Question returns the question validator
func (v *Validator) Question() *QuestionValidator {
	return v.questionValidator
}

// registerCustomValidators registers all custom validation functions
func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("question_type", validateQuestionType)
	validate.RegisterValidation("difficulty_level", validateDifficultyLevel)
	validate.RegisterValidation("knowledge_level", validateKnowledgeLevel)
	validate.RegisterValidation("learning_goal", validateLearningGoal)

	// A quiz needs something to be generated from.
	validate.RegisterStructValidation(validateQuizSource, models.GenerateRequest{})

	// Custom tag name function for better error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validateQuestionType(fl validator.FieldLevel) bool {
	return models.QuestionType(fl.Field().String()).IsValid()
}

func validateDifficultyLevel(fl validator.FieldLevel) bool {
	switch models.Difficulty(fl.Field().String()) {
	case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard, models.DifficultyMixed:
		return true
	}
	return false
}

func validateKnowledgeLevel(fl validator.FieldLevel) bool {
	switch models.KnowledgeLevel(fl.Field().String()) {
	case models.KnowledgeBeginner, models.KnowledgeIntermediate, models.KnowledgeAdvanced:
		return true
	}
	return false
}

func validateLearningGoal(fl validator.FieldLevel) bool {
	switch models.LearningGoal(fl.Field().String()) {
	case models.GoalUnderstandConcepts, models.GoalApplyInformation, models.GoalLearning:
		return true
	}
	return false
}

func validateQuizSource(sl validator.StructLevel) {
	req := sl.Current().Interface().(models.GenerateRequest)
	if !req.HasSource() {
		sl.ReportError(req.Prompt, "prompt", "Prompt", "quiz_source", "")
	}
}
