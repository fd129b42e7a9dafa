package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// QuestionType enum
type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "MCQ"
	QuestionTypeTrueFalse   QuestionType = "TrueFalse"
	QuestionTypeShortAnswer QuestionType = "ShortAnswer"
	QuestionTypeOrdering    QuestionType = "Ordering"
	QuestionTypeMatching    QuestionType = "Matching"
)

// AllQuestionTypes returns every supported question type in canonical order.
func AllQuestionTypes() []QuestionType {
	return []QuestionType{
		QuestionTypeMCQ,
		QuestionTypeTrueFalse,
		QuestionTypeShortAnswer,
		QuestionTypeOrdering,
		QuestionTypeMatching,
	}
}

func (t QuestionType) IsValid() bool {
	return slices.Contains(AllQuestionTypes(), t)
}

// ValueKind tells which member of the AnswerValue union is populated.
type ValueKind int

const (
	ValueKindNone ValueKind = iota
	ValueKindText
	ValueKindItems
	ValueKindPairs
)

func (k ValueKind) String() string {
	switch k {
	case ValueKindText:
		return "text"
	case ValueKindItems:
		return "items"
	case ValueKindPairs:
		return "pairs"
	default:
		return "none"
	}
}

// MatchPair is one prompt/answer link of a Matching question.
type MatchPair struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

// AnswerValue holds either a correct answer or a submitted one. Its JSON form
// is a string, an array of strings or an array of {prompt, answer} objects.
type AnswerValue struct {
	Kind  ValueKind
	Text  string
	Items []string
	Pairs []MatchPair
}

func TextValue(text string) AnswerValue {
	return AnswerValue{Kind: ValueKindText, Text: text}
}

func ItemsValue(items ...string) AnswerValue {
	return AnswerValue{Kind: ValueKindItems, Items: items}
}

func PairsValue(pairs ...MatchPair) AnswerValue {
	return AnswerValue{Kind: ValueKindPairs, Pairs: pairs}
}

// IsEmpty reports whether the value carries nothing worth evaluating.
func (v AnswerValue) IsEmpty() bool {
	switch v.Kind {
	case ValueKindText:
		return strings.TrimSpace(v.Text) == ""
	case ValueKindItems:
		return len(v.Items) == 0
	case ValueKindPairs:
		return len(v.Pairs) == 0
	default:
		return true
	}
}

// Equal is strict structural equality (kind, order and case sensitive).
func (v AnswerValue) Equal(other AnswerValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueKindText:
		return v.Text == other.Text
	case ValueKindItems:
		return slices.Equal(v.Items, other.Items)
	case ValueKindPairs:
		return slices.Equal(v.Pairs, other.Pairs)
	default:
		return true
	}
}

func (v AnswerValue) Clone() AnswerValue {
	return AnswerValue{
		Kind:  v.Kind,
		Text:  v.Text,
		Items: slices.Clone(v.Items),
		Pairs: slices.Clone(v.Pairs),
	}
}

func (v AnswerValue) String() string {
	switch v.Kind {
	case ValueKindText:
		return v.Text
	case ValueKindItems:
		return strings.Join(v.Items, " → ")
	case ValueKindPairs:
		parts := make([]string, len(v.Pairs))
		for i, p := range v.Pairs {
			parts[i] = p.Prompt + " → " + p.Answer
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueKindText:
		return json.Marshal(v.Text)
	case ValueKindItems:
		if v.Items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Items)
	case ValueKindPairs:
		if v.Pairs == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Pairs)
	default:
		return []byte("null"), nil
	}
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = AnswerValue{}

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*v = TextValue(text)
		return nil
	case 't', 'f':
		// Some generations encode TrueFalse answers as JSON booleans.
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		if b {
			*v = TextValue("True")
		} else {
			*v = TextValue("False")
		}
		return nil
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err == nil {
			*v = ItemsValue(items...)
			return nil
		}
		var pairs []MatchPair
		if err := json.Unmarshal(data, &pairs); err != nil {
			return fmt.Errorf("answer value must be a list of strings or prompt/answer pairs: %w", err)
		}
		*v = PairsValue(pairs...)
		return nil
	default:
		return fmt.Errorf("unsupported answer value: %s", string(data))
	}
}

// Question is immutable once generated.
type Question struct {
	QuestionType    QuestionType `json:"questionType" validate:"required,question_type"`
	Text            string       `json:"question" validate:"required"`
	Options         []string     `json:"options"`
	MatchOptions    []string     `json:"matchOptions,omitempty"`
	CorrectAnswer   AnswerValue  `json:"correctAnswer"`
	Explanation     string       `json:"explanation"`
	CaseDescription string       `json:"caseDescription,omitempty"`
	RefersToImage   bool         `json:"refersToUploadedImage,omitempty"`
}

// Equal compares every field structurally.
func (q Question) Equal(other Question) bool {
	return q.QuestionType == other.QuestionType &&
		q.Text == other.Text &&
		slices.Equal(q.Options, other.Options) &&
		slices.Equal(q.MatchOptions, other.MatchOptions) &&
		q.CorrectAnswer.Equal(other.CorrectAnswer) &&
		q.Explanation == other.Explanation &&
		q.CaseDescription == other.CaseDescription &&
		q.RefersToImage == other.RefersToImage
}

func (q Question) Clone() Question {
	c := q
	c.Options = slices.Clone(q.Options)
	c.MatchOptions = slices.Clone(q.MatchOptions)
	c.CorrectAnswer = q.CorrectAnswer.Clone()
	return c
}

// ExpectedKind returns the answer shape a question type requires.
func (t QuestionType) ExpectedKind() ValueKind {
	switch t {
	case QuestionTypeOrdering:
		return ValueKindItems
	case QuestionTypeMatching:
		return ValueKindPairs
	case QuestionTypeMCQ, QuestionTypeTrueFalse, QuestionTypeShortAnswer:
		return ValueKindText
	default:
		return ValueKindNone
	}
}

func CloneQuestions(questions []Question) []Question {
	if questions == nil {
		return nil
	}
	out := make([]Question, len(questions))
	for i, q := range questions {
		out[i] = q.Clone()
	}
	return out
}
