package models

// Answer is created at submission time and never mutated afterwards.
// A nil Value means the learner submitted nothing; it is still scored.
type Answer struct {
	QuestionIndex int          `json:"questionIndex"`
	Value         *AnswerValue `json:"userAnswer"`
	IsCorrect     bool         `json:"isCorrect"`
}

func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	c := *a
	if a.Value != nil {
		v := a.Value.Clone()
		c.Value = &v
	}
	return &c
}
