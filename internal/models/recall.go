package models

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the learner's self-assessment when reviewing a recall item.
type Outcome int

const (
	OutcomeForgot Outcome = iota
	OutcomeGood
	OutcomeEasy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeForgot:
		return "forgot"
	case OutcomeGood:
		return "good"
	case OutcomeEasy:
		return "easy"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

func (o Outcome) IsValid() bool {
	return o >= OutcomeForgot && o <= OutcomeEasy
}

func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forgot", "again":
		return OutcomeForgot, nil
	case "good":
		return OutcomeGood, nil
	case "easy":
		return OutcomeEasy, nil
	}
	return OutcomeForgot, fmt.Errorf("unknown recall outcome %q", s)
}

func (o Outcome) MarshalText() ([]byte, error) {
	if !o.IsValid() {
		return nil, fmt.Errorf("invalid recall outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// RecallItem is one card of the spaced-repetition deck.
type RecallItem struct {
	ID             string    `json:"id"`
	Question       Question  `json:"questionData"`
	NextReviewDate time.Time `json:"nextReviewDate"`
	Interval       int       `json:"interval"`
	EaseFactor     float64   `json:"easeFactor"`
	AddedAt        time.Time `json:"addedAt"`
}

func (r RecallItem) IsDue(now time.Time) bool {
	return !r.NextReviewDate.After(now)
}

func (r RecallItem) Clone() RecallItem {
	c := r
	c.Question = r.Question.Clone()
	return c
}

// ReviewSession is a fixed snapshot of items due when the review began.
type ReviewSession struct {
	Items     []RecallItem       `json:"items"`
	StartedAt time.Time          `json:"startedAt"`
	Position  int                `json:"position"`
	Graded    map[string]Outcome `json:"graded"`
}

func (s *ReviewSession) Current() (RecallItem, bool) {
	if s == nil || s.Position >= len(s.Items) {
		return RecallItem{}, false
	}
	return s.Items[s.Position], true
}

func (s *ReviewSession) Done() bool {
	return s == nil || s.Position >= len(s.Items)
}

func (s *ReviewSession) Remaining() int {
	if s == nil {
		return 0
	}
	return len(s.Items) - s.Position
}

// DeckStats summarizes the deck for dashboards and exports.
type DeckStats struct {
	Total    int `json:"total"`
	Due      int `json:"due"`
	Learning int `json:"learning"`
	Mastered int `json:"mastered"`
}
