package models

import (
	"slices"
	"time"
)

// PageState is the sub-page of the quiz flow the session is on.
type PageState string

const (
	PageCreator PageState = "creator"
	PageLanding PageState = "landing"
	PageActive  PageState = "active"
	PageResults PageState = "results"
	PageReview  PageState = "review"
	PageHistory PageState = "history"
)

func (p PageState) IsValid() bool {
	switch p {
	case PageCreator, PageLanding, PageActive, PageResults, PageReview, PageHistory:
		return true
	}
	return false
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
	DifficultyMixed  Difficulty = "Mixed"
)

type KnowledgeLevel string

const (
	KnowledgeBeginner     KnowledgeLevel = "Beginner"
	KnowledgeIntermediate KnowledgeLevel = "Intermediate"
	KnowledgeAdvanced     KnowledgeLevel = "Advanced"
)

type LearningGoal string

const (
	GoalUnderstandConcepts LearningGoal = "Understand Concepts"
	GoalApplyInformation   LearningGoal = "Apply Information"
	GoalLearning           LearningGoal = "Learning"
)

// Attachment is an inline binary payload such as the source image of a quiz.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

func (a *Attachment) Clone() *Attachment {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = slices.Clone(a.Data)
	return &c
}

// GenerateRequest describes what the learner wants a quiz generated from.
// At least one of Prompt, Document and Image must be set.
type GenerateRequest struct {
	Prompt              string         `json:"prompt" validate:"max=20000"`
	Document            string         `json:"document,omitempty"`
	DocumentName        string         `json:"documentName,omitempty"`
	Image               *Attachment    `json:"image,omitempty"`
	Subject             string         `json:"subject,omitempty" validate:"max=200"`
	NumQuestions        int            `json:"numQuestions" validate:"required,min=1,max=100"`
	Difficulty          Difficulty     `json:"difficulty" validate:"omitempty,difficulty_level"`
	KnowledgeLevel      KnowledgeLevel `json:"knowledgeLevel" validate:"omitempty,knowledge_level"`
	LearningGoal        LearningGoal   `json:"learningGoal" validate:"omitempty,learning_goal"`
	QuestionTypes       []QuestionType `json:"questionTypes" validate:"dive,question_type"`
	QuizLanguage        string         `json:"quizLanguage"`
	ExplanationLanguage string         `json:"explanationLanguage"`
}

// HasSource reports whether there is anything to generate from.
func (r GenerateRequest) HasSource() bool {
	return r.Prompt != "" || r.Document != "" || (r.Image != nil && len(r.Image.Data) > 0)
}

// WithDefaults fills the optional knobs the same way the quiz creator does.
func (r GenerateRequest) WithDefaults() GenerateRequest {
	if r.Difficulty == "" {
		r.Difficulty = DifficultyMixed
	}
	if r.KnowledgeLevel == "" {
		r.KnowledgeLevel = KnowledgeBeginner
	}
	if r.LearningGoal == "" {
		r.LearningGoal = GoalUnderstandConcepts
	}
	if len(r.QuestionTypes) == 0 {
		r.QuestionTypes = AllQuestionTypes()
	}
	if r.QuizLanguage == "" {
		r.QuizLanguage = "English"
	}
	if r.ExplanationLanguage == "" {
		r.ExplanationLanguage = r.QuizLanguage
	}
	return r
}

// QuizSession is the durable state of the quiz flow. len(Answers) always
// equals len(Questions); a nil entry is an unanswered question.
type QuizSession struct {
	Questions    []Question  `json:"questions"`
	Answers      []*Answer   `json:"answers"`
	Title        string      `json:"title"`
	CurrentIndex int         `json:"currentIndex"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty"`
	Summary      *string     `json:"summary,omitempty"`
	PageState    PageState   `json:"pageState"`
	Image        *Attachment `json:"image,omitempty"`
	Resumed      bool        `json:"-"`
}

func NewQuizSession() *QuizSession {
	return &QuizSession{PageState: PageCreator}
}

func (s *QuizSession) Clone() *QuizSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Questions = CloneQuestions(s.Questions)
	if s.Answers != nil {
		c.Answers = make([]*Answer, len(s.Answers))
		for i, a := range s.Answers {
			c.Answers[i] = a.Clone()
		}
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	if s.Summary != nil {
		summary := *s.Summary
		c.Summary = &summary
	}
	c.Image = s.Image.Clone()
	return &c
}

// AlignAnswers restores the answers/questions length invariant. It also
// restores empty Matching submissions, which decode as empty item lists.
func (s *QuizSession) AlignAnswers() {
	switch {
	case len(s.Answers) > len(s.Questions):
		s.Answers = s.Answers[:len(s.Questions)]
	case len(s.Answers) < len(s.Questions):
		s.Answers = append(s.Answers, make([]*Answer, len(s.Questions)-len(s.Answers))...)
	}
	for i, a := range s.Answers {
		if a == nil || a.Value == nil {
			continue
		}
		if a.Value.Kind == ValueKindItems && len(a.Value.Items) == 0 &&
			s.Questions[i].QuestionType.ExpectedKind() == ValueKindPairs {
			empty := PairsValue()
			fixed := *a
			fixed.Value = &empty
			s.Answers[i] = &fixed
		}
	}
	if s.CurrentIndex < 0 {
		s.CurrentIndex = 0
	}
	if s.CurrentIndex > len(s.Questions) {
		s.CurrentIndex = len(s.Questions)
	}
}

func (s *QuizSession) AnsweredCount() int {
	count := 0
	for _, a := range s.Answers {
		if a != nil {
			count++
		}
	}
	return count
}

func (s *QuizSession) Score() int {
	score := 0
	for _, a := range s.Answers {
		if a != nil && a.IsCorrect {
			score++
		}
	}
	return score
}

// Progress is the completion fraction in [0,1].
func (s *QuizSession) Progress() float64 {
	if len(s.Questions) == 0 {
		return 0
	}
	return float64(s.AnsweredCount()) / float64(len(s.Questions))
}

// Elapsed returns the wall-clock time spent in the current run.
func (s *QuizSession) Elapsed(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	if end.Before(*s.StartedAt) {
		return 0
	}
	return end.Sub(*s.StartedAt)
}

// LearnMoreResources is the result of a resource lookup for a question.
type LearnMoreResources struct {
	Summary      string         `json:"summary"`
	YoutubeLinks []ResourceLink `json:"youtubeLinks"`
	ArticleLinks []ResourceLink `json:"articleLinks"`
}

type ResourceLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
