package services

import (
	"fmt"
	"time"

	"github.com/ana-joker/FULLSTUDY/internal/events"
	"github.com/ana-joker/FULLSTUDY/internal/models"
)

// EffectKind names a side effect requested by a quiz transition.
type EffectKind int

const (
	EffectPersistSession EffectKind = iota
	EffectClearSession
	EffectAppendHistory
	EffectPublish
)

// Effect is applied by QuizService after a transition commits.
type Effect struct {
	Kind    EffectKind
	History *models.HistoryEntry
	Event   *events.StudyEvent
}

// Quiz transitions are pure: they take the current session and return the
// next one plus the effects to apply. The input session is never modified.

func invalidTransition(op string, page models.PageState) error {
	return fmt.Errorf("%s from %s: %w", op, page, ErrInvalidTransition)
}

// checkpoint persists a session that is still in progress. A finished run
// lives on in the history log instead.
func checkpoint(s *models.QuizSession) []Effect {
	if len(s.Questions) == 0 || s.FinishedAt != nil {
		return nil
	}
	return []Effect{{Kind: EffectPersistSession}}
}

func clearedAnswers(n int) []*models.Answer {
	return make([]*models.Answer, n)
}

func installQuiz(title string, questions []models.Question, summary *string, image *models.Attachment) *models.QuizSession {
	return &models.QuizSession{
		Questions: models.CloneQuestions(questions),
		Answers:   clearedAnswers(len(questions)),
		Title:     title,
		Summary:   summary,
		PageState: models.PageLanding,
		Image:     image.Clone(),
	}
}

// applyGenerated installs a freshly generated quiz at Landing.
func applyGenerated(s *models.QuizSession, quiz *generatedQuiz, image *models.Attachment, isVariation bool) (*models.QuizSession, []Effect, error) {
	if s.PageState == models.PageActive {
		return nil, nil, invalidTransition("generate", s.PageState)
	}
	next := installQuiz(quiz.QuizTitle, quiz.QuizData, quiz.Summary, image)
	effects := append(checkpoint(next), Effect{
		Kind: EffectPublish,
		Event: events.NewStudyEvent(events.EventQuizGenerated, events.QuizGeneratedEvent{
			Title:         next.Title,
			QuestionCount: len(next.Questions),
			Variation:     isVariation,
			HasSummary:    next.Summary != nil,
		}),
	})
	return next, effects, nil
}

func transitionLoad(s *models.QuizSession, title string, questions []models.Question) (*models.QuizSession, []Effect, error) {
	if s.PageState == models.PageActive {
		return nil, nil, invalidTransition("load quiz", s.PageState)
	}
	if len(questions) == 0 {
		return nil, nil, ErrNoQuestions
	}
	next := installQuiz(title, questions, nil, nil)
	return next, checkpoint(next), nil
}

func transitionStart(s *models.QuizSession, now time.Time) (*models.QuizSession, []Effect, error) {
	if s.PageState != models.PageLanding {
		return nil, nil, invalidTransition("start", s.PageState)
	}
	if len(s.Questions) == 0 {
		return nil, nil, ErrNoQuestions
	}
	next := s.Clone()
	next.Answers = clearedAnswers(len(next.Questions))
	next.CurrentIndex = 0
	next.StartedAt = &now
	next.FinishedAt = nil
	next.PageState = models.PageActive
	next.Resumed = false

	effects := append(checkpoint(next), Effect{
		Kind: EffectPublish,
		Event: events.NewStudyEvent(events.EventQuizStarted, events.QuizStartedEvent{
			Title:         next.Title,
			QuestionCount: len(next.Questions),
			StartedAt:     now,
		}),
	})
	return next, effects, nil
}

func transitionSubmit(s *models.QuizSession, value *models.AnswerValue) (*models.QuizSession, []Effect, error) {
	if s.PageState != models.PageActive {
		return nil, nil, invalidTransition("submit answer", s.PageState)
	}
	idx := s.CurrentIndex
	if idx < 0 || idx >= len(s.Questions) {
		return nil, nil, ErrQuestionIndexOutOfRange
	}
	if s.Answers[idx] != nil {
		return nil, nil, ErrQuestionAlreadyAnswered
	}

	next := s.Clone()
	answer := &models.Answer{
		QuestionIndex: idx,
		IsCorrect:     Evaluate(next.Questions[idx], value),
	}
	if value != nil {
		v := value.Clone()
		answer.Value = &v
	}
	next.Answers[idx] = answer
	return next, checkpoint(next), nil
}

func transitionAdvance(s *models.QuizSession, now time.Time) (*models.QuizSession, []Effect, error) {
	if s.PageState != models.PageActive {
		return nil, nil, invalidTransition("advance", s.PageState)
	}
	idx := s.CurrentIndex
	if idx < 0 || idx >= len(s.Questions) {
		return nil, nil, ErrQuestionIndexOutOfRange
	}
	if s.Answers[idx] == nil {
		return nil, nil, ErrQuestionNotAnswered
	}
	if idx+1 == len(s.Questions) {
		return transitionFinish(s, now)
	}
	next := s.Clone()
	next.CurrentIndex++
	return next, checkpoint(next), nil
}

// transitionFinish scores the run, rolls it into the history log and clears
// the checkpoint. The in-memory session stays at Results for review.
func transitionFinish(s *models.QuizSession, now time.Time) (*models.QuizSession, []Effect, error) {
	if s.PageState != models.PageActive {
		return nil, nil, invalidTransition("finish", s.PageState)
	}
	next := s.Clone()
	next.FinishedAt = &now
	next.PageState = models.PageResults

	score, total := next.Score(), len(next.Questions)
	entry := &models.HistoryEntry{
		Title:      next.Title,
		Score:      score,
		Total:      total,
		Percentage: models.FormatPercentage(score, total),
		Date:       now,
		Mode:       models.HistoryModeLearning,
		QuizData:   models.CloneQuestions(next.Questions),
		TimeTaken:  models.FormatTimeTaken(next.Elapsed(now)),
	}

	effects := []Effect{
		{Kind: EffectAppendHistory, History: entry},
		{Kind: EffectClearSession},
		{Kind: EffectPublish, Event: events.NewStudyEvent(events.EventQuizCompleted, events.QuizCompletedEvent{
			Title:      entry.Title,
			Score:      entry.Score,
			Total:      entry.Total,
			Percentage: entry.Percentage,
			TimeTaken:  entry.TimeTaken,
		})},
	}
	return next, effects, nil
}

// transitionRetakeFrom keeps answers before index and resumes the run there.
func transitionRetakeFrom(s *models.QuizSession, index int, now time.Time) (*models.QuizSession, []Effect, error) {
	switch s.PageState {
	case models.PageActive, models.PageResults, models.PageReview:
	default:
		return nil, nil, invalidTransition("retake from question", s.PageState)
	}
	if index <= 0 || index >= len(s.Questions) {
		return nil, nil, ErrQuestionIndexOutOfRange
	}
	if s.Answers[index-1] == nil {
		return nil, nil, ErrQuestionNotAnswered
	}

	next := s.Clone()
	for i := index; i < len(next.Answers); i++ {
		next.Answers[i] = nil
	}
	next.CurrentIndex = index
	next.FinishedAt = nil
	if next.StartedAt == nil {
		next.StartedAt = &now
	}
	next.PageState = models.PageActive
	next.Resumed = false
	return next, checkpoint(next), nil
}

func transitionRetake(s *models.QuizSession) (*models.QuizSession, []Effect, error) {
	if s.PageState != models.PageResults && s.PageState != models.PageReview {
		return nil, nil, invalidTransition("retake", s.PageState)
	}
	next := s.Clone()
	next.Answers = clearedAnswers(len(next.Questions))
	next.CurrentIndex = 0
	next.StartedAt = nil
	next.FinishedAt = nil
	next.PageState = models.PageLanding
	next.Resumed = false
	return next, checkpoint(next), nil
}

func transitionShowReview(s *models.QuizSession) (*models.QuizSession, []Effect, error) {
	allowed := s.PageState == models.PageResults || (s.PageState == models.PageLanding && s.Resumed)
	if !allowed {
		return nil, nil, invalidTransition("review", s.PageState)
	}
	next := s.Clone()
	next.PageState = models.PageReview
	return next, checkpoint(next), nil
}

func transitionShowResults(s *models.QuizSession) (*models.QuizSession, []Effect, error) {
	if s.PageState != models.PageReview || s.FinishedAt == nil {
		return nil, nil, invalidTransition("results", s.PageState)
	}
	next := s.Clone()
	next.PageState = models.PageResults
	return next, nil, nil
}

func transitionShowHistory(s *models.QuizSession) (*models.QuizSession, []Effect, error) {
	if s.PageState != models.PageCreator {
		return nil, nil, invalidTransition("history", s.PageState)
	}
	next := s.Clone()
	next.PageState = models.PageHistory
	return next, nil, nil
}

func transitionCloseHistory(s *models.QuizSession) (*models.QuizSession, []Effect, error) {
	if s.PageState != models.PageHistory {
		return nil, nil, invalidTransition("close history", s.PageState)
	}
	next := s.Clone()
	next.PageState = models.PageCreator
	return next, nil, nil
}

// transitionRetakeHistory turns a past run into a new session at Landing.
func transitionRetakeHistory(s *models.QuizSession, entry models.HistoryEntry) (*models.QuizSession, []Effect, error) {
	if s.PageState != models.PageHistory {
		return nil, nil, invalidTransition("retake history entry", s.PageState)
	}
	if len(entry.QuizData) == 0 {
		return nil, nil, ErrNoQuestions
	}
	next := installQuiz(entry.Title, entry.QuizData, nil, nil)
	return next, checkpoint(next), nil
}

func transitionNewQuiz() (*models.QuizSession, []Effect) {
	return models.NewQuizSession(), []Effect{{Kind: EffectClearSession}}
}
