package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ana-joker/FULLSTUDY/internal/events"
	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
)

type recallService struct {
	repo      repositories.Repository
	publisher events.EventPublisher
	config    SchedulerConfig
	logger    *ServiceLogger
	now       func() time.Time

	mu     sync.Mutex
	deck   []models.RecallItem
	loaded bool
	review *models.ReviewSession
}

func NewRecallService(repo repositories.Repository, publisher events.EventPublisher, config SchedulerConfig, logger *slog.Logger) RecallService {
	return &recallService{
		repo:      repo,
		publisher: publisher,
		config:    config,
		logger:    NewServiceLogger(logger, LogConfig{Service: "recall", Component: "scheduler"}),
		now:       time.Now,
	}
}

// ensureLoaded reads the deck on first use. Callers hold s.mu.
func (s *recallService) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	deck, err := s.repo.Recall().LoadDeck(ctx)
	if err != nil {
		return persistenceError("load", repositories.KeyRecallDeck, err)
	}
	s.deck = deck
	s.loaded = true
	return nil
}

func (s *recallService) save(ctx context.Context) error {
	if err := s.repo.Recall().SaveDeck(ctx, s.deck); err != nil {
		return persistenceError("save", repositories.KeyRecallDeck, err)
	}
	return nil
}

func (s *recallService) indexOf(id string) int {
	return slices.IndexFunc(s.deck, func(item models.RecallItem) bool { return item.ID == id })
}

func (s *recallService) AddItem(ctx context.Context, q models.Question) (models.RecallItem, bool, error) {
	op := s.logger.WithOperation(ctx, "add_recall_item")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		op.LogResult("", "recall_item", err)
		return models.RecallItem{}, false, err
	}

	for _, existing := range s.deck {
		if existing.Question.Equal(q) {
			op.LogResult(existing.ID, "recall_item", nil)
			return existing.Clone(), false, nil
		}
	}

	item := NewRecallItem(uuid.NewString(), q, s.now())
	s.deck = append(s.deck, item)
	err := s.save(ctx)
	op.LogResult(item.ID, "recall_item", err)

	s.publish(ctx, events.NewStudyEvent(events.EventRecallItemAdded, events.RecallItemAddedEvent{
		ItemID:       item.ID,
		QuestionType: string(q.QuestionType),
		DeckSize:     len(s.deck),
	}))
	return item.Clone(), true, err
}

func (s *recallService) Grade(ctx context.Context, id string, outcome models.Outcome) (models.RecallItem, error) {
	op := s.logger.WithOperation(ctx, "grade_recall_item")

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.grade(ctx, id, outcome)
	op.LogResult(id, "recall_item", err)
	return item, err
}

// grade applies the scheduler to one deck item. Callers hold s.mu.
func (s *recallService) grade(ctx context.Context, id string, outcome models.Outcome) (models.RecallItem, error) {
	if !outcome.IsValid() {
		return models.RecallItem{}, fmt.Errorf("%w: %d", ErrInvalidOutcome, int(outcome))
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return models.RecallItem{}, err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return models.RecallItem{}, ErrRecallItemNotFound
	}

	updated := Schedule(s.deck[idx], outcome, s.now(), s.config)
	s.deck[idx] = updated
	err := s.save(ctx)

	s.publish(ctx, events.NewStudyEvent(events.EventRecallGraded, events.RecallGradedEvent{
		ItemID:         updated.ID,
		Outcome:        outcome.String(),
		Interval:       updated.Interval,
		EaseFactor:     updated.EaseFactor,
		NextReviewDate: updated.NextReviewDate,
	}))
	return updated.Clone(), err
}

func (s *recallService) DueItems(ctx context.Context, now time.Time) ([]models.RecallItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return dueItems(s.deck, now), nil
}

func dueItems(deck []models.RecallItem, now time.Time) []models.RecallItem {
	due := make([]models.RecallItem, 0)
	for _, item := range deck {
		if item.IsDue(now) {
			due = append(due, item.Clone())
		}
	}
	return due
}

func (s *recallService) Deck(ctx context.Context) ([]models.RecallItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([]models.RecallItem, len(s.deck))
	for i, item := range s.deck {
		out[i] = item.Clone()
	}
	return out, nil
}

func (s *recallService) RemoveItem(ctx context.Context, id string) error {
	op := s.logger.WithOperation(ctx, "remove_recall_item")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		op.LogResult(id, "recall_item", err)
		return err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		op.LogResult(id, "recall_item", ErrRecallItemNotFound)
		return ErrRecallItemNotFound
	}
	s.deck = slices.Delete(s.deck, idx, idx+1)
	err := s.save(ctx)
	op.LogResult(id, "recall_item", err)
	return err
}

func (s *recallService) Stats(ctx context.Context, now time.Time) (models.DeckStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return models.DeckStats{}, err
	}
	stats := models.DeckStats{Total: len(s.deck)}
	for _, item := range s.deck {
		if item.IsDue(now) {
			stats.Due++
		}
		if item.Interval > masteredInterval {
			stats.Mastered++
		} else {
			stats.Learning++
		}
	}
	return stats, nil
}

// ===== REVIEW SESSIONS =====

func (s *recallService) StartReview(ctx context.Context, now time.Time) (*models.ReviewSession, error) {
	op := s.logger.WithOperation(ctx, "start_review")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		op.LogResult("", "review", err)
		return nil, err
	}
	s.review = &models.ReviewSession{
		Items:     dueItems(s.deck, now),
		StartedAt: now,
		Graded:    make(map[string]models.Outcome),
	}
	op.LogResult("", "review", nil)
	return cloneReview(s.review), nil
}

func (s *recallService) GradeReview(ctx context.Context, id string, outcome models.Outcome) (*models.ReviewSession, error) {
	op := s.logger.WithOperation(ctx, "grade_review")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.review == nil || s.review.Done() {
		op.LogResult(id, "review", ErrNoReviewSession)
		return nil, ErrNoReviewSession
	}
	current, _ := s.review.Current()
	if current.ID != id {
		op.LogResult(id, "review", ErrReviewItemMismatch)
		return nil, ErrReviewItemMismatch
	}

	_, err := s.grade(ctx, id, outcome)
	if err != nil && !IsPersistence(err) {
		op.LogResult(id, "review", err)
		return nil, err
	}
	s.review.Graded[id] = outcome
	s.review.Position++
	op.LogResult(id, "review", err)
	return cloneReview(s.review), err
}

func (s *recallService) CurrentReview() *models.ReviewSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneReview(s.review)
}

func cloneReview(r *models.ReviewSession) *models.ReviewSession {
	if r == nil {
		return nil
	}
	c := *r
	c.Items = make([]models.RecallItem, len(r.Items))
	for i, item := range r.Items {
		c.Items[i] = item.Clone()
	}
	c.Graded = make(map[string]models.Outcome, len(r.Graded))
	for k, v := range r.Graded {
		c.Graded[k] = v
	}
	return &c
}

func (s *recallService) publish(ctx context.Context, event *events.StudyEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Logger().Warn("Failed to publish recall event",
			"event_type", event.Type,
			"error", err)
	}
}
