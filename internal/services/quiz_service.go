package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ana-joker/FULLSTUDY/internal/cache"
	"github.com/ana-joker/FULLSTUDY/internal/events"
	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"github.com/ana-joker/FULLSTUDY/internal/validator"
)

const learnMoreCacheTTL = 24 * time.Hour

type quizService struct {
	repo      repositories.Repository
	generator GenerationService
	recall    RecallService
	publisher events.EventPublisher
	cache     cache.CacheService
	validator *validator.Validator
	logger    *ServiceLogger
	now       func() time.Time

	mu          sync.Mutex
	session     *models.QuizSession
	genToken    uint64
	lastContext *generationContext
}

// NewQuizService wires the quiz flow. publisher and resourceCache may be nil.
func NewQuizService(
	repo repositories.Repository,
	generator GenerationService,
	recall RecallService,
	publisher events.EventPublisher,
	resourceCache cache.CacheService,
	validator *validator.Validator,
	logger *slog.Logger,
) QuizService {
	return &quizService{
		repo:      repo,
		generator: generator,
		recall:    recall,
		publisher: publisher,
		cache:     resourceCache,
		validator: validator,
		logger:    NewServiceLogger(logger, LogConfig{Service: "quiz", Component: "session"}),
		now:       time.Now,
		session:   models.NewQuizSession(),
	}
}

// ===== GENERATION =====

func (s *quizService) Generate(ctx context.Context, req *models.GenerateRequest, isVariation bool) (*models.QuizSession, error) {
	op := s.logger.WithOperation(ctx, "generate_quiz")
	session, err := s.generate(ctx, req, isVariation)
	title := ""
	if session != nil {
		title = session.Title
	}
	op.LogResult(title, "quiz", err)
	return session, err
}

func (s *quizService) generate(ctx context.Context, req *models.GenerateRequest, isVariation bool) (*models.QuizSession, error) {
	s.mu.Lock()
	if s.session.PageState == models.PageActive {
		page := s.session.PageState
		s.mu.Unlock()
		return nil, invalidTransition("generate", page)
	}

	var effective models.GenerateRequest
	if isVariation {
		if s.lastContext == nil {
			s.mu.Unlock()
			return nil, ErrNoContext
		}
		effective = s.lastContext.request
		effective.Image = effective.Image.Clone()
	} else {
		if req == nil {
			s.mu.Unlock()
			return nil, newValidationErrors("prompt", "requires a prompt, a document or an image", nil)
		}
		effective = req.WithDefaults()
	}
	s.mu.Unlock()

	if !isVariation {
		if err := s.validator.Validate(&effective); err != nil {
			return nil, err
		}
		image, err := prepareImage(effective.Image)
		if err != nil {
			return nil, newValidationErrors("image", err.Error(), effective.Image.Name)
		}
		effective.Image = image
	}

	parts := buildQuizPrompt(effective, isVariation)
	schema, err := buildQuizSchema(effective)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.genToken++
	token := s.genToken
	s.mu.Unlock()

	raw, genErr := s.generator.GenerateStructured(ctx, parts, schema)

	var quiz *generatedQuiz
	if genErr == nil {
		quiz, genErr = decodeGeneratedQuiz(raw, effective)
	}
	if genErr == nil {
		genErr = s.validator.Question().ValidateBatch(quiz.QuizData)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.genToken {
		return nil, ErrGenerationCancelled
	}
	if genErr != nil {
		return nil, classifyGenerationError("generate_quiz", genErr)
	}

	next, effects, err := applyGenerated(s.session, quiz, effective.Image, isVariation)
	if err != nil {
		return nil, err
	}
	if !isVariation {
		s.lastContext = &generationContext{request: effective}
	}
	if err := s.commit(ctx, next, effects); err != nil {
		return next.Clone(), err
	}
	return next.Clone(), nil
}

// classifyGenerationError keeps taxonomy errors and treats anything else
// from the backend as an outage.
func classifyGenerationError(operation string, err error) error {
	switch {
	case IsMalformedGeneration(err), IsServiceUnavailable(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("failed to %s: %w", operation, err)
	default:
		return &ServiceUnavailableError{Operation: operation, Err: err}
	}
}

func (s *quizService) CancelGeneration() {
	s.mu.Lock()
	s.genToken++
	s.mu.Unlock()
}

// ===== SESSION TRANSITIONS =====

func (s *quizService) Start(ctx context.Context) (*models.QuizSession, error) {
	return s.transition(ctx, "start_quiz", func(cur *models.QuizSession) (*models.QuizSession, []Effect, error) {
		return transitionStart(cur, s.now())
	})
}

func (s *quizService) SubmitAnswer(ctx context.Context, value *models.AnswerValue) (*models.Answer, error) {
	var index int
	session, err := s.transition(ctx, "submit_answer", func(cur *models.QuizSession) (*models.QuizSession, []Effect, error) {
		index = cur.CurrentIndex
		return transitionSubmit(cur, value)
	})
	if session == nil {
		return nil, err
	}
	return session.Answers[index].Clone(), err
}

func (s *quizService) Advance(ctx context.Context) (*models.QuizSession, error) {
	return s.transition(ctx, "advance_question", func(cur *models.QuizSession) (*models.QuizSession, []Effect, error) {
		return transitionAdvance(cur, s.now())
	})
}

func (s *quizService) Finish(ctx context.Context) (*models.QuizSession, error) {
	return s.transition(ctx, "finish_quiz", func(cur *models.QuizSession) (*models.QuizSession, []Effect, error) {
		return transitionFinish(cur, s.now())
	})
}

func (s *quizService) RetakeFrom(ctx context.Context, index int) (*models.QuizSession, error) {
	return s.transition(ctx, "retake_from", func(cur *models.QuizSession) (*models.QuizSession, []Effect, error) {
		return transitionRetakeFrom(cur, index, s.now())
	})
}

func (s *quizService) Retake(ctx context.Context) (*models.QuizSession, error) {
	return s.transition(ctx, "retake_quiz", transitionRetake)
}

func (s *quizService) ShowReview(ctx context.Context) (*models.QuizSession, error) {
	return s.transition(ctx, "show_review", transitionShowReview)
}

func (s *quizService) ShowResults(ctx context.Context) (*models.QuizSession, error) {
	return s.transition(ctx, "show_results", transitionShowResults)
}

func (s *quizService) ShowHistory(ctx context.Context) ([]models.HistoryEntry, error) {
	entries, err := s.repo.History().List(ctx)
	if err != nil {
		return nil, persistenceError("load", repositories.KeyHistory, err)
	}
	if _, err := s.transition(ctx, "show_history", transitionShowHistory); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *quizService) CloseHistory(ctx context.Context) (*models.QuizSession, error) {
	return s.transition(ctx, "close_history", transitionCloseHistory)
}

func (s *quizService) RetakeHistory(ctx context.Context, index int) (*models.QuizSession, error) {
	entries, err := s.repo.History().List(ctx)
	if err != nil {
		return nil, persistenceError("load", repositories.KeyHistory, err)
	}
	if index < 0 || index >= len(entries) {
		return nil, ErrHistoryEntryNotFound
	}
	entry := entries[index]
	return s.transition(ctx, "retake_history", func(cur *models.QuizSession) (*models.QuizSession, []Effect, error) {
		return transitionRetakeHistory(cur, entry)
	})
}

func (s *quizService) LoadQuiz(ctx context.Context, title string, questions []models.Question) (*models.QuizSession, error) {
	if err := s.validator.Question().ValidateBatch(questions); err != nil {
		return nil, err
	}
	return s.transition(ctx, "load_quiz", func(cur *models.QuizSession) (*models.QuizSession, []Effect, error) {
		return transitionLoad(cur, title, questions)
	})
}

func (s *quizService) NewQuiz(ctx context.Context) error {
	op := s.logger.WithOperation(ctx, "new_quiz")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.genToken++
	s.lastContext = nil
	next, effects := transitionNewQuiz()
	err := s.commit(ctx, next, effects)
	op.LogResult("", "quiz", err)
	return err
}

// transition runs fn under the lock and applies its effects. The returned
// session is a snapshot; a persistence failure still returns it alongside
// the error because the transition has committed.
func (s *quizService) transition(ctx context.Context, operation string, fn func(*models.QuizSession) (*models.QuizSession, []Effect, error)) (*models.QuizSession, error) {
	op := s.logger.WithOperation(ctx, operation)

	s.mu.Lock()
	defer s.mu.Unlock()

	next, effects, err := fn(s.session)
	if err != nil {
		op.LogResult(s.session.Title, "quiz", err)
		return nil, err
	}
	err = s.commit(ctx, next, effects)
	op.LogResult(next.Title, "quiz", err)
	return next.Clone(), err
}

// commit installs next and applies effects in order. Callers hold s.mu.
func (s *quizService) commit(ctx context.Context, next *models.QuizSession, effects []Effect) error {
	s.session = next

	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, effect := range effects {
		switch effect.Kind {
		case EffectPersistSession:
			if err := s.repo.Session().Save(ctx, next); err != nil {
				keep(persistenceError("save", repositories.KeySession, err))
			}
		case EffectClearSession:
			if err := s.repo.Session().Clear(ctx); err != nil {
				keep(persistenceError("clear", repositories.KeySession, err))
			}
		case EffectAppendHistory:
			if err := s.repo.History().Prepend(ctx, *effect.History); err != nil {
				keep(persistenceError("append", repositories.KeyHistory, err))
			}
		case EffectPublish:
			s.publish(ctx, effect.Event)
		}
	}
	return firstErr
}

func (s *quizService) publish(ctx context.Context, event *events.StudyEvent) {
	if s.publisher == nil || event == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Logger().Warn("Failed to publish quiz event",
			"event_type", event.Type,
			"error", err)
	}
}

// ===== RESUME =====

func (s *quizService) Resume(ctx context.Context) (*models.QuizSession, error) {
	op := s.logger.WithOperation(ctx, "resume_quiz")

	saved, err := s.repo.Session().Load(ctx)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			err = fmt.Errorf("no saved quiz: %w", ErrNotFound)
		} else {
			err = persistenceError("load", repositories.KeySession, err)
		}
		op.LogResult("", "quiz", err)
		return nil, err
	}

	saved.AlignAnswers()
	if !saved.PageState.IsValid() || saved.PageState == models.PageCreator || saved.PageState == models.PageHistory {
		saved.PageState = models.PageLanding
	}
	if saved.PageState == models.PageActive && saved.CurrentIndex >= len(saved.Questions) && len(saved.Questions) > 0 {
		saved.CurrentIndex = len(saved.Questions) - 1
	}
	if saved.Image != nil && !imageDecodes(saved.Image.Data) {
		s.logger.Logger().Warn("Dropping unreadable image from resumed quiz",
			"title", saved.Title,
			"image", saved.Image.Name)
		saved.Image = nil
	}
	saved.Resumed = true

	s.mu.Lock()
	s.genToken++
	s.session = saved
	snapshot := saved.Clone()
	s.mu.Unlock()

	op.LogResult(saved.Title, "quiz", nil)
	return snapshot, nil
}

// ===== READ-ONLY VIEWS =====

func (s *quizService) Session() *models.QuizSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

func (s *quizService) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Progress()
}

func (s *quizService) Score() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Score()
}

func (s *quizService) Elapsed(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Elapsed(now)
}

func (s *quizService) ExportAnki() (*AnkiExport, error) {
	s.mu.Lock()
	title, questions := s.session.Title, models.CloneQuestions(s.session.Questions)
	s.mu.Unlock()
	return buildAnkiExport(title, questions)
}

// ===== QUESTION ACTIONS =====

func (s *quizService) question(index int) (models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.session.Questions) {
		return models.Question{}, ErrQuestionIndexOutOfRange
	}
	return s.session.Questions[index].Clone(), nil
}

func (s *quizService) AddToRecall(ctx context.Context, index int) (*models.RecallItem, bool, error) {
	q, err := s.question(index)
	if err != nil {
		return nil, false, err
	}
	item, added, err := s.recall.AddItem(ctx, q)
	if err != nil {
		return nil, false, err
	}
	return &item, added, nil
}

func (s *quizService) LearnMore(ctx context.Context, index int) (*models.LearnMoreResources, error) {
	op := s.logger.WithOperation(ctx, "learn_more")

	q, err := s.question(index)
	if err != nil {
		op.LogResult("", "question", err)
		return nil, err
	}

	cacheKey := "learnmore:" + repositories.Digest([]byte(q.Text))
	if s.cache != nil {
		var cached models.LearnMoreResources
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			op.LogResult(cacheKey, "question", nil)
			return &cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Logger().Warn("Learn more cache lookup failed", "error", err)
		}
	}

	raw, err := s.generator.GenerateStructured(ctx,
		[]models.Part{models.TextPart(fmt.Sprintf(learnMorePrompt, q.Text))},
		learnMoreSchema())
	if err != nil {
		err = classifyGenerationError("learn_more", err)
		op.LogResult(cacheKey, "question", err)
		return nil, err
	}

	var resources models.LearnMoreResources
	if err := json.Unmarshal(raw, &resources); err != nil {
		err = &MalformedGenerationError{Index: -1, Reason: "payload is not a resource list", Err: err}
		op.LogResult(cacheKey, "question", err)
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, resources, learnMoreCacheTTL); err != nil {
			s.logger.Logger().Warn("Failed to cache learn more resources", "error", err)
		}
	}
	op.LogResult(cacheKey, "question", nil)
	return &resources, nil
}
