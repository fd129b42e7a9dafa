package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ana-joker/FULLSTUDY/internal/cache"
	"github.com/ana-joker/FULLSTUDY/internal/events"
	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"github.com/ana-joker/FULLSTUDY/internal/repositories/memory"
	"github.com/ana-joker/FULLSTUDY/internal/validator"
)

func generateRequest() *models.GenerateRequest {
	return &models.GenerateRequest{
		Prompt:        "European capitals",
		NumQuestions:  3,
		QuestionTypes: []models.QuestionType{models.QuestionTypeMCQ},
	}
}

func (f *quizFixture) generateCapitals(t *testing.T) *models.QuizSession {
	t.Helper()
	f.generator.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Return(quizPayload(t, "Capitals", capitalsQuiz(), nil), nil).Once()
	session, err := f.service.Generate(context.Background(), generateRequest(), false)
	require.NoError(t, err)
	return session
}

func TestQuizService_EndToEndPerfectRun(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	session := f.generateCapitals(t)
	assert.LessOrEqual(t, len(session.Questions), 3)
	for _, q := range session.Questions {
		assert.Equal(t, models.QuestionTypeMCQ, q.QuestionType)
	}
	assert.Equal(t, models.PageLanding, session.PageState)

	_, err := f.service.Start(ctx)
	require.NoError(t, err)

	answer, err := f.service.SubmitAnswer(ctx, textValue("PARIS"))
	require.NoError(t, err)
	assert.True(t, answer.IsCorrect)
	assert.True(t, f.service.Session().Answers[0].IsCorrect)

	for _, correct := range []string{"rome", " Madrid "} {
		_, err = f.service.Advance(ctx)
		require.NoError(t, err)
		_, err = f.service.SubmitAnswer(ctx, textValue(correct))
		require.NoError(t, err)
	}
	f.clock.Advance(90 * time.Second)
	final, err := f.service.Advance(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.PageResults, final.PageState)
	assert.Equal(t, 3, f.service.Score())
	assert.Equal(t, 1.0, f.service.Progress())

	history, err := f.repo.History().List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "100.0", history[0].Percentage)
	assert.Equal(t, 3, history[0].Score)
	assert.Equal(t, "01:30", history[0].TimeTaken)

	_, err = f.repo.Session().Load(ctx)
	assert.True(t, repositories.IsNotFoundError(err), "finished run must not be resumable")

	assert.Len(t, f.publisher.EventsOfType(events.EventQuizGenerated), 1)
	assert.Len(t, f.publisher.EventsOfType(events.EventQuizStarted), 1)
	assert.Len(t, f.publisher.EventsOfType(events.EventQuizCompleted), 1)
}

func TestQuizService_GenerateWithoutSource(t *testing.T) {
	f := newQuizFixture(t)
	f.generateCapitals(t)
	before := f.service.Session()

	_, err := f.service.Generate(context.Background(), &models.GenerateRequest{NumQuestions: 3}, false)

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	after := f.service.Session()
	assert.Equal(t, before.Questions, after.Questions)
	assert.Equal(t, before.Answers, after.Answers)
	f.generator.AssertNumberOfCalls(t, "GenerateStructured", 1)
}

func TestQuizService_GenerateRejectsUnreadableImage(t *testing.T) {
	f := newQuizFixture(t)
	req := generateRequest()
	req.Image = &models.Attachment{Name: "notes.png", MimeType: "image/png", Data: []byte("not an image")}

	_, err := f.service.Generate(context.Background(), req, false)

	assert.True(t, IsValidation(err))
	f.generator.AssertNotCalled(t, "GenerateStructured", mock.Anything, mock.Anything, mock.Anything)
}

func TestQuizService_GenerateSendsImage(t *testing.T) {
	f := newQuizFixture(t)
	req := generateRequest()
	req.Prompt = ""
	req.Image = &models.Attachment{Name: "slide.png", MimeType: "image/png", Data: pngBytes(t, 4, 4)}

	f.generator.On("GenerateStructured", mock.Anything, mock.MatchedBy(func(parts []models.Part) bool {
		for _, p := range parts {
			if p.IsImage() {
				return true
			}
		}
		return false
	}), mock.Anything).Return(quizPayload(t, "Slide quiz", capitalsQuiz(), nil), nil).Once()

	session, err := f.service.Generate(context.Background(), req, false)

	require.NoError(t, err)
	require.NotNil(t, session.Image)
	assert.Equal(t, "slide.png", session.Image.Name)
	f.generator.AssertExpectations(t)
}

func TestQuizService_GenerateFailuresKeepSession(t *testing.T) {
	tests := []struct {
		name  string
		raw   json.RawMessage
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "service down",
			err:  errors.New("dial tcp: connection refused"),
			check: func(t *testing.T, err error) {
				assert.True(t, IsServiceUnavailable(err))
			},
		},
		{
			name: "empty quiz",
			raw:  json.RawMessage(`{"quizTitle":"Empty","quizData":[]}`),
			check: func(t *testing.T, err error) {
				assert.True(t, IsMalformedGeneration(err))
			},
		},
		{
			name: "wrong answer shape",
			raw:  json.RawMessage(`{"quizTitle":"Bad","quizData":[{"questionType":"Ordering","question":"Order","options":["a","b"],"correctAnswer":"a","explanation":""}]}`),
			check: func(t *testing.T, err error) {
				var malformed *MalformedGenerationError
				require.ErrorAs(t, err, &malformed)
				assert.Equal(t, 0, malformed.Index)
			},
		},
		{
			name: "not json",
			raw:  json.RawMessage(`"sorry"`),
			check: func(t *testing.T, err error) {
				assert.True(t, IsMalformedGeneration(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newQuizFixture(t)
			f.generateCapitals(t)
			before := f.service.Session()

			f.generator.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).Return(tt.raw, tt.err).Once()
			_, err := f.service.Generate(context.Background(), generateRequest(), false)

			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, before, f.service.Session())
		})
	}
}

func TestQuizService_LearningGoalRequiresSummary(t *testing.T) {
	f := newQuizFixture(t)
	req := generateRequest()
	req.LearningGoal = models.GoalLearning

	f.generator.On("GenerateStructured", mock.Anything, mock.Anything, mock.MatchedBy(func(schema json.RawMessage) bool {
		return strings.Contains(string(schema), `"summary"`)
	})).Return(quizPayload(t, "Capitals", capitalsQuiz(), nil), nil).Once()

	_, err := f.service.Generate(context.Background(), req, false)
	assert.True(t, IsMalformedGeneration(err))

	summary := "Capitals are where governments sit."
	f.generator.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Return(quizPayload(t, "Capitals", capitalsQuiz(), &summary), nil).Once()
	session, err := f.service.Generate(context.Background(), req, false)
	require.NoError(t, err)
	require.NotNil(t, session.Summary)
	assert.Equal(t, summary, *session.Summary)
}

func TestQuizService_Variation(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	_, err := f.service.Generate(ctx, nil, true)
	assert.ErrorIs(t, err, ErrNoContext)

	f.generateCapitals(t)

	f.generator.On("GenerateStructured", mock.Anything, mock.MatchedBy(func(parts []models.Part) bool {
		return len(parts) > 0 && strings.Contains(parts[0].Text, variationInstruction) &&
			strings.Contains(parts[0].Text, "European capitals")
	}), mock.Anything).Return(quizPayload(t, "Capitals II", capitalsQuiz()[:2], nil), nil).Once()

	session, err := f.service.Generate(ctx, &models.GenerateRequest{Prompt: "ignored"}, true)
	require.NoError(t, err)
	assert.Equal(t, "Capitals II", session.Title)
	f.generator.AssertExpectations(t)

	require.NoError(t, f.service.NewQuiz(ctx))
	_, err = f.service.Generate(ctx, nil, true)
	assert.ErrorIs(t, err, ErrNoContext)
}

func TestQuizService_GenerateRejectedWhileActive(t *testing.T) {
	f := newQuizFixture(t)
	f.generateCapitals(t)
	_, err := f.service.Start(context.Background())
	require.NoError(t, err)

	_, err = f.service.Generate(context.Background(), generateRequest(), false)

	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestQuizService_CancelGeneration(t *testing.T) {
	f := newQuizFixture(t)
	before := f.service.Session()

	f.generator.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { f.service.CancelGeneration() }).
		Return(quizPayload(t, "Capitals", capitalsQuiz(), nil), nil).Once()

	_, err := f.service.Generate(context.Background(), generateRequest(), false)

	assert.ErrorIs(t, err, ErrGenerationCancelled)
	assert.Equal(t, before, f.service.Session())
	assert.Empty(t, f.publisher.EventsOfType(events.EventQuizGenerated))
}

func TestQuizService_LatestGenerationWins(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{})
	f.generator.On("GenerateStructured", mock.Anything, mock.MatchedBy(func(parts []models.Part) bool {
		return strings.Contains(parts[0].Text, "slow topic")
	}), mock.Anything).Run(func(args mock.Arguments) {
		close(entered)
		<-release
	}).Return(quizPayload(t, "Slow", capitalsQuiz(), nil), nil).Once()
	f.generator.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Return(quizPayload(t, "Fast", capitalsQuiz(), nil), nil).Once()

	var wg sync.WaitGroup
	var slowErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		req := generateRequest()
		req.Prompt = "slow topic"
		_, slowErr = f.service.Generate(ctx, req, false)
	}()

	<-entered
	fast, err := f.service.Generate(ctx, generateRequest(), false)
	require.NoError(t, err)
	assert.Equal(t, "Fast", fast.Title)

	close(release)
	wg.Wait()
	assert.ErrorIs(t, slowErr, ErrGenerationCancelled)
	assert.Equal(t, "Fast", f.service.Session().Title)
}

func TestQuizService_ResumeRoundTrip(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()
	f.generateCapitals(t)
	_, err := f.service.Start(ctx)
	require.NoError(t, err)
	_, err = f.service.SubmitAnswer(ctx, textValue("Paris"))
	require.NoError(t, err)
	_, err = f.service.Advance(ctx)
	require.NoError(t, err)
	_, err = f.service.SubmitAnswer(ctx, textValue("Berlin"))
	require.NoError(t, err)
	saved := f.service.Session()

	restarted := NewQuizService(f.repo, f.generator, f.recall, nil, nil, validator.New(), testLogger())
	resumed, err := restarted.Resume(ctx)

	require.NoError(t, err)
	assert.Equal(t, saved.Questions, resumed.Questions)
	assert.Equal(t, saved.Answers, resumed.Answers)
	assert.Equal(t, saved.CurrentIndex, resumed.CurrentIndex)
	assert.Equal(t, saved.PageState, resumed.PageState)
	assert.True(t, resumed.Resumed)

	_, err = restarted.Advance(ctx)
	assert.NoError(t, err)
}

func TestQuizService_ResumeDropsCorruptImage(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	saved := installQuiz("With image", capitalsQuiz(), nil, &models.Attachment{
		Name: "diagram.png", MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G', 0x00},
	})
	require.NoError(t, f.repo.Session().Save(ctx, saved))

	resumed, err := f.service.Resume(ctx)

	require.NoError(t, err)
	assert.Nil(t, resumed.Image)
	assert.Equal(t, saved.Questions, resumed.Questions)
	assert.Equal(t, models.PageLanding, resumed.PageState)
}

func TestQuizService_ResumeDropsUndecodableImageEncoding(t *testing.T) {
	tests := []struct {
		name  string
		image string
	}{
		{"invalid base64", `{"name":"diagram.png","mimeType":"image/png","data":"%%%not-base64"}`},
		{"not an object", `"diagram.png"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newQuizFixture(t)
			ctx := context.Background()
			raw := `{"title":"With image","pageState":"active","currentIndex":0,` +
				`"questions":[{"questionType":"MCQ","question":"Capital of France?","options":["Paris","Rome"],"correctAnswer":"Paris"}],` +
				`"answers":[null],"image":` + tt.image + `}`
			require.NoError(t, f.repo.Store().Save(ctx, repositories.KeySession, []byte(raw)))

			resumed, err := f.service.Resume(ctx)

			require.NoError(t, err)
			assert.Nil(t, resumed.Image)
			assert.Equal(t, "With image", resumed.Title)
			require.Len(t, resumed.Questions, 1)
			assert.Equal(t, "Capital of France?", resumed.Questions[0].Text)
			assert.Equal(t, models.PageActive, resumed.PageState)
		})
	}
}

func TestQuizService_ResumeKeepsValidImage(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()
	image := &models.Attachment{Name: "diagram.png", MimeType: "image/png", Data: pngBytes(t, 2, 2)}
	require.NoError(t, f.repo.Session().Save(ctx, installQuiz("With image", capitalsQuiz(), nil, image)))

	resumed, err := f.service.Resume(ctx)

	require.NoError(t, err)
	require.NotNil(t, resumed.Image)
	assert.Equal(t, image.Data, resumed.Image.Data)
}

func TestQuizService_ResumeNothingSaved(t *testing.T) {
	f := newQuizFixture(t)

	_, err := f.service.Resume(context.Background())

	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestQuizService_ResumedLandingCanReview(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Session().Save(ctx, installQuiz("Saved", capitalsQuiz(), nil, nil)))

	_, err := f.service.Resume(ctx)
	require.NoError(t, err)

	review, err := f.service.ShowReview(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PageReview, review.PageState)
}

func TestQuizService_PersistenceFailureKeepsState(t *testing.T) {
	store := memory.NewStore()
	failing := &failingStore{Store: store, failSave: map[string]bool{repositories.KeySession: true}}
	repo := repositories.NewRepository(failing, store)
	logger := testLogger()
	generator := &MockGenerator{}
	svc := NewQuizService(repo, generator, NewRecallService(repo, nil, SchedulerConfig{}, logger), nil, nil, validator.New(), logger)
	ctx := context.Background()

	loaded, err := svc.LoadQuiz(ctx, "Capitals", capitalsQuiz())
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	require.NotNil(t, loaded)

	started, err := svc.Start(ctx)
	assert.True(t, IsPersistence(err))
	require.NotNil(t, started)
	assert.Equal(t, models.PageActive, svc.Session().PageState)

	answer, err := svc.SubmitAnswer(ctx, textValue("Paris"))
	assert.True(t, IsPersistence(err))
	require.NotNil(t, answer)
	assert.True(t, answer.IsCorrect)
}

func TestQuizService_History(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()
	f.generateCapitals(t)
	_, err := f.service.Start(ctx)
	require.NoError(t, err)
	_, err = f.service.SubmitAnswer(ctx, textValue("Paris"))
	require.NoError(t, err)
	_, err = f.service.Finish(ctx)
	require.NoError(t, err)

	_, err = f.service.ShowHistory(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition, "history opens from the creator page")

	require.NoError(t, f.service.NewQuiz(ctx))
	entries, err := f.service.ShowHistory(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "33.3", entries[0].Percentage)

	_, err = f.service.RetakeHistory(ctx, 5)
	assert.ErrorIs(t, err, ErrHistoryEntryNotFound)

	retaken, err := f.service.RetakeHistory(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, models.PageLanding, retaken.PageState)
	assert.Equal(t, "Capitals", retaken.Title)
	assert.Equal(t, 0, retaken.AnsweredCount())
}

func TestQuizService_RetakeFromPersists(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()
	_, err := f.service.LoadQuiz(ctx, "Capitals", capitalsQuiz())
	require.NoError(t, err)
	_, err = f.service.Start(ctx)
	require.NoError(t, err)
	for _, a := range []string{"Paris", "Rome", "Madrid"} {
		_, err = f.service.SubmitAnswer(ctx, textValue(a))
		require.NoError(t, err)
		_, err = f.service.Advance(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, models.PageResults, f.service.Session().PageState)

	session, err := f.service.RetakeFrom(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, session.CurrentIndex)
	assert.Equal(t, 2, session.AnsweredCount())

	saved, err := f.repo.Session().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PageActive, saved.PageState)
	assert.Equal(t, 2, saved.CurrentIndex)
}

func TestQuizService_AddToRecall(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()
	_, err := f.service.LoadQuiz(ctx, "Capitals", capitalsQuiz())
	require.NoError(t, err)

	item, added, err := f.service.AddToRecall(ctx, 1)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "Capital of Italy?", item.Question.Text)

	again, added, err := f.service.AddToRecall(ctx, 1)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, item.ID, again.ID)

	_, _, err = f.service.AddToRecall(ctx, 9)
	assert.ErrorIs(t, err, ErrQuestionIndexOutOfRange)
}

func TestQuizService_ExportAnki(t *testing.T) {
	f := newQuizFixture(t)
	_, err := f.service.ExportAnki()
	assert.ErrorIs(t, err, ErrNoQuestions)

	_, err = f.service.LoadQuiz(context.Background(), "Capitals: Europe!", capitalsQuiz())
	require.NoError(t, err)

	export, err := f.service.ExportAnki()
	require.NoError(t, err)
	assert.Equal(t, "Capitals_Europe_anki_export.txt", export.FileName)
	assert.Len(t, strings.Split(export.Content, "\n"), 3)
}

// memoryCache is a CacheService over a map.
type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = data
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.items[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *memoryCache) DeletePattern(ctx context.Context, pattern string) error {
	return nil
}

func TestQuizService_LearnMoreIsCached(t *testing.T) {
	f := newQuizFixture(t)
	f.service.cache = &memoryCache{items: make(map[string][]byte)}
	ctx := context.Background()
	_, err := f.service.LoadQuiz(ctx, "Capitals", capitalsQuiz())
	require.NoError(t, err)

	f.generator.On("GenerateStructured", mock.Anything, mock.MatchedBy(func(parts []models.Part) bool {
		return strings.Contains(parts[0].Text, "Capital of France?")
	}), mock.Anything).Return(json.RawMessage(`{
		"summary": "Paris has been the capital since 987.",
		"youtubeLinks": [{"title": "Paris history", "url": "https://youtube.com/watch?v=1"}],
		"articleLinks": [{"title": "Paris", "url": "https://en.wikipedia.org/wiki/Paris"}]
	}`), nil).Once()

	first, err := f.service.LearnMore(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Paris has been the capital since 987.", first.Summary)
	require.Len(t, first.YoutubeLinks, 1)

	second, err := f.service.LearnMore(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	f.generator.AssertNumberOfCalls(t, "GenerateStructured", 1)
}

func TestQuizService_LearnMoreServiceDown(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()
	_, err := f.service.LoadQuiz(ctx, "Capitals", capitalsQuiz())
	require.NoError(t, err)
	f.generator.On("GenerateStructured", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("quota exceeded")).Once()

	_, err = f.service.LearnMore(ctx, 0)

	assert.True(t, IsServiceUnavailable(err))
}
