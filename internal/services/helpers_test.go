package services

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ana-joker/FULLSTUDY/internal/events"
	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"github.com/ana-joker/FULLSTUDY/internal/repositories/memory"
	"github.com/ana-joker/FULLSTUDY/internal/validator"
)

// MockGenerator for testing
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateStructured(ctx context.Context, parts []models.Part, schema json.RawMessage) (json.RawMessage, error) {
	args := m.Called(ctx, parts, schema)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *MockGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockGenerator) StartChat(ctx context.Context, req ChatRequest) (ChatStream, error) {
	args := m.Called(ctx, req)
	stream, _ := args.Get(0).(ChatStream)
	return stream, args.Error(1)
}

// fakeStream replays chunks, then returns err (io.EOF when nil).
type fakeStream struct {
	mu     sync.Mutex
	chunks []string
	err    error
	closed bool
	// before is called ahead of every Recv.
	before func(i int)
	calls  int
}

func (s *fakeStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.before != nil {
		s.before(s.calls)
	}
	s.calls++
	if len(s.chunks) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// testClock is a settable clock shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type quizFixture struct {
	service   *quizService
	recall    *recallService
	generator *MockGenerator
	publisher *events.MockEventPublisher
	repo      repositories.Repository
	store     *memory.Store
	clock     *testClock
}

func newQuizFixture(t *testing.T) *quizFixture {
	t.Helper()
	store := memory.NewStore()
	repo := repositories.NewBackendRepository(store)
	logger := testLogger()
	publisher := events.NewMockEventPublisher(logger)
	generator := &MockGenerator{}
	clock := newTestClock()

	recall := NewRecallService(repo, publisher, SchedulerConfig{}, logger).(*recallService)
	recall.now = clock.Now
	quiz := NewQuizService(repo, generator, recall, publisher, nil, validator.New(), logger).(*quizService)
	quiz.now = clock.Now

	return &quizFixture{
		service:   quiz,
		recall:    recall,
		generator: generator,
		publisher: publisher,
		repo:      repo,
		store:     store,
		clock:     clock,
	}
}

// ===== QUESTION FIXTURES =====

func mcqQuestion(text, answer string, options ...string) models.Question {
	return models.Question{
		QuestionType:  models.QuestionTypeMCQ,
		Text:          text,
		Options:       options,
		CorrectAnswer: models.TextValue(answer),
		Explanation:   "Because **" + answer + "** is right.",
	}
}

func orderingQuestion(text string, order ...string) models.Question {
	return models.Question{
		QuestionType:  models.QuestionTypeOrdering,
		Text:          text,
		Options:       append([]string(nil), order...),
		CorrectAnswer: models.ItemsValue(order...),
		Explanation:   "That is the sequence.",
	}
}

func matchingQuestion(text string, pairs ...models.MatchPair) models.Question {
	answers := make([]string, len(pairs))
	prompts := make([]string, len(pairs))
	for i, p := range pairs {
		prompts[i] = p.Prompt
		answers[i] = p.Answer
	}
	return models.Question{
		QuestionType:  models.QuestionTypeMatching,
		Text:          text,
		Options:       prompts,
		MatchOptions:  answers,
		CorrectAnswer: models.PairsValue(pairs...),
		Explanation:   "Each item has one partner.",
	}
}

func capitalsQuiz() []models.Question {
	return []models.Question{
		mcqQuestion("Capital of France?", "Paris", "Paris", "Rome", "Madrid", "Berlin"),
		mcqQuestion("Capital of Italy?", "Rome", "Paris", "Rome", "Madrid", "Berlin"),
		mcqQuestion("Capital of Spain?", "Madrid", "Paris", "Rome", "Madrid", "Berlin"),
	}
}

func quizPayload(t *testing.T, title string, questions []models.Question, summary *string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(generatedQuiz{QuizTitle: title, QuizData: questions, Summary: summary})
	require.NoError(t, err)
	return raw
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func textValue(s string) *models.AnswerValue {
	v := models.TextValue(s)
	return &v
}

// failingStore wraps a Store and fails writes to the listed keys.
type failingStore struct {
	repositories.Store
	failSave map[string]bool
}

var errDiskFull = io.ErrShortWrite

func (s *failingStore) Save(ctx context.Context, key string, value []byte) error {
	if s.failSave[key] {
		return errDiskFull
	}
	return s.Store.Save(ctx, key, value)
}
