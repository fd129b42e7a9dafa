package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

// ===== GENERATION SERVICE =====

// GenerationService is the external AI backend. Implementations live in
// internal/llm; tests use a testify mock.
type GenerationService interface {
	// GenerateStructured returns a JSON document conforming to schema.
	GenerateStructured(ctx context.Context, parts []models.Part, schema json.RawMessage) (json.RawMessage, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
	StartChat(ctx context.Context, req ChatRequest) (ChatStream, error)
}

// ChatRequest is one model turn: prior history plus the new user parts.
type ChatRequest struct {
	History           []models.ChatMessage
	Message           []models.Part
	SystemInstruction string
	Params            models.ChatParams
}

// ChatStream yields response chunks. Recv returns io.EOF after the last one.
type ChatStream interface {
	Recv() (string, error)
	Close() error
}

// ===== QUIZ =====

type QuizService interface {
	// Generate requests a new quiz. With isVariation the last successful
	// context is replayed and req is ignored.
	Generate(ctx context.Context, req *models.GenerateRequest, isVariation bool) (*models.QuizSession, error)
	// CancelGeneration discards the result of any generation in flight.
	CancelGeneration()

	Start(ctx context.Context) (*models.QuizSession, error)
	SubmitAnswer(ctx context.Context, value *models.AnswerValue) (*models.Answer, error)
	Advance(ctx context.Context) (*models.QuizSession, error)
	Finish(ctx context.Context) (*models.QuizSession, error)
	RetakeFrom(ctx context.Context, index int) (*models.QuizSession, error)
	Retake(ctx context.Context) (*models.QuizSession, error)
	ShowReview(ctx context.Context) (*models.QuizSession, error)
	ShowResults(ctx context.Context) (*models.QuizSession, error)

	ShowHistory(ctx context.Context) ([]models.HistoryEntry, error)
	CloseHistory(ctx context.Context) (*models.QuizSession, error)
	RetakeHistory(ctx context.Context, index int) (*models.QuizSession, error)

	NewQuiz(ctx context.Context) error
	// Resume rehydrates the last checkpoint. It returns ErrNotFound when
	// nothing was saved.
	Resume(ctx context.Context) (*models.QuizSession, error)
	LoadQuiz(ctx context.Context, title string, questions []models.Question) (*models.QuizSession, error)

	// Session returns a snapshot of the current state.
	Session() *models.QuizSession
	Progress() float64
	Score() int
	Elapsed(now time.Time) time.Duration

	ExportAnki() (*AnkiExport, error)
	AddToRecall(ctx context.Context, index int) (*models.RecallItem, bool, error)
	LearnMore(ctx context.Context, index int) (*models.LearnMoreResources, error)
}

// AnkiExport is a tab separated deck ready to be saved to disk.
type AnkiExport struct {
	FileName string
	Content  string
}

// ===== RECALL =====

type RecallService interface {
	// AddItem inserts q unless a structurally equal question is already in
	// the deck. The bool reports whether a new item was created.
	AddItem(ctx context.Context, q models.Question) (models.RecallItem, bool, error)
	Grade(ctx context.Context, id string, outcome models.Outcome) (models.RecallItem, error)
	DueItems(ctx context.Context, now time.Time) ([]models.RecallItem, error)
	Deck(ctx context.Context) ([]models.RecallItem, error)
	RemoveItem(ctx context.Context, id string) error
	Stats(ctx context.Context, now time.Time) (models.DeckStats, error)

	// StartReview snapshots the items due at now. Items becoming due later
	// are not admitted to the running review.
	StartReview(ctx context.Context, now time.Time) (*models.ReviewSession, error)
	// GradeReview grades the current card of the review and moves on.
	GradeReview(ctx context.Context, id string, outcome models.Outcome) (*models.ReviewSession, error)
	CurrentReview() *models.ReviewSession
}

// ===== CHAT =====

// SendRequest is a user turn. An empty SessionID starts a new session.
type SendRequest struct {
	SessionID         string               `json:"sessionId"`
	Text              string               `json:"text" validate:"max=200000"`
	Files             []*models.Attachment `json:"files,omitempty"`
	SystemInstruction string               `json:"systemInstruction" validate:"max=20000"`
}

// StreamHandler receives the model response as it arrives. Any callback may
// be nil.
type StreamHandler struct {
	OnChunk    func(chunk string)
	OnComplete func(message models.ChatMessage)
	OnError    func(err error)
}

type ChatService interface {
	Sessions(ctx context.Context) ([]models.ChatSession, error)
	Session(ctx context.Context, id string) (*models.ChatSession, error)
	// Send appends the user turn, streams the model answer and returns the
	// session it belongs to.
	Send(ctx context.Context, req *SendRequest, handler StreamHandler) (*models.ChatSession, error)
	Regenerate(ctx context.Context, sessionID, messageID string, handler StreamHandler) (*models.ChatSession, error)

	DeleteSession(ctx context.Context, id string) error
	PinSession(ctx context.Context, id string, pinned bool) error
	RenameSession(ctx context.Context, id, title string) error
	DeleteMessage(ctx context.Context, sessionID, messageID string) error
}

// ===== KNOWLEDGE BASES =====

type KnowledgeService interface {
	CreateBase(ctx context.Context, name, description string) (*models.KnowledgeBase, error)
	UpdateBase(ctx context.Context, id, name, description string) (*models.KnowledgeBase, error)
	DeleteBase(ctx context.Context, id string) error
	ListBases(ctx context.Context) ([]models.KnowledgeBase, error)

	AddItem(ctx context.Context, baseID string, input *models.KnowledgeItemInput) (*models.KnowledgeItem, error)
	RemoveItem(ctx context.Context, baseID, itemID string) error

	SetActive(ctx context.Context, ids []string) error
	ActiveBases(ctx context.Context) ([]models.KnowledgeBase, error)
	// ContextParts renders the active bases as prompt parts: one text part
	// first, followed by inline image parts.
	ContextParts(ctx context.Context) ([]models.Part, error)
}

// ===== SETTINGS & EXPORT =====

type SettingsService interface {
	Load(ctx context.Context) (models.Settings, error)
	Save(ctx context.Context, settings models.Settings) error
	Update(ctx context.Context, fn func(*models.Settings)) (models.Settings, error)
}

type ExportService interface {
	// ExportWorkbook writes history, recall deck and the current quiz as xlsx.
	ExportWorkbook(ctx context.Context) ([]byte, error)
	// ImportQuiz reads questions from an xlsx sheet and installs them as the
	// current quiz.
	ImportQuiz(ctx context.Context, title string, data []byte) (*models.QuizSession, error)
	// ExportBackup dumps every logical store as one JSON document.
	ExportBackup(ctx context.Context) ([]byte, error)
	RestoreBackup(ctx context.Context, data []byte) error
}
