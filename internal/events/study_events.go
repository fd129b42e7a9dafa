package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents different types of study events
type EventType string

const (
	// Quiz events
	EventQuizGenerated EventType = "quiz.generated"
	EventQuizStarted   EventType = "quiz.started"
	EventQuizCompleted EventType = "quiz.completed"

	// Recall events
	EventRecallItemAdded EventType = "recall.item_added"
	EventRecallGraded    EventType = "recall.graded"

	// Chat events
	EventChatMessageSent EventType = "chat.message_sent"
)

const (
	eventSource  = "fullstudy"
	eventVersion = "1.0"
)

// StudyEvent is the envelope for everything the study core publishes.
type StudyEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Quiz event payloads

type QuizGeneratedEvent struct {
	Title         string `json:"title"`
	QuestionCount int    `json:"question_count"`
	Variation     bool   `json:"variation"`
	HasSummary    bool   `json:"has_summary"`
}

type QuizStartedEvent struct {
	Title         string    `json:"title"`
	QuestionCount int       `json:"question_count"`
	StartedAt     time.Time `json:"started_at"`
}

type QuizCompletedEvent struct {
	Title      string `json:"title"`
	Score      int    `json:"score"`
	Total      int    `json:"total"`
	Percentage string `json:"percentage"`
	TimeTaken  string `json:"time_taken"`
}

// Recall event payloads

type RecallItemAddedEvent struct {
	ItemID       string `json:"item_id"`
	QuestionType string `json:"question_type"`
	DeckSize     int    `json:"deck_size"`
}

type RecallGradedEvent struct {
	ItemID         string    `json:"item_id"`
	Outcome        string    `json:"outcome"`
	Interval       int       `json:"interval"`
	EaseFactor     float64   `json:"ease_factor"`
	NextReviewDate time.Time `json:"next_review_date"`
}

// Chat event payloads

type ChatMessageSentEvent struct {
	SessionID       string `json:"session_id"`
	MessageID       string `json:"message_id"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Regenerated     bool   `json:"regenerated"`
}

// NewStudyEvent wraps data in an envelope with a fresh id.
func NewStudyEvent(eventType EventType, data interface{}) *StudyEvent {
	return &StudyEvent{
		ID:        GenerateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    eventSource,
		Version:   eventVersion,
		Data:      data,
	}
}

// GenerateEventID returns a random UUID string.
func GenerateEventID() string {
	return uuid.NewString()
}
